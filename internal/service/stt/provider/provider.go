// Package provider selects the STT backend configured for the process.
package provider

import (
	"context"
	"fmt"

	"google.golang.org/api/option"

	"speech-relay-service/internal/config"
	"speech-relay-service/internal/service/stt"
	"speech-relay-service/internal/service/stt/deepgram"
	"speech-relay-service/internal/service/stt/google"
	"speech-relay-service/internal/service/stt/mock"
)

// New builds the process-wide adapter factory for cfg.STT.Provider.
func New(ctx context.Context, cfg *config.Config) (stt.Factory, error) {
	switch cfg.STT.Provider {
	case config.ProviderMock:
		gen := mock.NewGenerator(cfg.Mock.Threshold, cfg.Mock.Phrases, nil)
		return mock.NewFactory(gen), nil

	case config.ProviderDeepgram:
		dg := deepgram.DefaultConfig()
		dg.URL = cfg.Deepgram.URL
		dg.APIKey = cfg.Deepgram.APIKey
		dg.Encoding = cfg.STT.Encoding
		dg.SampleRate = cfg.STT.SampleRateHz
		dg.Channels = cfg.STT.Channels
		dg.Model = cfg.STT.Model
		dg.Language = cfg.STT.LanguageCode
		dg.Punctuate = cfg.STT.Punctuate
		dg.InterimResults = cfg.STT.InterimResults
		dg.CloseGrace = cfg.Deepgram.CloseGrace
		return deepgram.NewFactory(dg)

	case config.ProviderGoogle:
		gc := google.DefaultConfig()
		gc.AudioEncoding = cfg.STT.Encoding
		gc.SampleRateHz = cfg.STT.SampleRateHz
		gc.Channels = cfg.STT.Channels
		gc.Punctuate = cfg.STT.Punctuate
		gc.InterimResults = cfg.STT.InterimResults
		if cfg.STT.LanguageCode != "" {
			gc.LanguageCode = cfg.STT.LanguageCode
		}
		gc.Model = cfg.Google.Model

		var opts []option.ClientOption
		if cfg.Google.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Google.CredentialsFile))
		}
		f, err := google.NewFactory(ctx, gc, opts...)
		if err != nil {
			return nil, fmt.Errorf("create google speech client: %w", err)
		}
		return f, nil

	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}
}
