// Transcript Viewer - live display of relayed transcripts.
// Consumes the relay's Kafka topic and pushes events to browsers over WebSocket.
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-relay-service/internal/models"
)

//go:embed static/*
var staticFiles embed.FS

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func newReader(brokers, topic, group string) *kafka.Reader {
	cfg := kafka.ReaderConfig{
		Brokers:  strings.Split(brokers, ","),
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if group != "" {
		cfg.GroupID = group
		cfg.StartOffset = kafka.LastOffset
	} else {
		// Partition reader without consumer group (works better through port-forward)
		cfg.Partition = 0
	}
	return kafka.NewReader(cfg)
}

func consumeKafka(ctx context.Context, hub *Hub, reader *kafka.Reader, group string) {
	defer reader.Close()

	if group == "" {
		// Show the last hour of messages
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
			log.Warn().Err(err).Msg("Failed to seek, reading from the current offset")
		}
	}

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		var event models.TranscriptEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Warn().Err(err).Msg("JSON unmarshal error")
			continue
		}

		log.Info().
			Str("sessionId", event.SessionID).
			Str("provider", event.Provider).
			Str("text", truncate(event.Text, 40)).
			Msg("Received transcript")
		hub.Broadcast(event)
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "speech.transcript.relayed", "Relayed transcript topic")
	group := flag.String("group", "", "Consumer group; empty reads partition 0 directly")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := NewHub()
	go consumeKafka(ctx, hub, newReader(*brokers, *topic, *group), *group)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatal().Err(err).Msg("Embedded static files missing")
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.Handle("/ws", hub)

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("url", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Str("topic", *topic).
		Msg("Transcript viewer starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
}
