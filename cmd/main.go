package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	grpcapi "speech-relay-service/internal/api/grpc"
	"speech-relay-service/internal/api/ws"
	"speech-relay-service/internal/app"
	"speech-relay-service/internal/config"
	"speech-relay-service/internal/events"
	relayhttp "speech-relay-service/internal/http"
	"speech-relay-service/internal/observability"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/schema"
	"speech-relay-service/internal/service/bridge"
	"speech-relay-service/internal/service/stt/provider"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg := config.Load()
	application := app.New(cfg)

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Failed to load .env file")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, application); err != nil {
		log.Fatal().Err(err).Msg("Speech relay exited with error")
	}
}

func run(ctx context.Context, application *app.Application) error {
	cfg := application.Cfg
	m := metrics.DefaultMetrics

	factory, err := provider.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer factory.Close()

	publisher := events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
		Metrics:   m,
	})
	defer publisher.Close()

	sessions := ws.NewServer(factory, bridge.Options{
		Publisher: publisher,
		Validator: schema.New(),
		Metrics:   m,
		Limits: bridge.Limits{
			IdleTimeout:   cfg.Limits.IdleTimeout,
			MaxFrameBytes: cfg.Limits.MaxFrameBytes,
			MaxAudioBytes: cfg.Limits.MaxAudioBytes,
			MaxDuration:   cfg.Limits.MaxDuration,
		},
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           relayhttp.NewRouter(application, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var obs *observability.Server
	if cfg.Observability.MetricsAddr != "" {
		obs = observability.NewServer(cfg.Observability.MetricsAddr)
		obs.Start()
	}

	var healthSrv *grpcapi.HealthServer
	var grpcLis net.Listener
	if cfg.Service.GRPCPort != "" {
		grpcLis, err = net.Listen("tcp", ":"+cfg.Service.GRPCPort)
		if err != nil {
			return err
		}
		healthSrv = grpcapi.NewHealthServer(m)
	}

	if err := application.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", httpServer.Addr).
			Str("sttProvider", factory.Name()).
			Msg("Speech relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if healthSrv != nil {
		healthSrv.SetServing(true)
		g.Go(func() error {
			return healthSrv.Serve(grpcLis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdown(application, httpServer, sessions, healthSrv, obs)
		return nil
	})

	return g.Wait()
}

// shutdown drains in order: stop advertising readiness, stop accepting
// connections, close client sessions, then stop the auxiliary servers.
func shutdown(
	application *app.Application,
	httpServer *http.Server,
	sessions *ws.Server,
	healthSrv *grpcapi.HealthServer,
	obs *observability.Server,
) {
	application.Shutdown()
	if healthSrv != nil {
		healthSrv.SetServing(false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown does not track hijacked connections, so sessions are closed
	// separately.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	if err := sessions.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Client sessions did not drain in time")
	}

	if healthSrv != nil {
		healthSrv.Stop()
	}
	if obs != nil {
		if err := obs.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Observability server shutdown error")
		}
	}
	log.Info().Msg("Speech relay stopped")
}
