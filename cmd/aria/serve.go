package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/ariavoice/aria/internal/adapters/http"
	"github.com/ariavoice/aria/internal/adapters/natsbus"
	"github.com/ariavoice/aria/internal/adapters/postgres"
	"github.com/ariavoice/aria/internal/adapters/pulsarlog"
	"github.com/ariavoice/aria/internal/adapters/speech"
	"github.com/ariavoice/aria/internal/application/usecases"
	"github.com/ariavoice/aria/internal/llm"
	"github.com/ariavoice/aria/pkg/otel"
	"github.com/ariavoice/aria/shared/db"
	"github.com/ariavoice/aria/voice"
)

const (
	shutdownTimeout   = 30 * time.Second
	heartbeatInterval = 10 * time.Second
)

// serveCmd starts the agent core
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent core",
		Long: `Start the aria core process: the HTTP control surface, the
bus-facing brain worker and, when speech endpoints are configured, the
voice session manager.

Required configuration:
  - PostgreSQL (DB_URL)
  - NATS (BUS_EPHEMERAL_URL) and Pulsar (BUS_DURABLE_URL)
  - LLM endpoint (LLM_URL)

Optional:
  - Speech endpoints (STT_URL, TTS_URL); without both, voice sessions
    are unavailable and only the text lane is served.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer wires every adapter and runs until a signal or a server error.
func runServer(ctx context.Context) error {
	telemetry, err := otel.Init(otel.Config{
		ServiceName:  cfg.Service.Name,
		Environment:  cfg.Service.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Level:        cfg.Telemetry.SlogLevel(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := telemetry.Logger
	slog.SetDefault(logger)
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	logger.Info("starting aria core",
		"version", version,
		"environment", cfg.Service.Environment,
		"http", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"llm", cfg.LLM.URL,
	)

	// PostgreSQL is the one hard dependency; everything conversational
	// persists through it.
	pool, err := db.Connect(ctx, db.Config{URL: cfg.Database.URL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool, cfg.Embedding.Dimensions); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	logger.Info("database ready", "embedding_dimensions", cfg.Embedding.Dimensions)

	sessionRepo := postgres.NewSessionRepository(pool)
	turnRepo := postgres.NewTurnRepository(pool, cfg.Embedding.Dimensions)

	bus, err := natsbus.New(cfg.Bus.EphemeralURL, cfg.Service.Name, cfg.Bus.MaxReconnect, logger)
	if err != nil {
		return fmt.Errorf("failed to connect ephemeral bus: %w", err)
	}

	durableLog, err := pulsarlog.New(cfg.Bus.DurableURL, cfg.Service.Name, cfg.Bus.RedeliverMax, logger)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Close(closeCtx)
		return fmt.Errorf("failed to connect durable log: %w", err)
	}

	llmService := llm.NewService(llmClient, cfg.Embedding.Dimensions).
		WithEmbeddingClient(embedClient)
	reason := usecases.NewReason(turnRepo, llmService, llmService, durableLog, logger)

	// The brain responder serves reasoning to external frontends over the
	// request bus, sharing the pipeline with local voice sessions.
	responder := usecases.NewBrainResponder(reason, cfg.Service.Name, cfg.Service.AgentID, logger)
	brainSub, err := responder.Attach(bus)
	if err != nil {
		return fmt.Errorf("failed to attach brain responder: %w", err)
	}
	logger.Info("brain responder attached")

	// Speech is optional. Without both endpoints the process still serves
	// the text lane; with them the voice session manager comes up too.
	var (
		synth   *speech.Synthesizer
		streams *speech.RecognizerFactory
		manager *voice.Manager
	)
	if cfg.STT.URL != "" && cfg.TTS.URL != "" {
		synth = speech.NewSynthesizer(
			speech.NewClient(cfg.TTS.URL, cfg.TTS.APIKey),
			cfg.TTS.Model, cfg.TTS.Voice, cfg.TTS.MaxConcurrent, logger,
		)
		if err := synth.Start(ctx); err != nil {
			return fmt.Errorf("failed to warm synthesis engine: %w", err)
		}

		streams = speech.NewRecognizerFactory(
			speech.NewClient(cfg.STT.URL, cfg.STT.APIKey),
			cfg.STT.Model, cfg.STT.VADModelPath, cfg.Voice.STTTimeout, logger,
		)

		manager = voice.NewManager(voice.Deps{
			Sessions: sessionRepo,
			Log:      durableLog,
			Bus:      bus,
			Reason:   reason,
			Streams:  streams,
			Synth:    synth,
			Service:  cfg.Service.Name,
			AgentID:  cfg.Service.AgentID,
			Timeouts: voice.Timeouts{
				Turn:          cfg.Voice.TurnTimeout,
				Reason:        cfg.Voice.ReasonTimeout,
				STT:           cfg.Voice.STTTimeout,
				TTSFirstChunk: cfg.Voice.TTSFirstChunk,
			},
			Logger: logger,
		})
		logger.Info("voice sessions enabled", "stt", cfg.STT.URL, "tts", cfg.TTS.URL)
	} else {
		logger.Warn("speech endpoints not configured, voice sessions unavailable")
	}

	serverDeps := httpserver.Deps{
		Config: cfg,
		DB:     pool,
		Bus:    bus,
		Log:    durableLog,
		Reason: reason,
		Logger: logger,
	}
	if synth != nil {
		serverDeps.Synth = synth
	}
	if streams != nil {
		serverDeps.Streams = streams
	}
	server := httpserver.NewServer(serverDeps)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go heartbeatLoop(heartbeatCtx, bus, manager, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stopAll := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		stopHeartbeat()

		var firstErr error
		if err := server.Stop(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("http shutdown: %w", err)
		}
		if manager != nil {
			if err := manager.Close(shutdownCtx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("voice shutdown: %w", err)
			}
		}
		if err := brainSub.Unsubscribe(); err != nil {
			logger.Warn("brain responder detach failed", "error", err)
		}
		if err := bus.Close(shutdownCtx); err != nil {
			logger.Warn("ephemeral bus close failed", "error", err)
		}
		durableLog.Close()
		return firstErr
	}

	select {
	case err := <-serverErrors:
		stopErr := stopAll()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return stopErr
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		if err := stopAll(); err != nil {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	}
}

// heartbeatLoop announces liveness on the bus health subject. Consumers use
// active_sessions to balance room assignments across agent replicas.
func heartbeatLoop(ctx context.Context, bus *natsbus.Client, manager *voice.Manager, logger *slog.Logger) {
	start := time.Now()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := 0
			var turns int64
			if manager != nil {
				active = manager.ActiveSessions()
				turns = manager.TurnsTotal()
			}
			err := bus.PublishHeartbeat(ctx, "healthy", map[string]any{
				"uptime_s":        int64(time.Since(start).Seconds()),
				"active_sessions": active,
				"turns_total":     turns,
			})
			if err != nil {
				logger.Warn("heartbeat publish failed", "error", err)
			}
		}
	}
}
