// Package http serves the synchronous control surface: /chat for text-only
// turns, /tts for raw synthesis, plus health and metrics.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ariavoice/aria/internal/adapters/http/handlers"
	"github.com/ariavoice/aria/internal/adapters/http/middleware"
	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/pkg/otel"
)

// Deps carry the adapter handles the HTTP surface serves from. Nil handles
// disable their endpoint or report as down in health.
type Deps struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	Bus     ports.EphemeralBus
	Log     ports.DurableLog
	Reason  ports.ReasonUseCase
	Synth   ports.Synthesizer
	Streams ports.TranscriberFactory
	Logger  *slog.Logger
}

type Server struct {
	deps       Deps
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
}

func NewServer(deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		logger: deps.Logger.With("component", "http"),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.Metrics)
	r.Use(otel.Middleware(s.deps.Config.Service.Name))

	healthDeps := handlers.HealthDeps{
		Bus:     s.deps.Bus,
		Log:     s.deps.Log,
		Synth:   s.deps.Synth,
		Streams: s.deps.Streams,
	}
	if s.deps.DB != nil {
		healthDeps.DB = s.deps.DB
	}
	healthHandler := handlers.NewHealthHandler(healthDeps)
	r.Get("/health", healthHandler.Handle)
	r.Get("/health/detailed", healthHandler.HandleDetailed)
	r.Handle("/metrics", promhttp.Handler())

	chatHandler := handlers.NewChatHandler(s.deps.Reason, s.deps.Config.Service.AgentID, s.ready, s.logger)
	r.Post("/chat", chatHandler.Handle)

	if s.deps.Synth != nil {
		ttsHandler := handlers.NewTTSHandler(s.deps.Synth)
		r.Post("/tts", ttsHandler.Synthesize)
	}

	s.router = r
}

// ready gates /chat on the dependencies a turn cannot run without.
func (s *Server) ready() bool {
	if s.deps.Bus != nil && !s.deps.Bus.Connected() {
		return false
	}
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			return false
		}
	}
	return true
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// Synthesis responses can legitimately take a while to render.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("http server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
