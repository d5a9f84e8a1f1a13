package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ariavoice/aria/internal/ports"
)

// HealthCheckConfig bounds each individual dependency probe.
type HealthCheckConfig struct {
	Timeout time.Duration
}

func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{Timeout: 5 * time.Second}
}

// Pinger is the database surface the health probes need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// connChecker reports a messaging client's link state.
type connChecker interface {
	Connected() bool
}

// loadChecker reports whether the synthesis model is resident.
type loadChecker interface {
	Loaded() bool
}

// HealthDeps are the probe targets. Nil entries report as down in the basic
// shape and are skipped in the detailed one.
type HealthDeps struct {
	DB      Pinger
	Bus     connChecker
	Log     connChecker
	Synth   loadChecker
	Streams ports.TranscriberFactory
}

type HealthHandler struct {
	config HealthCheckConfig
	deps   HealthDeps
}

func NewHealthHandler(deps HealthDeps) *HealthHandler {
	return &HealthHandler{
		config: DefaultHealthCheckConfig(),
		deps:   deps,
	}
}

// HealthResponse is the basic liveness shape. The endpoint always answers
// 200 so orchestrators can tell degraded from gone; the booleans tell the
// real story.
type HealthResponse struct {
	Status      string `json:"status"`
	Database    bool   `json:"database"`
	Bus         bool   `json:"bus"`
	ModelLoaded bool   `json:"model_loaded"`
}

type DetailedHealthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}

type ServiceHealth struct {
	Status    string  `json:"status"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// Handle serves GET /health.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Database:    h.databaseUp(r.Context()),
		Bus:         h.deps.Bus != nil && h.deps.Bus.Connected(),
		ModelLoaded: h.deps.Synth != nil && h.deps.Synth.Loaded(),
	}
	resp.Status = "healthy"
	if !resp.Database || !resp.Bus || !resp.ModelLoaded {
		resp.Status = "degraded"
	}

	respondJSON(w, resp, http.StatusOK)
}

func (h *HealthHandler) databaseUp(ctx context.Context) bool {
	if h.deps.DB == nil {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()
	return h.deps.DB.Ping(checkCtx) == nil
}

// HandleDetailed serves GET /health/detailed with per-dependency probes.
func (h *HealthHandler) HandleDetailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services := make(map[string]ServiceHealth)

	if h.deps.DB != nil {
		services["database"] = h.checkDatabase(ctx)
	}
	if h.deps.Bus != nil {
		services["bus"] = checkConnected(h.deps.Bus)
	}
	if h.deps.Log != nil {
		services["event_log"] = checkConnected(h.deps.Log)
	}
	if h.deps.Streams != nil {
		services["stt"] = h.checkSTT(ctx)
	}
	if h.deps.Synth != nil {
		services["tts"] = checkLoaded(h.deps.Synth)
	}

	resp := DetailedHealthResponse{
		Status:   calculateOverallStatus(services),
		Services: services,
	}

	statusCode := http.StatusOK
	if resp.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	respondJSON(w, resp, statusCode)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceHealth {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	err := h.deps.DB.Ping(checkCtx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		return ServiceHealth{Status: "unhealthy", LatencyMs: &latency, Error: &errMsg}
	}
	return ServiceHealth{Status: "healthy", LatencyMs: &latency}
}

func (h *HealthHandler) checkSTT(ctx context.Context) ServiceHealth {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	err := h.deps.Streams.Health(checkCtx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		return ServiceHealth{Status: "unhealthy", LatencyMs: &latency, Error: &errMsg}
	}
	return ServiceHealth{Status: "healthy", LatencyMs: &latency}
}

func checkConnected(c connChecker) ServiceHealth {
	if !c.Connected() {
		errMsg := "not connected"
		return ServiceHealth{Status: "unhealthy", Error: &errMsg}
	}
	return ServiceHealth{Status: "healthy"}
}

func checkLoaded(l loadChecker) ServiceHealth {
	if !l.Loaded() {
		errMsg := "model not loaded"
		return ServiceHealth{Status: "unhealthy", Error: &errMsg}
	}
	return ServiceHealth{Status: "healthy"}
}

// calculateOverallStatus: without the database the service cannot do its
// job; anything else down only degrades it.
func calculateOverallStatus(services map[string]ServiceHealth) string {
	status := "healthy"
	for name, svc := range services {
		if svc.Status != "unhealthy" {
			continue
		}
		if name == "database" {
			return "unhealthy"
		}
		status = "degraded"
	}
	return status
}
