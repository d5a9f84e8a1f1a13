package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/shared/protocol"
)

type routeReason struct{}

func (r *routeReason) Execute(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error) {
	return &models.ReasoningResult{Reply: "pong", LatencyMs: 7}, nil
}

type routeSynth struct{}

func (r *routeSynth) Synthesize(ctx context.Context, text string) (<-chan models.SynthesisChunk, error) {
	ch := make(chan models.SynthesisChunk)
	close(ch)
	return ch, nil
}

func (r *routeSynth) SynthesizeWAV(ctx context.Context, text string) ([]byte, *models.SynthesisResult, error) {
	return []byte("RIFF"), &models.SynthesisResult{DurationMs: 100, SampleRate: 16000}, nil
}

func (r *routeSynth) Loaded() bool { return true }

type routeBus struct {
	up bool
}

func (b *routeBus) Publish(ctx context.Context, subject string, env *protocol.Envelope) error {
	return nil
}

func (b *routeBus) Request(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	return nil, nil
}

func (b *routeBus) Subscribe(subject, queue string, handler ports.BusHandler) (ports.Subscription, error) {
	return nil, nil
}

func (b *routeBus) PublishHeartbeat(ctx context.Context, status string, metrics map[string]any) error {
	return nil
}

func (b *routeBus) Connected() bool { return b.up }

func (b *routeBus) Close(ctx context.Context) error { return nil }

func serveRoute(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestServerRoutes(t *testing.T) {
	s := NewServer(Deps{
		Bus:    &routeBus{up: true},
		Reason: &routeReason{},
		Synth:  &routeSynth{},
	})

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{"GET", "/health", "", http.StatusOK},
		{"GET", "/health/detailed", "", http.StatusOK},
		{"GET", "/metrics", "", http.StatusOK},
		{"POST", "/chat", `{"user_id": "user-1", "text": "ping"}`, http.StatusOK},
		{"POST", "/tts", `{"text": "ping"}`, http.StatusOK},
		{"GET", "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := serveRoute(t, s, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestServerChatResponseShape(t *testing.T) {
	s := NewServer(Deps{Reason: &routeReason{}})

	rr := serveRoute(t, s, "POST", "/chat", `{"user_id": "user-1", "text": "ping"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		UserID    string `json:"user_id"`
		Text      string `json:"text"`
		LatencyMs int64  `json:"latency_ms"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.UserID != "user-1" || resp.Text != "pong" || resp.LatencyMs != 7 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestServerChatGatedByBusReadiness(t *testing.T) {
	s := NewServer(Deps{
		Bus:    &routeBus{up: false},
		Reason: &routeReason{},
	})

	rr := serveRoute(t, s, "POST", "/chat", `{"user_id": "user-1", "text": "ping"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with the bus disconnected, got %d", rr.Code)
	}
}

func TestServerTTSRouteAbsentWithoutSynth(t *testing.T) {
	s := NewServer(Deps{Reason: &routeReason{}})

	rr := serveRoute(t, s, "POST", "/tts", `{"text": "ping"}`)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a synthesizer wired, got %d", rr.Code)
	}
}
