// Package protocol defines the message envelope and subject namespace shared
// by every service on both buses. All cross-service payloads carry the same
// metadata so that tracing, origin and temporal ordering stay uniform.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariavoice/aria/shared/id"
)

// ErrMalformedMessage is returned when inbound bytes cannot be decoded
// into an envelope.
var ErrMalformedMessage = errors.New("malformed message")

// Reserved metadata keys. Payload fields may not shadow them; on conflict
// the metadata value wins.
const (
	keyTimestamp = "timestamp"
	keyTraceID   = "trace_id"
	keyService   = "service"
	keyEventType = "event_type"
	keyError     = "error"
)

// Envelope wraps a domain payload with the metadata every inter-service
// message carries. Payload fields are merged flat at the top level of the
// encoded JSON object.
type Envelope struct {
	Timestamp time.Time
	TraceID   string
	Service   string
	EventType string
	Payload   map[string]any
}

// Option configures an envelope at wrap time.
type Option func(*Envelope)

// WithTraceID propagates an existing trace ID instead of generating one.
func WithTraceID(traceID string) Option {
	return func(e *Envelope) {
		if traceID != "" {
			e.TraceID = traceID
		}
	}
}

// WithEventType tags the envelope with an event type identifier.
func WithEventType(eventType string) Option {
	return func(e *Envelope) {
		e.EventType = eventType
	}
}

// Wrap builds an envelope around payload. The timestamp is server-assigned
// UTC; a fresh trace ID is generated when the caller supplies none.
func Wrap(service string, payload map[string]any, opts ...Option) *Envelope {
	e := &Envelope{
		Timestamp: time.Now().UTC(),
		Service:   service,
		Payload:   payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.TraceID == "" {
		e.TraceID = id.NewTrace()
	}
	return e
}

// WrapError builds an error envelope `{error: {kind, message}}` carrying the
// original trace ID, for replies that must surface a failure across the bus.
func WrapError(service, kind, message, traceID string) *Envelope {
	return Wrap(service, map[string]any{
		keyError: map[string]any{
			"kind":    kind,
			"message": message,
		},
	}, WithTraceID(traceID))
}

// Marshal encodes the envelope as a single flat JSON object: payload fields
// first, metadata merged over them.
func (e *Envelope) Marshal() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+4)
	for k, v := range e.Payload {
		out[k] = v
	}
	out[keyTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	out[keyTraceID] = e.TraceID
	out[keyService] = e.Service
	if e.EventType != "" {
		out[keyEventType] = e.EventType
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Parse decodes envelope bytes. Metadata keys are lifted out; everything
// else stays in Payload. Decode failures yield ErrMalformedMessage.
func Parse(data []byte) (*Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	e := &Envelope{Payload: raw}

	if ts, ok := raw[keyTimestamp].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed.UTC()
		}
		delete(raw, keyTimestamp)
	}
	if traceID, ok := raw[keyTraceID].(string); ok {
		e.TraceID = traceID
		delete(raw, keyTraceID)
	}
	if service, ok := raw[keyService].(string); ok {
		e.Service = service
		delete(raw, keyService)
	}
	if eventType, ok := raw[keyEventType].(string); ok {
		e.EventType = eventType
		delete(raw, keyEventType)
	}

	return e, nil
}

// Err returns the error info carried by an error envelope, or nil when the
// payload holds no error field.
func (e *Envelope) Err() *ErrorInfo {
	raw, ok := e.Payload[keyError]
	if !ok {
		return nil
	}
	info := &ErrorInfo{}
	switch v := raw.(type) {
	case map[string]any:
		if kind, ok := v["kind"].(string); ok {
			info.Kind = kind
		}
		if msg, ok := v["message"].(string); ok {
			info.Message = msg
		}
	case string:
		info.Message = v
	default:
		info.Message = fmt.Sprintf("%v", v)
	}
	return info
}

// ErrorInfo is the error shape crossing the bus inside error envelopes.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
