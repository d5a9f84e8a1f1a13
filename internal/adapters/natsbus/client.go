// Package natsbus implements the ephemeral control-plane bus on NATS core.
// Messages are at-most-once; the durable log covers everything that has to
// survive a restart.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ariavoice/aria/internal/adapters/metrics"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/pkg/otel"
	"github.com/ariavoice/aria/shared/protocol"
)

const (
	connectTimeout = 10 * time.Second
	reconnectWait  = 2 * time.Second

	// DrainTimeout bounds how long Close waits for in-flight handlers
	// before the connection is torn down.
	DrainTimeout = 5 * time.Second

	tracerName = "aria.bus"
)

// Client is the NATS-backed ephemeral bus.
type Client struct {
	conn    *nats.Conn
	service string
	logger  *slog.Logger
	closed  chan struct{}
}

// New connects to the bus. The service name identifies this connection to
// the server and stamps every envelope the client emits.
func New(url, service string, maxReconnects int, logger *slog.Logger) (*Client, error) {
	c := &Client{
		service: service,
		logger:  logger.With("component", "natsbus"),
		closed:  make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name(service),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DrainTimeout(DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("bus reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(c.closed)
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	c.conn = conn
	c.logger.Info("bus connected", "url", conn.ConnectedUrl(), "service", service)
	return c, nil
}

// Publish sends an envelope to a subject, fire and forget.
func (c *Client) Publish(ctx context.Context, subject string, env *protocol.Envelope) error {
	if err := protocol.ValidateSubject(subject); err != nil {
		return err
	}
	if !c.conn.IsConnected() {
		return domain.ErrNotConnected
	}

	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: traceHeader(ctx)}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.BusPublishedTotal.WithLabelValues(subject).Inc()
	return nil
}

// Request sends an envelope and waits for a single reply. The timeout is
// mandatory so a dead responder can never hang a voice turn.
func (c *Client) Request(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	if err := protocol.ValidateSubject(subject); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: request timeout must be positive", domain.ErrInvalidInput)
	}
	if !c.conn.IsConnected() {
		return nil, domain.ErrNotConnected
	}

	data, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := c.conn.RequestMsgWithContext(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  traceHeader(ctx),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			metrics.BusRequestsTotal.WithLabelValues(subject, "timeout").Inc()
			return nil, fmt.Errorf("%w: no reply on %s within %s", domain.ErrTimeout, subject, timeout)
		}
		metrics.BusRequestsTotal.WithLabelValues(subject, "error").Inc()
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}

	reply, err := protocol.Parse(msg.Data)
	if err != nil {
		metrics.BusRequestsTotal.WithLabelValues(subject, "error").Inc()
		return nil, fmt.Errorf("decode reply on %s: %w", subject, err)
	}
	if ei := reply.Err(); ei != nil {
		metrics.BusRequestsTotal.WithLabelValues(subject, "remote_error").Inc()
		return nil, fmt.Errorf("%w: %s from %s: %s", domain.ErrRemoteError, ei.Kind, reply.Service, ei.Message)
	}

	metrics.BusRequestsTotal.WithLabelValues(subject, "ok").Inc()
	return reply, nil
}

// Subscribe registers a handler for a subject. A non-empty queue joins a
// queue group so replicas split the traffic instead of all receiving it.
func (c *Client) Subscribe(subject, queue string, handler ports.BusHandler) (ports.Subscription, error) {
	if err := protocol.ValidateSubject(subject); err != nil {
		return nil, err
	}

	cb := func(msg *nats.Msg) {
		c.dispatch(msg, handler)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.conn.Subscribe(subject, cb)
	} else {
		sub, err = c.conn.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	c.logger.Info("subscribed", "subject", subject, "queue", queue)
	return sub, nil
}

func (c *Client) dispatch(msg *nats.Msg, handler ports.BusHandler) {
	meta := make(map[string]string, len(msg.Header))
	for k, vs := range msg.Header {
		if len(vs) > 0 {
			meta[strings.ToLower(k)] = vs[0]
		}
	}

	ctx, span := otel.StartConsumeSpan(context.Background(), tracerName, protocol.SubjectLeaf(msg.Subject), meta)
	var err error
	defer func() { otel.EndSpan(span, err) }()

	env, err := protocol.Parse(msg.Data)
	if err != nil {
		metrics.WarningsTotal.WithLabelValues("bus").Inc()
		c.logger.Warn("dropping malformed bus message", "subject", msg.Subject, "error", err)
		c.respondError(msg, "", err)
		return
	}

	reply, err := c.invoke(ctx, env, handler)
	if err != nil {
		c.logger.Error("bus handler failed", "subject", msg.Subject, "event_type", env.EventType, "error", err)
		c.respondError(msg, env.TraceID, err)
		return
	}
	if reply == nil || msg.Reply == "" {
		return
	}

	data, merr := reply.Marshal()
	if merr != nil {
		c.logger.Error("encoding bus reply failed", "subject", msg.Subject, "error", merr)
		c.respondError(msg, env.TraceID, merr)
		return
	}
	if rerr := msg.Respond(data); rerr != nil {
		c.logger.Warn("bus reply failed", "subject", msg.Subject, "error", rerr)
	}
}

// invoke runs the handler, converting a panic into an error so one bad
// message cannot take the subscriber down.
func (c *Client) invoke(ctx context.Context, env *protocol.Envelope, handler ports.BusHandler) (reply *protocol.Envelope, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ErrorsTotal.WithLabelValues("bus_panic").Inc()
			c.logger.Error("bus handler panic",
				"event_type", env.EventType,
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, env)
}

// respondError sends an error envelope back to the requester. Plain
// publishes carry no reply subject, so the failure is only logged.
func (c *Client) respondError(msg *nats.Msg, traceID string, cause error) {
	if msg.Reply == "" {
		return
	}
	env := protocol.WrapError(c.service, domain.Kind(cause), cause.Error(), traceID)
	data, err := env.Marshal()
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("bus error reply failed", "subject", msg.Subject, "error", err)
	}
}

// PublishHeartbeat emits a liveness beacon on the health subject.
func (c *Client) PublishHeartbeat(ctx context.Context, status string, m map[string]any) error {
	payload, err := protocol.PayloadOf(protocol.Heartbeat{
		Service: c.service,
		Status:  status,
		Metrics: m,
	})
	if err != nil {
		return err
	}
	env := protocol.Wrap(c.service, payload, protocol.WithEventType("heartbeat"))
	return c.Publish(ctx, protocol.SubjectHeartbeat, env)
}

// Connected reports whether the connection is currently established.
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions so in-flight handlers finish, then closes the
// connection. Draining is bounded by DrainTimeout and the caller's context,
// whichever ends first.
func (c *Client) Close(ctx context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("drain: %w", err)
	}

	select {
	case <-c.closed:
		c.logger.Info("bus drained")
		return nil
	case <-ctx.Done():
		c.conn.Close()
		return ctx.Err()
	case <-time.After(DrainTimeout + time.Second):
		c.conn.Close()
		return fmt.Errorf("%w: drain did not finish within %s", domain.ErrTimeout, DrainTimeout)
	}
}

// traceHeader builds message headers from the context. Keys are written
// directly because ExtractMeta matches them case-sensitively and the
// textproto Set would recapitalize them.
func traceHeader(ctx context.Context) nats.Header {
	meta := otel.InjectMeta(ctx)
	if len(meta) == 0 {
		return nil
	}
	h := make(nats.Header, len(meta))
	for k, v := range meta {
		h[k] = []string{v}
	}
	return h
}
