// Package pulsarlog implements the durable event log on Apache Pulsar.
// Everything here is at-least-once: producers batch and compress, consumers
// ack or nack, and exhausted redeliveries land on the topic's DLQ.
package pulsarlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/sony/gobreaker"

	"github.com/ariavoice/aria/internal/adapters/metrics"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/pkg/otel"
	"github.com/ariavoice/aria/shared/protocol"
)

const (
	operationTimeout  = 30 * time.Second
	connectionTimeout = 10 * time.Second

	// batchingMaxDelay trades up to this much publish latency for fewer
	// broker round trips.
	batchingMaxDelay = 100 * time.Millisecond

	// TopicConversations carries ordered per-session conversation events.
	TopicConversations = "persistent://aria/events/conversations"

	// TopicAuditLogs carries per-user audit records.
	TopicAuditLogs = "persistent://aria/audit/logs"

	analyticsNamespace = "persistent://aria/analytics"

	tracerName = "aria.log"
)

// AnalyticsTopic returns the topic for one analytics metric stream.
func AnalyticsTopic(metric string) string {
	return analyticsNamespace + "/" + metric
}

// Client is the Pulsar-backed durable log. Producers are created lazily and
// cached per topic.
type Client struct {
	client       pulsar.Client
	service      string
	redeliverMax uint32
	breaker      *gobreaker.CircuitBreaker
	logger       *slog.Logger

	mu        sync.Mutex
	producers map[string]pulsar.Producer
	consumers []*logConsumer
	closed    bool
}

// New connects to the Pulsar cluster. redeliverMax bounds how many times a
// nacked message is redelivered before it routes to the dead letter topic.
func New(url, service string, redeliverMax int, logger *slog.Logger) (*Client, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               url,
		OperationTimeout:  operationTimeout,
		ConnectionTimeout: connectionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	if redeliverMax < 1 {
		redeliverMax = 3
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pulsar",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
	})

	c := &Client{
		client:       client,
		service:      service,
		redeliverMax: uint32(redeliverMax),
		breaker:      breaker,
		logger:       logger.With("component", "pulsarlog"),
		producers:    make(map[string]pulsar.Producer),
	}
	c.logger.Info("durable log connected", "url", url, "service", service)
	return c, nil
}

// producer returns the cached producer for a topic, creating it on first
// use. The producer name makes the writing service visible in topic stats.
func (c *Client) producer(topic string) (pulsar.Producer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, domain.ErrNotConnected
	}
	if p, ok := c.producers[topic]; ok {
		return p, nil
	}

	p, err := c.client.CreateProducer(pulsar.ProducerOptions{
		Topic:                   topic,
		Name:                    c.service + "-" + topicLeaf(topic),
		CompressionType:         pulsar.LZ4,
		BatchingMaxPublishDelay: batchingMaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create producer for %s: %v", domain.ErrProducerError, topic, err)
	}

	c.producers[topic] = p
	c.logger.Info("created producer", "topic", topic)
	return p, nil
}

// Produce appends an envelope to a topic. A non-empty key gives all messages
// sharing it a total order within the topic.
func (c *Client) Produce(ctx context.Context, topic, key string, env *protocol.Envelope) error {
	p, err := c.producer(topic)
	if err != nil {
		return err
	}

	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return p.Send(ctx, &pulsar.ProducerMessage{
			Payload:    data,
			Key:        key,
			Properties: c.messageProps(ctx, env),
		})
	})
	if err != nil {
		return fmt.Errorf("%w: produce to %s: %v", domain.ErrProducerError, topic, err)
	}

	metrics.LogProducedTotal.WithLabelValues(topic).Inc()
	return nil
}

// messageProps builds the broker-visible properties for one envelope: the
// trace meta of the calling context plus trace_id, service and event_type.
func (c *Client) messageProps(ctx context.Context, env *protocol.Envelope) map[string]string {
	props := otel.InjectMeta(ctx)
	props["trace_id"] = env.TraceID
	props["service"] = c.service
	if env.EventType != "" {
		props["event_type"] = env.EventType
	}
	return props
}

// Consume attaches a shared subscription to a topic and dispatches messages
// to the handler until the returned consumer is closed. A handler error
// nacks the message; after redeliverMax redeliveries it lands on
// <topic>-dlq.
func (c *Client) Consume(topic, subscription string, handler ports.LogHandler) (ports.LogConsumer, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	c.mu.Unlock()

	consumer, err := c.client.Subscribe(pulsar.ConsumerOptions{
		Topic:                       topic,
		SubscriptionName:            subscription,
		Name:                        c.service + "-" + subscription,
		Type:                        pulsar.Shared,
		SubscriptionInitialPosition: pulsar.SubscriptionPositionLatest,
		DLQ: &pulsar.DLQPolicy{
			MaxDeliveries:   c.redeliverMax,
			DeadLetterTopic: topic + "-dlq",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s on %s: %w", subscription, topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc := &logConsumer{
		consumer: consumer,
		topic:    topic,
		logger:   c.logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, lc)
	c.mu.Unlock()

	go lc.run(ctx, handler)
	c.logger.Info("consuming", "topic", topic, "subscription", subscription)
	return lc, nil
}

// ProduceConversationEvent appends a session-keyed event to the conversation
// stream so every consumer sees one session's events in order.
func (c *Client) ProduceConversationEvent(ctx context.Context, sessionID, eventType string, payload map[string]any) error {
	env := protocol.Wrap(c.service, payload, protocol.WithEventType(eventType))
	return c.Produce(ctx, TopicConversations, sessionID, env)
}

// ProduceAnalytics appends an unkeyed measurement to the metric's topic.
func (c *Client) ProduceAnalytics(ctx context.Context, metric string, payload map[string]any) error {
	env := protocol.Wrap(c.service, payload, protocol.WithEventType("analytics_"+metric))
	return c.Produce(ctx, AnalyticsTopic(metric), "", env)
}

// ProduceAudit appends a user-keyed audit record.
func (c *Client) ProduceAudit(ctx context.Context, userID, action, resource string, detail map[string]any) error {
	payload, err := protocol.PayloadOf(protocol.AuditEntry{
		UserID:   userID,
		Action:   action,
		Resource: resource,
	})
	if err != nil {
		return err
	}
	for k, v := range detail {
		if _, taken := payload[k]; !taken {
			payload[k] = v
		}
	}

	env := protocol.Wrap(c.service, payload, protocol.WithEventType("audit_log"))
	return c.Produce(ctx, TopicAuditLogs, userID, env)
}

// Connected reports whether the client is still open. The Go client manages
// broker connections internally, so this tracks lifecycle, not sockets.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close flushes and closes all producers and consumers, then the client.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	producers := c.producers
	consumers := c.consumers
	c.producers = nil
	c.consumers = nil
	c.mu.Unlock()

	for _, lc := range consumers {
		lc.Close()
	}
	for topic, p := range producers {
		if err := p.Flush(); err != nil {
			c.logger.Warn("flush failed", "topic", topic, "error", err)
		}
		p.Close()
	}
	c.client.Close()
	c.logger.Info("durable log closed")
}

// logConsumer owns one subscription's receive loop.
type logConsumer struct {
	consumer pulsar.Consumer
	topic    string
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	closeOnce sync.Once
}

func (lc *logConsumer) run(ctx context.Context, handler ports.LogHandler) {
	defer close(lc.done)
	for {
		msg, err := lc.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			lc.logger.Error("receive failed", "topic", lc.topic, "error", err)
			return
		}
		lc.handle(ctx, msg, handler)
	}
}

func (lc *logConsumer) handle(ctx context.Context, msg pulsar.Message, handler ports.LogHandler) {
	hctx, span := otel.StartConsumeSpan(ctx, tracerName, topicLeaf(lc.topic), msg.Properties())

	env, err := protocol.Parse(msg.Payload())
	if err != nil {
		lc.logger.Error("malformed log message", "topic", lc.topic, "redelivery", msg.RedeliveryCount(), "error", err)
		lc.nack(msg)
		otel.EndSpan(span, err)
		return
	}

	if err := lc.invoke(hctx, env, handler); err != nil {
		lc.logger.Warn("log handler failed",
			"topic", lc.topic,
			"event_type", env.EventType,
			"redelivery", msg.RedeliveryCount(),
			"error", err)
		lc.nack(msg)
		otel.EndSpan(span, err)
		return
	}

	if err := lc.consumer.Ack(msg); err != nil {
		lc.logger.Warn("ack failed", "topic", lc.topic, "error", err)
	}
	otel.EndSpan(span, nil)
}

// invoke runs the handler, converting a panic into an error so the message
// is nacked and redelivered instead of killing the receive loop.
func (lc *logConsumer) invoke(ctx context.Context, env *protocol.Envelope, handler ports.LogHandler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			lc.logger.Error("log handler panic",
				"topic", lc.topic,
				"event_type", env.EventType,
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, env)
}

func (lc *logConsumer) nack(msg pulsar.Message) {
	lc.consumer.Nack(msg)
	metrics.LogNacksTotal.WithLabelValues(lc.topic).Inc()
}

// Close stops the receive loop and closes the subscription.
func (lc *logConsumer) Close() {
	lc.closeOnce.Do(func() {
		lc.cancel()
		lc.consumer.Close()
		<-lc.done
	})
}

func topicLeaf(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
