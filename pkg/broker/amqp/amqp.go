// Package amqp implements the broker interfaces over RabbitMQ.
//
// Both queues are declared durable and outcome deliveries are
// persistent. The consumer acknowledges a message only after the
// handler returns, so a crash mid-processing causes redelivery
// (at-least-once). Malformed messages are negatively acknowledged
// without requeue, which routes them to the dead-letter path when the
// queue is configured with one.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqplib "github.com/rabbitmq/amqp091-go"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
	"github.com/edwaraco/carpetaCiudadana/pkg/broker"
	"github.com/edwaraco/carpetaCiudadana/pkg/observability"
)

// Config holds the RabbitMQ channel configuration.
type Config struct {
	// URL is the AMQP connection string.
	URL string

	// RequestQueue is the queue carrying inbound request events.
	// Default: "document.authentication.request.queue".
	RequestQueue string

	// OutcomeQueue is the queue carrying outcome events.
	// Default: "document.authenticated.response.queue".
	OutcomeQueue string

	// Prefetch bounds the number of unacknowledged deliveries in
	// flight, providing consumer-side backpressure. Default: 10.
	Prefetch int

	// Logger receives connection and delivery logs. If nil,
	// slog.Default is used.
	Logger *slog.Logger
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.RequestQueue == "" {
		c.RequestQueue = "document.authentication.request.queue"
	}
	if c.OutcomeQueue == "" {
		c.OutcomeQueue = "document.authenticated.response.queue"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Broker is a RabbitMQ-backed event channel pair.
type Broker struct {
	config  Config
	conn    *amqplib.Connection
	channel *amqplib.Channel

	mu     sync.Mutex
	closed bool
}

// Interface conformance.
var (
	_ broker.RequestPublisher = (*Broker)(nil)
	_ broker.OutcomePublisher = (*Broker)(nil)
	_ broker.RequestConsumer  = (*Broker)(nil)
)

// Dial connects to RabbitMQ and declares both queues durable.
func Dial(cfg Config) (*Broker, error) {
	cfg.applyDefaults()

	conn, err := amqplib.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	for _, queue := range []string{cfg.RequestQueue, cfg.OutcomeQueue} {
		if _, err := channel.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("declaring queue %q: %w", queue, err)
		}
	}

	cfg.Logger.Info("connected to RabbitMQ",
		"request_queue", cfg.RequestQueue,
		"outcome_queue", cfg.OutcomeQueue)

	return &Broker{config: cfg, conn: conn, channel: channel}, nil
}

// PublishRequest publishes a request event to the request queue.
func (b *Broker) PublishRequest(ctx context.Context, event api.RequestEvent) error {
	return b.publish(ctx, b.config.RequestQueue, event)
}

// PublishOutcome publishes an outcome event to the outcome queue.
func (b *Broker) PublishOutcome(ctx context.Context, event api.OutcomeEvent) error {
	return b.publish(ctx, b.config.OutcomeQueue, event)
}

// publish serializes payload and publishes it persistently to the
// default exchange with the queue name as routing key.
func (b *Broker) publish(ctx context.Context, queue string, payload any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	b.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	err = b.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqplib.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqplib.Persistent,
			MessageId:    uuid.NewString(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing to %q: %w", queue, err)
	}
	return nil
}

// Start consumes request events until ctx is cancelled. Deliveries are
// dispatched on goroutines bounded by the prefetch limit; each message
// is acknowledged only after the handler returns.
func (b *Broker) Start(ctx context.Context, handler broker.Handler) error {
	if err := b.channel.Qos(b.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}

	deliveries, err := b.channel.ConsumeWithContext(ctx,
		b.config.RequestQueue,
		"",    // consumer tag
		false, // auto-ack: acknowledgment happens after processing
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	go b.dispatch(ctx, deliveries, handler)

	b.config.Logger.Info("consumer started",
		"queue", b.config.RequestQueue,
		"prefetch", b.config.Prefetch)
	return nil
}

// dispatch fans deliveries out to the handler. The broker's prefetch
// limit already bounds concurrency: no more than Prefetch deliveries
// are unacknowledged at once.
func (b *Broker) dispatch(ctx context.Context, deliveries <-chan amqplib.Delivery, handler broker.Handler) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				b.config.Logger.Info("deliveries channel closed")
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleDelivery(ctx, delivery, handler)
			}()
		}
	}
}

// handleDelivery decodes one delivery, runs the handler, and settles
// the acknowledgment.
func (b *Broker) handleDelivery(ctx context.Context, delivery amqplib.Delivery, handler broker.Handler) {
	observability.ConsumerInflight.Inc()
	defer observability.ConsumerInflight.Dec()

	// A panicking handler must not take the consumer process down.
	// Ack like the unexpected-error branch: redelivering would panic
	// again forever.
	defer func() {
		if r := recover(); r != nil {
			b.config.Logger.Error("recovered panic in delivery handler",
				"message_id", delivery.MessageId, "panic", r)
			if ackErr := delivery.Ack(false); ackErr != nil {
				b.config.Logger.Error("acknowledging message",
					"message_id", delivery.MessageId, "error", ackErr)
			}
		}
	}()

	var event api.RequestEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		b.config.Logger.Error("invalid JSON in request message",
			"message_id", delivery.MessageId, "error", err)
		b.reject(delivery)
		return
	}

	err := handler(ctx, event)
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			b.config.Logger.Error("acknowledging message",
				"message_id", delivery.MessageId, "error", ackErr)
		}
	case errors.Is(err, broker.ErrReject):
		b.config.Logger.Error("rejecting malformed request event",
			"message_id", delivery.MessageId, "error", err)
		b.reject(delivery)
	default:
		// The orchestrator converts every processing failure into an
		// outcome, so this branch indicates a handler bug. Ack anyway:
		// redelivering would loop forever.
		b.config.Logger.Error("handler returned unexpected error",
			"message_id", delivery.MessageId, "error", err)
		if ackErr := delivery.Ack(false); ackErr != nil {
			b.config.Logger.Error("acknowledging message",
				"message_id", delivery.MessageId, "error", ackErr)
		}
	}
}

// reject negatively acknowledges without requeue, routing the message
// to the dead-letter path when configured.
func (b *Broker) reject(delivery amqplib.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		b.config.Logger.Error("rejecting message",
			"message_id", delivery.MessageId, "error", err)
	}
}

// Close shuts the channel and connection down.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	b.config.Logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}
