// Package broker defines the event-channel contract connecting the
// intake boundary and the orchestrator: a request queue feeding the
// consumer and an outcome queue carrying terminal results.
//
// Implementations live in subpackages: amqp (RabbitMQ) for production
// and memory for tests and local development, mirroring each other the
// way a real backend and its in-memory twin should.
package broker

import (
	"context"
	"errors"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
)

// ErrReject signals that a consumed message is malformed and must be
// routed to the broker's dead-letter path rather than redelivered.
// Handlers wrap their parse/validation failures with it.
var ErrReject = errors.New("message rejected")

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("broker closed")

// RequestPublisher publishes request events from the intake boundary.
type RequestPublisher interface {
	// PublishRequest enqueues a request event. The returned error means
	// the event was not accepted by the broker; the intake boundary
	// surfaces this to the originator.
	PublishRequest(ctx context.Context, event api.RequestEvent) error
}

// OutcomePublisher publishes outcome events for downstream consumers.
// Deliveries are persistent: a broker restart must not lose published
// outcomes.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, event api.OutcomeEvent) error
}

// Handler processes one consumed request event. A nil return
// acknowledges the message. An error wrapping ErrReject rejects the
// message to the dead-letter path. Any other error is a consumer bug:
// the orchestrator converts every processing failure into an outcome
// and must not return it here.
type Handler func(ctx context.Context, event api.RequestEvent) error

// RequestConsumer dispatches request events to a handler, processing up
// to the configured prefetch bound concurrently.
type RequestConsumer interface {
	// Start begins consuming and returns immediately. Consumption stops
	// when ctx is cancelled.
	Start(ctx context.Context, handler Handler) error
}
