// Package memory provides a channel-backed implementation of the broker
// interfaces for tests and local development.
//
// The Broker carries request events over a buffered channel and records
// published outcomes for inspection. Semantics intentionally follow the
// AMQP implementation: the consumer bounds concurrency with a prefetch
// limit and rejected messages land on a dead-letter slice instead of
// being redelivered.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
	"github.com/edwaraco/carpetaCiudadana/pkg/broker"
)

// Interface conformance.
var (
	_ broker.RequestPublisher = (*Broker)(nil)
	_ broker.OutcomePublisher = (*Broker)(nil)
	_ broker.RequestConsumer  = (*Broker)(nil)
)

// Broker is an in-process event channel pair.
type Broker struct {
	requests chan api.RequestEvent
	prefetch int

	mu         sync.Mutex
	outcomes   []api.OutcomeEvent
	deadLetter []api.RequestEvent
	closed     bool

	// outcomeWaiters are signalled on every published outcome.
	outcomeCond *sync.Cond

	// PublishOutcomeErr, when set, makes PublishOutcome fail. Tests use
	// it to exercise the orchestrator's publish-failure path.
	PublishOutcomeErr error
}

// New creates a memory broker with the given queue capacity and
// prefetch bound.
func New(capacity, prefetch int) *Broker {
	if prefetch <= 0 {
		prefetch = 10
	}
	b := &Broker{
		requests: make(chan api.RequestEvent, capacity),
		prefetch: prefetch,
	}
	b.outcomeCond = sync.NewCond(&b.mu)
	return b
}

// PublishRequest enqueues a request event.
func (b *Broker) PublishRequest(ctx context.Context, event api.RequestEvent) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return broker.ErrClosed
	}

	select {
	case b.requests <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutcome records an outcome event.
func (b *Broker) PublishOutcome(ctx context.Context, event api.OutcomeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.PublishOutcomeErr != nil {
		return b.PublishOutcomeErr
	}
	if b.closed {
		return broker.ErrClosed
	}
	b.outcomes = append(b.outcomes, event)
	b.outcomeCond.Broadcast()
	return nil
}

// Start consumes request events until ctx is cancelled, dispatching to
// handler with at most the prefetch bound in flight.
func (b *Broker) Start(ctx context.Context, handler broker.Handler) error {
	slots := make(chan struct{}, b.prefetch)

	go func() {
		var wg sync.WaitGroup
		defer wg.Wait()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-b.requests:
				if !ok {
					return
				}
				slots <- struct{}{}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-slots }()

					if err := handler(ctx, event); errors.Is(err, broker.ErrReject) {
						b.mu.Lock()
						b.deadLetter = append(b.deadLetter, event)
						b.mu.Unlock()
					}
				}()
			}
		}
	}()

	return nil
}

// Outcomes returns a copy of the published outcome events.
func (b *Broker) Outcomes() []api.OutcomeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]api.OutcomeEvent, len(b.outcomes))
	copy(out, b.outcomes)
	return out
}

// WaitForOutcomes blocks until at least n outcomes have been published
// or ctx is done, returning the outcomes seen.
func (b *Broker) WaitForOutcomes(ctx context.Context, n int) []api.OutcomeEvent {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		b.mu.Lock()
		b.outcomeCond.Broadcast()
		b.mu.Unlock()
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.outcomes) < n && ctx.Err() == nil {
		b.outcomeCond.Wait()
	}
	close(done)

	out := make([]api.OutcomeEvent, len(b.outcomes))
	copy(out, b.outcomes)
	return out
}

// DeadLetter returns a copy of the rejected request events.
func (b *Broker) DeadLetter() []api.RequestEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]api.RequestEvent, len(b.deadLetter))
	copy(out, b.deadLetter)
	return out
}

// Close stops accepting publications.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.requests)
	}
}
