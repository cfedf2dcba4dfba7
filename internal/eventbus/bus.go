// Package eventbus publishes domain events to the external bus. Publishing
// is at-least-once: events are staged in the store outbox inside the command
// transaction and flushed here with bounded retry.
package eventbus

import (
	"context"
	"time"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
)

// Publisher delivers one event to the bus.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}

// RetryingPublisher wraps a Publisher with bounded retry and backoff for
// transient bus failures.
type RetryingPublisher struct {
	inner    Publisher
	attempts int
	backoff  time.Duration
	sleep    func(time.Duration)
}

// NewRetryingPublisher bounds retries around inner. attempts below 1 is
// treated as a single attempt.
func NewRetryingPublisher(inner Publisher, attempts int, backoff time.Duration) *RetryingPublisher {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingPublisher{inner: inner, attempts: attempts, backoff: backoff, sleep: time.Sleep}
}

// Publish attempts delivery, doubling the backoff between attempts.
func (p *RetryingPublisher) Publish(ctx context.Context, event domain.Event) error {
	var err error
	delay := p.backoff
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			p.sleep(delay)
			delay *= 2
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = p.inner.Publish(ctx, event); err == nil {
			return nil
		}
	}
	return err
}

// Close releases the wrapped publisher.
func (p *RetryingPublisher) Close() error { return p.inner.Close() }
