package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/docker/keytrail/pkg/event"
	"github.com/docker/keytrail/pkg/queue"
	"github.com/docker/keytrail/pkg/stats"
	"github.com/docker/keytrail/pkg/transport"
)

// Sender delivers one envelope. A nil error means the collector accepted it.
type Sender interface {
	Send(ctx context.Context, env *transport.Envelope) error
}

// FlushResult describes one non-empty flush cycle.
type FlushResult struct {
	Time      time.Time
	Trigger   string
	BatchSize int
	Attempts  int
	Discarded int
	Err       error
}

// Recorder receives the outcome of every non-empty flush cycle.
type Recorder interface {
	RecordFlush(ctx context.Context, r FlushResult) error
}

// IsRetryable reports whether a delivery failure is worth another attempt.
// The flag set by the transport wins; other errors are classified by type.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := errors.AsType[*transport.DeliveryError](err); ok {
		return de.Retryable
	}
	return transport.IsTransient(err)
}

// newBackOff returns the delay schedule between attempts:
// min(RetryDelay * 2^(attempt-1), MaxRetryDelay), without jitter.
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cfg.MaxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// deliver sends env, retrying retryable failures up to cfg.RetryAttempts
// times. It returns the number of attempts made.
func (c *Client) deliver(ctx context.Context, env *transport.Envelope, cfg Config) (int, error) {
	b := newBackOff(cfg)

	for attempt := 1; ; attempt++ {
		err := c.attempt(ctx, env, cfg.RequestTimeout)
		if err == nil {
			return attempt, nil
		}
		if !IsRetryable(err) {
			c.logger.Error("Delivery failed with non-retryable error", "attempt", attempt, "error", err)
			return attempt, err
		}
		if attempt >= cfg.RetryAttempts {
			c.logger.Error("Delivery failed, retries exhausted", "attempts", attempt, "error", err)
			return attempt, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		delay := b.NextBackOff()
		c.logger.Warn("Delivery failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		if werr := c.sleep(ctx, delay); werr != nil {
			return attempt, errors.Join(err, werr)
		}
	}
}

// attempt performs one request bounded by timeout.
func (c *Client) attempt(ctx context.Context, env *transport.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.metrics.deliveryAttempts.Inc()
	return c.sender.Send(ctx, env)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := c.clock.NewTimer(d, "telemetry", "backoff")
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// flush drains the queues and delivers the batch. Concurrent calls are safe:
// only one of them observes a non-empty drain.
func (c *Client) flush(ctx context.Context, trigger string) error {
	c.mu.Lock()
	cfg := c.cfg
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !cfg.Enabled {
		c.mu.Unlock()
		return ErrDisabled
	}
	if !cfg.ReportEnabled {
		c.mu.Unlock()
		return ErrReportingDisabled
	}
	c.stopDelayedLocked()
	batch := c.queue.Drain()
	if len(batch) == 0 {
		c.mu.Unlock()
		return nil
	}
	delivered := reported{
		stats:    c.acc.Snapshot(),
		dropped:  c.queue.Dropped(),
		resetGen: c.resetGen,
	}
	c.metrics.setQueued(0, 0)
	c.mu.Unlock()

	c.metrics.flushes.WithLabelValues(trigger).Inc()
	c.logger.Debug("Flushing events", "trigger", trigger, "count", len(batch))

	attempts := 0
	env, err := c.buildEnvelope(ctx, delivered.stats, batch, delivered.dropped)
	if err == nil {
		attempts, err = c.deliver(ctx, env, cfg)
	}
	c.metrics.delivered(err)

	discarded := c.settle(batch, delivered, err)
	c.record(ctx, FlushResult{
		Time:      c.clock.Now("telemetry", "flush"),
		Trigger:   trigger,
		BatchSize: len(batch),
		Attempts:  attempts,
		Discarded: discarded,
		Err:       err,
	})
	return err
}

// reported is what a payload carried besides its events.
type reported struct {
	stats    stats.Snapshot
	dropped  queue.DropCounts
	resetGen uint64
}

// settle applies the delivery outcome: success removes the reported counts,
// failure returns the batch to the failed queue. It returns how many events
// the failed queue discarded.
func (c *Client) settle(batch []event.Event, delivered reported, err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.metrics.setQueued(c.queue.Len(), c.queue.FailedLen()) }()

	if err == nil {
		// ResetAll during the delivery already cleared what was reported.
		if delivered.resetGen == c.resetGen {
			c.acc.ResetAfterReport(delivered.stats)
		}
		c.queue.SubtractDropped(delivered.dropped)
		c.logger.Debug("Events delivered", "count", len(batch))
		return 0
	}

	discarded := c.queue.ReturnFailed(batch)
	if discarded > 0 {
		c.metrics.dropped(bufferFailed, discarded)
		c.logger.Warn("Failed queue full, discarded oldest events", "count", discarded)
	}
	return discarded
}

func (c *Client) record(ctx context.Context, r FlushResult) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordFlush(context.WithoutCancel(ctx), r); err != nil {
		c.logger.Debug("Failed to record flush", "error", err)
	}
}
