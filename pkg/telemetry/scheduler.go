package telemetry

import (
	"context"
	"errors"
)

// run is the delivery worker. Every trigger funnels into it through flushCh,
// so at most one triggered flush is in flight at a time.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case trigger := <-c.flushCh:
			// A trigger still buffered when Close cancels ctx must not start
			// a delivery.
			if ctx.Err() != nil {
				return
			}
			// An in-flight delivery outlives Close; only the request timeout
			// and the retry budget bound it.
			err := c.flush(context.WithoutCancel(ctx), trigger)
			if err != nil && !errors.Is(err, ErrDisabled) && !errors.Is(err, ErrReportingDisabled) && !errors.Is(err, ErrClosed) {
				c.logger.Debug("Scheduled flush failed", "trigger", trigger, "error", err)
			}
		}
	}
}

// signalLocked asks the worker to flush. A flush that is already pending
// absorbs the request.
func (c *Client) signalLocked(trigger string) {
	select {
	case c.flushCh <- trigger:
	default:
	}
}

// armPeriodicLocked (re)starts the periodic trigger for the active config.
func (c *Client) armPeriodicLocked() {
	c.stopPeriodicLocked()
	if !c.started || c.closed || !c.cfg.Enabled || !c.cfg.ReportEnabled {
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.stopPeriodic = cancel
	c.clock.TickerFunc(ctx, c.cfg.ReportInterval, func() error {
		c.tick()
		return nil
	}, "telemetry", "periodic")
}

func (c *Client) stopPeriodicLocked() {
	if c.stopPeriodic != nil {
		c.stopPeriodic()
		c.stopPeriodic = nil
	}
}

// tick expires stale suggestions and requests a flush.
func (c *Client) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.cleanupLocked(c.cfg.SuggestionMaxAge)
	c.signalLocked(triggerPeriodic)
}

// armDelayedLocked arms the single-event trigger unless it is already armed.
func (c *Client) armDelayedLocked() {
	if c.delayed != nil || !c.started || c.closed || c.cfg.FlushDelay <= 0 {
		return
	}

	gen := c.delayedGen
	c.delayed = c.clock.AfterFunc(c.cfg.FlushDelay, func() {
		c.fireDelayed(gen)
	}, "telemetry", "delayed")
}

func (c *Client) fireDelayed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A timer stopped after it already fired must not signal.
	if gen != c.delayedGen || c.delayed == nil {
		return
	}
	c.delayed = nil
	c.signalLocked(triggerDelayed)
}

func (c *Client) stopDelayedLocked() {
	if c.delayed != nil {
		c.delayed.Stop()
		c.delayed = nil
	}
	c.delayedGen++
}
