// Package telemetry aggregates editor interaction events and delivers them to
// the collector.
//
// A Client owns the statistics accumulator and the event queues. Producer
// calls are synchronous and never block on the network: delivery runs on a
// background worker fed by three triggers (batch size, a periodic timer and a
// short delay after the first event of a quiet period). Failed batches are
// kept in a bounded failed queue and retried ahead of newer events.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/docker/keytrail/pkg/deviceid"
	"github.com/docker/keytrail/pkg/event"
	"github.com/docker/keytrail/pkg/queue"
	"github.com/docker/keytrail/pkg/session"
	"github.com/docker/keytrail/pkg/stats"
	"github.com/docker/keytrail/pkg/transport"
)

var (
	// ErrDisabled is returned by ReportNow when telemetry is disabled.
	ErrDisabled = errors.New("telemetry is disabled")
	// ErrReportingDisabled is returned by ReportNow when events are collected
	// but not sent.
	ErrReportingDisabled = errors.New("telemetry reporting is disabled")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("telemetry client is closed")
)

// telemetryLogger wraps slog.Logger to automatically prepend "[Telemetry]" to all messages
type telemetryLogger struct {
	logger *slog.Logger
}

// NewTelemetryLogger creates a new telemetry logger that automatically prepends "[Telemetry]" to all messages
func NewTelemetryLogger(logger *slog.Logger) *telemetryLogger {
	return &telemetryLogger{logger: logger}
}

func (tl *telemetryLogger) Debug(msg string, args ...any) {
	tl.logger.Debug("[Telemetry] "+msg, args...)
}

func (tl *telemetryLogger) Info(msg string, args ...any) {
	tl.logger.Info("[Telemetry] "+msg, args...)
}

func (tl *telemetryLogger) Warn(msg string, args ...any) {
	tl.logger.Warn("[Telemetry] "+msg, args...)
}

func (tl *telemetryLogger) Error(msg string, args ...any) {
	tl.logger.Error("[Telemetry] "+msg, args...)
}

// Client is the telemetry pipeline of one editor integration.
type Client struct {
	logger   *telemetryLogger
	clock    quartz.Clock
	sender   Sender
	sessions session.Provider
	recorder Recorder
	metrics  *Metrics
	registry prometheus.Registerer
	deviceID string
	version  string

	mu           sync.Mutex
	cfg          Config
	acc          *stats.Accumulator
	queue        *queue.Queue
	started      bool
	closed       bool
	delayed      *quartz.Timer
	delayedGen   uint64
	resetGen     uint64
	stopPeriodic context.CancelFunc

	flushCh  chan string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = NewTelemetryLogger(logger)
		}
	}
}

// WithClock replaces the clock driving timestamps and timers.
func WithClock(clock quartz.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithSender sets the transport. Without one every delivery fails with
// transport.ErrNoEndpoint.
func WithSender(s Sender) Option {
	return func(c *Client) {
		c.sender = s
	}
}

// WithSessionProvider sets the identity source. Without one the environment
// identity is used.
func WithSessionProvider(p session.Provider) Option {
	return func(c *Client) {
		c.sessions = p
	}
}

// WithDeviceID sets the device identifier instead of loading it from disk.
func WithDeviceID(id string) Option {
	return func(c *Client) {
		c.deviceID = id
	}
}

// WithRegisterer registers the pipeline metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registry = reg
	}
}

// WithRecorder receives the outcome of every flush.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

func WithVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// New creates a client. Nothing is scheduled until Start.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		logger:  NewTelemetryLogger(slog.Default()),
		clock:   quartz.NewReal(),
		cfg:     cfg,
		version: "dev",
		flushCh: make(chan string, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	metrics, err := NewMetrics(c.registry)
	if err != nil {
		return nil, err
	}
	c.metrics = metrics

	if c.sender == nil {
		// Validation of the zero config cannot fail.
		c.sender, _ = transport.New(transport.Config{})
	}
	if c.deviceID == "" {
		id, persisted := deviceid.Store{}.Load()
		if !persisted {
			c.logger.Warn("Device id is not persisted, it will change on restart")
		}
		c.deviceID = id
	}

	c.acc = stats.New(stats.WithClock(c.clock), stats.WithSessionGap(cfg.SessionGap))
	c.queue = queue.New(cfg.QueueCapacity, cfg.BatchSize, cfg.FailedQueueMultiplier)

	c.logger.Debug("Client created", "enabled", cfg.Enabled, "report_enabled", cfg.ReportEnabled, "device_id", c.deviceID)
	return c, nil
}

// Start launches the delivery worker and arms the timers. The worker stops
// when ctx is cancelled or the client is closed.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return errors.New("telemetry client already started")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run(c.ctx)

	c.armPeriodicLocked()
	if c.queue.Len() > 0 {
		c.armDelayedLocked()
	}
	return nil
}

// Close stops the timers and the worker. A delivery already in flight is
// allowed to finish; Close waits for it. Queued events that were never
// delivered are lost.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.stopDelayedLocked()
		c.stopPeriodicLocked()
		cancel := c.cancel
		pending := c.queue.Len() + c.queue.FailedLen()
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		c.wg.Wait()

		if pending > 0 {
			c.logger.Debug("Closed with undelivered events", "count", pending)
		}
	})
	return nil
}

// RecordTyping accumulates a manual edit and queues its event.
func (c *Client) RecordTyping(in stats.TypingInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.cfg.Enabled {
		return nil
	}

	e, err := c.acc.Record(in)
	if err != nil {
		c.logger.Debug("Rejected typing input", "error", err)
		return err
	}
	c.enqueueLocked(e)
	return nil
}

// DisplaySuggestion registers a suggestion shown to the user.
func (c *Client) DisplaySuggestion(id string, meta stats.SuggestionMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.cfg.Enabled {
		return nil
	}

	if err := c.acc.DisplaySuggestion(id, meta); err != nil {
		c.logger.Debug("Rejected suggestion", "error", err)
		return err
	}
	return nil
}

// ResolveSuggestion records the outcome of a displayed suggestion. It reports
// false when id is not pending.
func (c *Client) ResolveSuggestion(id string, outcome stats.Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.cfg.Enabled {
		return false
	}

	e, ok := c.acc.Resolve(id, outcome)
	if !ok {
		return false
	}
	c.enqueueLocked(e)
	return true
}

// CleanupStale cancels suggestions pending for longer than maxAge and returns
// how many were expired.
func (c *Client) CleanupStale(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.cfg.Enabled {
		return 0
	}
	return c.cleanupLocked(maxAge)
}

func (c *Client) cleanupLocked(maxAge time.Duration) int {
	expired := c.acc.CleanupStale(maxAge)
	for _, e := range expired {
		c.enqueueLocked(e)
	}
	if len(expired) > 0 {
		c.logger.Debug("Expired stale suggestions", "count", len(expired))
	}
	return len(expired)
}

// enqueueLocked queues e and fires the size or delayed trigger.
func (c *Client) enqueueLocked(e event.Event) {
	wasEmpty := c.queue.Empty()
	if c.queue.Enqueue(e) {
		c.metrics.dropped(bufferPrimary, 1)
		c.logger.Warn("Event queue full, evicted oldest event", "count", 1, "capacity", c.queue.Capacity())
	}
	c.metrics.eventsEnqueued.Inc()
	c.metrics.setQueued(c.queue.Len(), c.queue.FailedLen())

	if !c.cfg.ReportEnabled {
		return
	}
	if c.queue.Len() >= c.cfg.BatchSize {
		c.signalLocked(triggerSize)
		return
	}
	if wasEmpty {
		c.armDelayedLocked()
	}
}

// ReportNow flushes on the calling goroutine and returns the delivery error,
// if any. It is the only operation that surfaces delivery failures.
func (c *Client) ReportNow(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	return c.flush(ctx, triggerManual)
}

// Configure applies p to the active configuration. An invalid result is
// rejected and leaves the client untouched. Shrinking the queue limits trims
// the oldest queued events.
func (c *Client) Configure(p Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	next := p.Apply(c.cfg)
	if err := next.Validate(); err != nil {
		return err
	}

	c.cfg = next
	d := c.queue.Resize(next.QueueCapacity, next.BatchSize, next.FailedQueueMultiplier)
	c.metrics.dropped(bufferPrimary, int(d.Primary))
	c.metrics.dropped(bufferFailed, int(d.Failed))
	if d.Total() > 0 {
		c.logger.Warn("Queue limits lowered, discarded oldest events", "primary", d.Primary, "failed", d.Failed)
	}
	c.acc.SetSessionGap(next.SessionGap)

	c.stopDelayedLocked()
	c.armPeriodicLocked()

	c.logger.Debug("Configuration updated", "enabled", next.Enabled, "report_enabled", next.ReportEnabled, "report_interval", next.ReportInterval)
	return nil
}

// Config returns the active configuration.
func (c *Client) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// DeviceID returns the identifier attached to reports.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// Snapshot returns a copy of the accumulated statistics.
func (c *Client) Snapshot() stats.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.Snapshot()
}

// ResetAll clears the statistics and pending suggestions. Queued events are
// kept.
func (c *Client) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acc.ResetAll()
	c.resetGen++
}

// QueueStats describes the queues and the events lost since the last
// successful report.
type QueueStats struct {
	Queued  int              `json:"queued"`
	Failed  int              `json:"failed"`
	Pending int              `json:"pending_suggestions"`
	Dropped queue.DropCounts `json:"dropped"`
}

func (c *Client) QueueStats() QueueStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return QueueStats{
		Queued:  c.queue.Len(),
		Failed:  c.queue.FailedLen(),
		Pending: c.acc.Pending(),
		Dropped: c.queue.Dropped(),
	}
}
