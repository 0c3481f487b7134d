package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/docker/keytrail/pkg/queue"
	"github.com/docker/keytrail/pkg/stats"
)

// Config is the full set of pipeline settings. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	Enabled       bool `json:"enabled"`
	ReportEnabled bool `json:"report_enabled"`

	ReportInterval time.Duration `json:"report_interval"`
	BatchSize      int           `json:"batch_size"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
	MaxRetryDelay  time.Duration `json:"max_retry_delay"`
	RequestTimeout time.Duration `json:"request_timeout"`

	// FlushDelay is the single-event delay. Zero disables the delayed trigger.
	FlushDelay time.Duration `json:"flush_delay"`

	QueueCapacity         int           `json:"queue_capacity"`
	FailedQueueMultiplier int           `json:"failed_queue_multiplier"`
	SuggestionMaxAge      time.Duration `json:"suggestion_max_age"`
	SessionGap            time.Duration `json:"session_gap"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		ReportEnabled:         true,
		ReportInterval:        5 * time.Minute,
		BatchSize:             50,
		RetryAttempts:         3,
		RetryDelay:            time.Second,
		MaxRetryDelay:         30 * time.Second,
		RequestTimeout:        10 * time.Second,
		FlushDelay:            5 * time.Second,
		QueueCapacity:         queue.DefaultCapacity,
		FailedQueueMultiplier: queue.DefaultMultiplier,
		SuggestionMaxAge:      30 * time.Second,
		SessionGap:            stats.DefaultSessionGap,
	}
}

// Validate reports every out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	atLeastOne := func(name string, n int) {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", name, n))
		}
	}

	positive("report_interval", c.ReportInterval)
	positive("retry_delay", c.RetryDelay)
	positive("request_timeout", c.RequestTimeout)
	positive("suggestion_max_age", c.SuggestionMaxAge)
	positive("session_gap", c.SessionGap)
	atLeastOne("batch_size", c.BatchSize)
	atLeastOne("retry_attempts", c.RetryAttempts)
	atLeastOne("queue_capacity", c.QueueCapacity)
	atLeastOne("failed_queue_multiplier", c.FailedQueueMultiplier)

	if c.MaxRetryDelay < c.RetryDelay {
		errs = append(errs, fmt.Errorf("max_retry_delay (%s) must not be below retry_delay (%s)", c.MaxRetryDelay, c.RetryDelay))
	}
	if c.FlushDelay < 0 {
		errs = append(errs, fmt.Errorf("flush_delay must not be negative, got %s", c.FlushDelay))
	}
	if c.BatchSize > c.QueueCapacity {
		errs = append(errs, fmt.Errorf("batch_size (%d) must not exceed queue_capacity (%d)", c.BatchSize, c.QueueCapacity))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid telemetry config: %w", errors.Join(errs...))
	}
	return nil
}

// Patch is a partial configuration. Nil fields keep their current value.
type Patch struct {
	Enabled               *bool          `json:"enabled,omitempty"`
	ReportEnabled         *bool          `json:"report_enabled,omitempty"`
	ReportInterval        *time.Duration `json:"report_interval,omitempty"`
	BatchSize             *int           `json:"batch_size,omitempty"`
	RetryAttempts         *int           `json:"retry_attempts,omitempty"`
	RetryDelay            *time.Duration `json:"retry_delay,omitempty"`
	MaxRetryDelay         *time.Duration `json:"max_retry_delay,omitempty"`
	RequestTimeout        *time.Duration `json:"request_timeout,omitempty"`
	FlushDelay            *time.Duration `json:"flush_delay,omitempty"`
	QueueCapacity         *int           `json:"queue_capacity,omitempty"`
	FailedQueueMultiplier *int           `json:"failed_queue_multiplier,omitempty"`
	SuggestionMaxAge      *time.Duration `json:"suggestion_max_age,omitempty"`
	SessionGap            *time.Duration `json:"session_gap,omitempty"`
}

// Apply returns c with the non-nil fields of p applied.
func (p Patch) Apply(c Config) Config {
	set(&c.Enabled, p.Enabled)
	set(&c.ReportEnabled, p.ReportEnabled)
	set(&c.ReportInterval, p.ReportInterval)
	set(&c.BatchSize, p.BatchSize)
	set(&c.RetryAttempts, p.RetryAttempts)
	set(&c.RetryDelay, p.RetryDelay)
	set(&c.MaxRetryDelay, p.MaxRetryDelay)
	set(&c.RequestTimeout, p.RequestTimeout)
	set(&c.FlushDelay, p.FlushDelay)
	set(&c.QueueCapacity, p.QueueCapacity)
	set(&c.FailedQueueMultiplier, p.FailedQueueMultiplier)
	set(&c.SuggestionMaxAge, p.SuggestionMaxAge)
	set(&c.SessionGap, p.SessionGap)
	return c
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Patch returns a patch that sets every field to c's value. Configure(c.Patch())
// replaces the active configuration as a whole.
func (c Config) Patch() Patch {
	return Patch{
		Enabled:               &c.Enabled,
		ReportEnabled:         &c.ReportEnabled,
		ReportInterval:        &c.ReportInterval,
		BatchSize:             &c.BatchSize,
		RetryAttempts:         &c.RetryAttempts,
		RetryDelay:            &c.RetryDelay,
		MaxRetryDelay:         &c.MaxRetryDelay,
		RequestTimeout:        &c.RequestTimeout,
		FlushDelay:            &c.FlushDelay,
		QueueCapacity:         &c.QueueCapacity,
		FailedQueueMultiplier: &c.FailedQueueMultiplier,
		SuggestionMaxAge:      &c.SuggestionMaxAge,
		SessionGap:            &c.SessionGap,
	}
}
