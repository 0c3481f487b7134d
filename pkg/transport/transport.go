// Package transport delivers telemetry envelopes to the remote collector.
//
// One Send is one HTTP POST. Failures are returned as *DeliveryError with the
// retryable flag decided here, where the cause is still known, so that callers
// never have to inspect error messages.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/docker/keytrail/pkg/httpclient"
)

// Channel tags every envelope sent by keytrail.
const Channel = "keytrail-editor"

// Compression names accepted in the configuration.
const (
	CompressionNone   = ""
	CompressionBrotli = "br"
	CompressionGzip   = "gzip"
)

// Envelope is the request body understood by the collector.
type Envelope struct {
	Data      string `json:"data"`
	DeviceID  string `json:"device_id"`
	Identity  string `json:"identity"`
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

// DeliveryError is a failed delivery attempt.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("collector responded with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ErrNoEndpoint is returned when no collector endpoint is configured.
var ErrNoEndpoint = errors.New("no collector endpoint configured")

// Config holds the collector settings.
type Config struct {
	Endpoint    string
	APIKey      string
	Header      string
	Compression string
}

// Validate checks the compression setting.
func (c Config) Validate() error {
	switch c.Compression {
	case CompressionNone, CompressionBrotli, CompressionGzip:
		return nil
	default:
		return fmt.Errorf("unsupported compression %q", c.Compression)
	}
}

// Client POSTs envelopes to the collector.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

type options struct {
	roundTripper http.RoundTripper
}

type Opt func(*options)

// WithRoundTripper replaces the network round tripper, typically in tests.
// Request headers are still applied on top of it.
func WithRoundTripper(rt http.RoundTripper) Opt {
	return func(o *options) {
		o.roundTripper = rt
	}
}

// New creates a transport client. Per-request timeouts are the caller's job
// through the context passed to Send.
func New(cfg Config, opts ...Opt) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	header := cfg.Header
	if header == "" {
		header = "X-Api-Key"
	}
	return &Client{
		cfg: cfg,
		httpClient: httpclient.NewHTTPClient(
			httpclient.WithHeader(header, cfg.APIKey),
			httpclient.WithTransport(o.roundTripper),
		),
	}, nil
}

// Send delivers one envelope. A nil error means the collector answered 2xx.
func (c *Client) Send(ctx context.Context, env *Envelope) error {
	if c.cfg.Endpoint == "" {
		return &DeliveryError{Err: ErrNoEndpoint}
	}

	body, err := json.Marshal(env)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("failed to marshal envelope: %w", err)}
	}
	body, err = compress(c.cfg.Compression, body)
	if err != nil {
		return &DeliveryError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Compression != CompressionNone {
		req.Header.Set("Content-Encoding", c.cfg.Compression)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Retryable: IsTransient(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			Err:        fmt.Errorf("%s", bytes.TrimSpace(msg)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func compress(kind string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch kind {
	case CompressionNone:
		return data, nil
	case CompressionBrotli:
		w = brotli.NewWriterLevel(&buf, 1)
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unsupported compression %q", kind)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s writer: %w", kind, err)
	}
	return buf.Bytes(), nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// IsTransient reports whether err belongs to the network class that is worth
// retrying: timeouts, connection resets, refused connections and DNS failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if _, ok := errors.AsType[*net.DNSError](err); ok {
		return true
	}
	if netErr, ok := errors.AsType[net.Error](err); ok && netErr.Timeout() {
		return true
	}
	return false
}
