package httpclient

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/docker/keytrail/pkg/version"
)

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	for k, v := range h.headers {
		r2.Header.Set(k, v)
	}
	return h.rt.RoundTrip(r2)
}

type options struct {
	headers   map[string]string
	timeout   time.Duration
	transport http.RoundTripper
}

type Opt func(*options)

// WithHeader sets a header on every request. Empty values are skipped.
func WithHeader(name, value string) Opt {
	return func(o *options) {
		if name != "" && value != "" {
			o.headers[name] = value
		}
	}
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Opt {
	return func(o *options) {
		o.timeout = d
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Opt {
	return func(o *options) {
		if rt != nil {
			o.transport = rt
		}
	}
}

// UserAgent returns the User-Agent sent by keytrail.
func UserAgent() string {
	return fmt.Sprintf("keytrail/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)
}

func NewHTTPClient(opts ...Opt) *http.Client {
	o := options{
		headers:   map[string]string{"User-Agent": UserAgent()},
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &http.Client{
		Timeout: o.timeout,
		Transport: &headerTransport{
			headers: o.headers,
			rt:      o.transport,
		},
	}
}
