package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantSet bool
	}{
		{
			name:    "sets header when value is provided",
			value:   "secret",
			wantSet: true,
		},
		{
			name:    "skips header when value is empty",
			value:   "",
			wantSet: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var capturedHeaders http.Header
			srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				capturedHeaders = r.Header
			}))
			defer srv.Close()

			client := NewHTTPClient(WithHeader("X-Api-Key", tt.value))
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)

			resp, err := client.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			if tt.wantSet {
				assert.Equal(t, tt.value, capturedHeaders.Get("X-Api-Key"))
			} else {
				assert.Empty(t, capturedHeaders.Get("X-Api-Key"))
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewHTTPClient(WithTimeout(5 * time.Second))
	assert.Equal(t, 5*time.Second, client.Timeout)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, UserAgent(), ua)
	assert.Contains(t, ua, "keytrail/")
}
