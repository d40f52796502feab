package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := NewDefaultClientConfig()
	cfg.ForceHTTP2 = false
	cfg.RequestTimeout = 2 * time.Second
	cfg.UserAgent = "emb3d-mapper-test"
	cfg.Headers = map[string]string{"Accept": "text/html"}
	cfg.Logger = zaptest.NewLogger(t)
	return NewClient(cfg)
}

func TestClientFetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/threats/TID-101.html":
			assert.Equal(t, "emb3d-mapper-test", r.Header.Get("User-Agent"))
			assert.Equal(t, "text/html", r.Header.Get("Accept"))
			_, _ = w.Write([]byte("<h2 id=\"threat-description\">x</h2>"))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t)
	ctx := context.Background()

	t.Run("should return the body on success", func(t *testing.T) {
		body, err := client.Fetch(ctx, server.URL+"/threats/TID-101.html")
		require.NoError(t, err)
		assert.Contains(t, string(body), "threat-description")
	})

	t.Run("should report a retryable error for 404", func(t *testing.T) {
		_, err := client.Fetch(ctx, server.URL+"/threats/missing.html")
		var te *pipelineerr.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusNotFound, te.StatusCode)
		assert.True(t, te.Retryable())
	})

	t.Run("should report a retryable error for 503", func(t *testing.T) {
		_, err := client.Fetch(ctx, server.URL+"/busy")
		assert.True(t, pipelineerr.IsRetryable(err))
	})

	t.Run("should report a retryable error when the host is unreachable", func(t *testing.T) {
		_, err := client.Fetch(ctx, "http://127.0.0.1:1/unreachable")
		var te *pipelineerr.TransportError
		require.ErrorAs(t, err, &te)
		assert.Zero(t, te.StatusCode)
		assert.True(t, te.Retryable())
	})
}

func TestClientFetchBodyLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	t.Cleanup(server.Close)

	newLimited := func(limit int64) *Client {
		cfg := NewDefaultClientConfig()
		cfg.ForceHTTP2 = false
		cfg.MaxBodyBytes = limit
		return NewClient(cfg)
	}

	t.Run("should reject a body over the cap", func(t *testing.T) {
		_, err := newLimited(63).Fetch(context.Background(), server.URL)
		var te *pipelineerr.TransportError
		require.ErrorAs(t, err, &te)
		assert.ErrorIs(t, err, ErrBodyTooLarge)
		assert.True(t, te.Retryable())
	})

	t.Run("should accept a body exactly at the cap", func(t *testing.T) {
		body, err := newLimited(64).Fetch(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Len(t, body, 64)
	})
}

func TestNewHTTPTransportDefaults(t *testing.T) {
	t.Parallel()

	transport := NewHTTPTransport(nil)
	require.NotNil(t, transport.TLSClientConfig)
	assert.False(t, transport.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, DefaultMaxConnsPerHost, transport.MaxConnsPerHost)

	cfg := NewDefaultClientConfig()
	cfg.IgnoreTLSErrors = true
	cfg.ForceHTTP2 = false
	assert.True(t, NewHTTPTransport(cfg).TLSClientConfig.InsecureSkipVerify)
}
