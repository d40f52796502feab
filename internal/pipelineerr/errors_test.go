package pipelineerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportErrorRetryable(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      *TransportError
		expected bool
	}{
		{"connection failure", &TransportError{URL: "u", Err: io.ErrUnexpectedEOF}, true},
		{"server error", &TransportError{URL: "u", StatusCode: 503}, true},
		{"throttled", &TransportError{URL: "u", StatusCode: 429}, true},
		{"request timeout", &TransportError{URL: "u", StatusCode: 408}, true},
		{"not found", &TransportError{URL: "u", StatusCode: 404}, true},
		{"forbidden", &TransportError{URL: "u", StatusCode: 403}, true},
		{"redirect left unfollowed", &TransportError{URL: "u", StatusCode: 304}, true},
		{"success status", &TransportError{URL: "u", StatusCode: 200}, false},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.err.Retryable())
			assert.Equal(t, tt.expected, IsRetryable(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	schemaErr := fmt.Errorf("load: %w", &SourceSchemaError{Key: "threats", Reason: "missing"})
	cfgErr := &ConfigurationError{Field: "source.glob", Reason: "no match"}

	assert.True(t, IsFatal(schemaErr))
	assert.True(t, IsFatal(cfgErr))
	assert.False(t, IsFatal(&TransportError{URL: "u", StatusCode: 500}))
	assert.False(t, IsFatal(&EntityParseError{Entity: "TID-1", Err: io.EOF}))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestErrorMessagesNameTheOffender(t *testing.T) {
	t.Parallel()

	assert.Contains(t, (&SourceSchemaError{Key: "course-of-action", Reason: "no objects"}).Error(), "course-of-action")
	assert.Contains(t, (&TransportError{URL: "https://x/T.html", StatusCode: 404}).Error(), "HTTP 404")
	assert.ErrorIs(t, &EntityParseError{Entity: "MID-1", Err: io.ErrClosedPipe}, io.ErrClosedPipe)
}
