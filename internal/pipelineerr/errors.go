// Package pipelineerr defines the error taxonomy shared by the mapping pipeline.
// Two kinds are fatal (SourceSchemaError, ConfigurationError) and abort a run;
// the per-entity kinds (TransportError, EntityParseError) are absorbed by the
// enrichment fetcher and degrade to an empty record.
package pipelineerr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrFatal is matched by errors.Is for every error kind that must halt the run.
var ErrFatal = errors.New("fatal pipeline error")

// -- Transport --

// TransportError reports a failed retrieval of a remote document.
// A zero StatusCode means the request never produced a response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed. Connection errors,
// oversized bodies and every non-success status qualify, 404 included.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode < http.StatusOK || e.StatusCode >= http.StatusMultipleChoices
}

// -- Entity documents --

// EntityParseError reports a per-entity document that could not be parsed at all.
type EntityParseError struct {
	Entity string
	Err    error
}

func (e *EntityParseError) Error() string {
	return fmt.Sprintf("parse document for %s: %v", e.Entity, e.Err)
}

func (e *EntityParseError) Unwrap() error { return e.Err }

// -- Fatal kinds --

// SourceSchemaError reports a primary document whose structure violates the
// shape an adapter requires. Key names the offending field or object type.
type SourceSchemaError struct {
	Key    string
	Reason string
}

func (e *SourceSchemaError) Error() string {
	return fmt.Sprintf("source schema error at %q: %s", e.Key, e.Reason)
}

func (e *SourceSchemaError) Is(target error) bool { return target == ErrFatal }

// ConfigurationError reports an unusable configuration, including a source
// file that cannot be discovered.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrFatal }

// IsFatal reports whether err, or anything it wraps, must abort the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// IsRetryable reports whether err wraps a TransportError that allows another attempt.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable()
}
