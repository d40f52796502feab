// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"iter"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// -- Document Source Mock --

// MockDocumentSource mocks enrich.DocumentSource.
type MockDocumentSource struct {
	mock.Mock
}

// Document returns the configured body for ref.
func (m *MockDocumentSource) Document(ctx context.Context, ref schemas.EntityRef) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// -- HTTP Getter Mock --

// MockGetter mocks the Fetch method of network.Client.
type MockGetter struct {
	mock.Mock
}

func (m *MockGetter) Fetch(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// -- Document Cache Mock --

// MockDocumentCache mocks enrich.DocumentCache.
type MockDocumentCache struct {
	mock.Mock
}

func (m *MockDocumentCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	args := m.Called(ctx, url)
	var body []byte
	if args.Get(0) != nil {
		body = args.Get(0).([]byte)
	}
	return body, args.Bool(1), args.Error(2)
}

func (m *MockDocumentCache) Put(ctx context.Context, url string, body []byte) error {
	return m.Called(ctx, url, body).Error(0)
}

// -- Row Sink Mock --

// MockRowSink mocks reporting.RowSink. It drains the row sequence before
// recording the call so expectations can match on the materialized rows.
type MockRowSink struct {
	mock.Mock
	mu       sync.Mutex
	received []schemas.OutputRow
}

func (m *MockRowSink) Name() string {
	return m.Called().String(0)
}

func (m *MockRowSink) WriteRows(ctx context.Context, runID string, rows iter.Seq[schemas.OutputRow]) (int, error) {
	var collected []schemas.OutputRow
	for row := range rows {
		collected = append(collected, row)
	}

	m.mu.Lock()
	m.received = append(m.received, collected...)
	m.mu.Unlock()

	args := m.Called(ctx, runID, collected)
	return args.Int(0), args.Error(1)
}

// Received returns every row passed to WriteRows so far.
func (m *MockRowSink) Received() []schemas.OutputRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.OutputRow, len(m.received))
	copy(out, m.received)
	return out
}
