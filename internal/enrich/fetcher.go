// Package enrich retrieves and parses the per-entity documents of a graph
// with a bounded worker pool. Failures never abort a run: a document that
// cannot be retrieved or parsed contributes an empty record.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
	"github.com/xkilldash9x/emb3d-mapper/internal/observability"
	"github.com/xkilldash9x/emb3d-mapper/internal/parser"
	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

// DocumentSource returns the raw document describing an entity.
type DocumentSource interface {
	Document(ctx context.Context, ref schemas.EntityRef) ([]byte, error)
}

// Options tunes the worker pool and the retry policy.
type Options struct {
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultOptions matches the pool size and retry schedule of the published tool.
func DefaultOptions() Options {
	return Options{
		Workers:        12,
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	return o
}

// Fetcher enriches entity references. Each distinct reference is retrieved
// and parsed at most once for the lifetime of the Fetcher, including across
// concurrent Enrich calls.
type Fetcher struct {
	source DocumentSource
	opts   Options
	logger *zap.Logger
	tracer trace.Tracer

	group singleflight.Group

	mu       sync.RWMutex
	memo     map[schemas.EntityRef]schemas.EnrichmentRecord
	degraded map[schemas.EntityRef]error
}

// NewFetcher creates a Fetcher reading documents from source.
func NewFetcher(source DocumentSource, opts Options, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		source:   source,
		opts:     opts.withDefaults(),
		logger:   logger.Named("fetcher"),
		tracer:   observability.Tracer(),
		memo:     make(map[schemas.EntityRef]schemas.EnrichmentRecord),
		degraded: make(map[schemas.EntityRef]error),
	}
}

// Options returns the effective options.
func (f *Fetcher) Options() Options {
	return f.opts
}

// Enrich returns a record for every distinct ref. Refs whose document could
// not be obtained map to the empty record.
func (f *Fetcher) Enrich(ctx context.Context, refs []schemas.EntityRef) map[schemas.EntityRef]schemas.EnrichmentRecord {
	ctx, span := f.tracer.Start(ctx, "enrich.Fetcher.Enrich")
	defer span.End()

	unique := dedupe(refs)
	span.SetAttributes(
		attribute.Int("refs.requested", len(refs)),
		attribute.Int("refs.distinct", len(unique)),
		attribute.Int("workers", f.opts.Workers),
	)

	start := time.Now()
	f.logger.Info("Fetching entity documents",
		zap.Int("threats", countKind(unique, schemas.KindThreat)),
		zap.Int("mitigations", countKind(unique, schemas.KindMitigation)),
		zap.Int("workers", f.opts.Workers),
	)

	// Each task owns one slot; the map is assembled after Wait.
	slots := make([]schemas.EnrichmentRecord, len(unique))

	var g errgroup.Group
	g.SetLimit(f.opts.Workers)
	for i, ref := range unique {
		g.Go(func() error {
			slots[i] = f.fetch(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[schemas.EntityRef]schemas.EnrichmentRecord, len(unique))
	degraded := 0
	for i, ref := range unique {
		out[ref] = slots[i]
		if f.isDegraded(ref) {
			degraded++
		}
	}

	span.SetAttributes(attribute.Int("refs.degraded", degraded))
	f.logger.Info("Entity documents fetched",
		zap.Int("count", len(unique)),
		zap.Int("degraded", degraded),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

// Degraded lists the refs that resolved to an empty record because of an
// error, in a stable order.
func (f *Fetcher) Degraded() []schemas.EntityRef {
	f.mu.RLock()
	defer f.mu.RUnlock()

	refs := make([]schemas.EntityRef, 0, len(f.degraded))
	for ref := range f.degraded {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs
}

func (f *Fetcher) isDegraded(ref schemas.EntityRef) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.degraded[ref]
	return ok
}

func (f *Fetcher) lookup(ref schemas.EntityRef) (schemas.EnrichmentRecord, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.memo[ref]
	return rec, ok
}

// fetch resolves one ref through the memo, collapsing concurrent requests
// for the same ref into one retrieval.
func (f *Fetcher) fetch(ctx context.Context, ref schemas.EntityRef) schemas.EnrichmentRecord {
	if rec, ok := f.lookup(ref); ok {
		return rec
	}

	v, _, _ := f.group.Do(ref.String(), func() (any, error) {
		if rec, ok := f.lookup(ref); ok {
			return rec, nil
		}

		rec, err := f.retrieve(ctx, ref)

		f.mu.Lock()
		f.memo[ref] = rec
		if err != nil {
			f.degraded[ref] = err
		}
		f.mu.Unlock()

		if err != nil {
			f.logger.Warn("Enrichment degraded, using empty record",
				zap.Stringer("entity", ref),
				zap.Error(err),
			)
		}
		return rec, nil
	})

	rec, ok := v.(schemas.EnrichmentRecord)
	if !ok {
		return schemas.EnrichmentRecord{}
	}
	return rec
}

// retrieve downloads and parses the document for ref, retrying transient
// transport failures with exponential backoff.
func (f *Fetcher) retrieve(ctx context.Context, ref schemas.EntityRef) (schemas.EnrichmentRecord, error) {
	ctx, span := f.tracer.Start(ctx, "enrich.Fetcher.retrieve",
		trace.WithAttributes(
			attribute.String("entity.kind", string(ref.Kind)),
			attribute.String("entity.id", ref.ID),
		),
	)
	defer span.End()

	attempts := 0
	operation := func() ([]byte, error) {
		attempts++
		body, err := f.source.Document(ctx, ref)
		if err == nil {
			return body, nil
		}
		if pipelineerr.IsRetryable(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Warn("Document retrieval failed, retrying",
			zap.Stringer("entity", ref),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", f.opts.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(f.newBackOff()),
		backoff.WithMaxTries(uint(f.opts.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return schemas.EnrichmentRecord{}, fmt.Errorf("retrieve %s after %d attempt(s): %w", ref, attempts, err)
	}

	rec, err := parser.ParseBytes(body, ref.Kind)
	if err != nil {
		var parseErr *pipelineerr.EntityParseError
		if errors.As(err, &parseErr) {
			parseErr.Entity = ref.String()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return schemas.EnrichmentRecord{}, err
	}
	return rec, nil
}

func (f *Fetcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialBackoff
	b.MaxInterval = f.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

func dedupe(refs []schemas.EntityRef) []schemas.EntityRef {
	seen := make(map[schemas.EntityRef]struct{}, len(refs))
	out := make([]schemas.EntityRef, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func countKind(refs []schemas.EntityRef, kind schemas.EntityKind) int {
	n := 0
	for _, ref := range refs {
		if ref.Kind == kind {
			n++
		}
	}
	return n
}
