package results

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/internal/observability"
	"github.com/xkilldash9x/emb3d-mapper/internal/reporting"
	"github.com/xkilldash9x/emb3d-mapper/internal/source"
)

// RunPipeline orchestrates one run:
// 1. Loads the graph through the source adapter.
// 2. Enriches every referenced threat and mitigation (skipped when enricher is nil).
// 3. Flattens graph and enrichment into rows.
// 4. Writes the rows to each sink, in order.
//
// Source and sink failures abort the run. Enrichment failures never do; the
// affected refs are listed in the report.
func RunPipeline(ctx context.Context, adapter source.Adapter, enricher Enricher, sinks ...reporting.RowSink) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := observability.ForRun("pipeline", report.RunID)

	ctx, span := observability.Tracer().Start(ctx, "results.RunPipeline")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", report.RunID))

	fail := func(stage string, err error) (*Report, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	// Step 1: Load the graph
	graph, err := adapter.Load(ctx)
	if err != nil {
		return fail("error loading source", err)
	}
	report.Graph = graph.Stats()
	logger.Info("Source loaded",
		zap.Int("threats", report.Graph.Threats),
		zap.Int("properties", report.Graph.Properties),
		zap.Int("mitigations", report.Graph.Mitigations),
		zap.Int("triples", report.Graph.Triples),
	)

	// Step 2: Enrich
	enrichment, err := Enrich(ctx, graph, enricher)
	if err != nil {
		return fail("error enriching entities", err)
	}
	report.Enriched = len(enrichment)
	if enricher != nil {
		report.Degraded = enricher.Degraded()
	}

	// Steps 3 and 4: Flatten into each sink. Each sink gets its own pass.
	for _, sink := range sinks {
		n, err := sink.WriteRows(ctx, report.RunID, Flatten(graph, enrichment))
		if err != nil {
			return fail(fmt.Sprintf("error writing to %s", sink.Name()), err)
		}
		report.Sinks = append(report.Sinks, SinkResult{Name: sink.Name(), Rows: n})
	}

	report.FinishedAt = time.Now().UTC()
	GenerateReport(report)

	span.SetAttributes(
		attribute.Int("rows", report.Graph.Triples),
		attribute.Int("degraded", len(report.Degraded)),
	)
	if len(report.Degraded) > 0 {
		logger.Warn("Some entity documents could not be enriched; their columns are empty",
			zap.Int("degraded", len(report.Degraded)),
		)
	}
	logger.Info(report.Summary, zap.Duration("elapsed", report.Duration()))
	return report, nil
}
