// internal/results/enrich.go
package results

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// Enricher supplies per-entity records. *enrich.Fetcher satisfies it.
type Enricher interface {
	Enrich(ctx context.Context, refs []schemas.EntityRef) map[schemas.EntityRef]schemas.EnrichmentRecord
	Degraded() []schemas.EntityRef
}

// Enrich collects records for every threat and mitigation the graph
// references. A nil enricher yields an empty mapping, so every row carries
// empty enrichment columns.
func Enrich(ctx context.Context, graph *schemas.Graph, enricher Enricher) (map[schemas.EntityRef]schemas.EnrichmentRecord, error) {
	if enricher == nil {
		return map[schemas.EntityRef]schemas.EnrichmentRecord{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("enrichment cancelled: %w", err)
	}
	return enricher.Enrich(ctx, graph.EntityRefs()), nil
}
