package source

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
	"github.com/xkilldash9x/emb3d-mapper/internal/knowledgegraph"
	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

// -- Wire format --

type hierarchicalDocument struct {
	Threats []hierarchicalThreat `json:"threats"`
	// Optional lookup tables, shaped like the site's companion
	// properties/mitigations mapping files.
	Properties  []hierarchicalProperty   `json:"properties"`
	Mitigations []hierarchicalMitigation `json:"mitigations"`
}

type hierarchicalThreat struct {
	ID          string                   `json:"id"`
	Text        string                   `json:"text"`
	Properties  []hierarchicalProperty   `json:"properties"`
	Mitigations []hierarchicalMitigation `json:"mitigations"`
}

type hierarchicalProperty struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type hierarchicalMitigation struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Level string `json:"level"`
}

// HierarchicalAdapter reads the pre-joined mapping document, where each threat
// embeds its property and mitigation associations.
type HierarchicalAdapter struct {
	payload []byte
	logger  *zap.Logger
}

// NewHierarchical creates an adapter over a hierarchical JSON payload.
func NewHierarchical(payload []byte, logger *zap.Logger) *HierarchicalAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HierarchicalAdapter{payload: payload, logger: logger.Named("hierarchical_adapter")}
}

// Load decodes the payload and builds the graph.
func (a *HierarchicalAdapter) Load(ctx context.Context) (*schemas.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(a.payload, &envelope); err != nil {
		return nil, &pipelineerr.SourceSchemaError{Key: "$", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	if _, ok := envelope["threats"]; !ok {
		return nil, &pipelineerr.SourceSchemaError{Key: "threats", Reason: "required key is missing"}
	}

	var doc hierarchicalDocument
	if err := json.Unmarshal(a.payload, &doc); err != nil {
		return nil, &pipelineerr.SourceSchemaError{Key: "threats", Reason: err.Error()}
	}
	if len(doc.Threats) == 0 {
		return nil, &pipelineerr.SourceSchemaError{Key: "threats", Reason: "no threats present"}
	}

	b := knowledgegraph.NewBuilder(a.logger)

	// The lookup table takes precedence over texts found inline.
	for _, p := range doc.Properties {
		b.SetPropertyFallback(p.ID, p.Text)
	}

	for i, t := range doc.Threats {
		if t.ID == "" {
			return nil, &pipelineerr.SourceSchemaError{Key: fmt.Sprintf("threats[%d].id", i), Reason: "threat has no id"}
		}
		b.AddThreat(t.ID, t.Text)

		for _, p := range t.Properties {
			if p.ID == "" {
				a.logger.Warn("Skipping property without id", zap.String("threat", t.ID))
				continue
			}
			b.AddProperty(schemas.Property{ID: p.ID, Text: p.Text})
			b.LinkProperty(t.ID, p.ID)
		}

		for _, m := range t.Mitigations {
			if m.ID == "" {
				a.logger.Warn("Skipping mitigation without id", zap.String("threat", t.ID))
				continue
			}
			b.AddMitigation(schemas.Mitigation{ID: m.ID, Text: m.Text, Level: m.Level})
			b.LinkMitigation(t.ID, schemas.MitigationLink{ID: m.ID, Text: m.Text, Level: m.Level})
		}
	}

	// Top-level mitigation entries only complete nodes that are referenced.
	for _, m := range doc.Mitigations {
		if b.HasMitigation(m.ID) {
			b.AddMitigation(schemas.Mitigation{ID: m.ID, Text: m.Text, Level: m.Level})
		}
	}

	g := b.Build()
	a.logger.Info("Loaded hierarchical source", zap.Any("stats", g.Stats()))
	return g, nil
}
