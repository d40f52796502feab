package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
	"github.com/xkilldash9x/emb3d-mapper/internal/knowledgegraph"
	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

// STIX object and relationship types recognized in a bundle.
const (
	TypeVulnerability  = "vulnerability"
	TypeCourseOfAction = "course-of-action"
	TypeProperty       = "x-mitre-emb3d-property"
	TypeRelationship   = "relationship"

	RelMitigates = "mitigates"
	RelRelatesTo = "relates-to"

	// ExternalSource is the external_references source_name carrying EMB3D ids.
	ExternalSource = "mitre-emb3d"
)

// -- Wire format --

type bundleDocument struct {
	Objects       []json.RawMessage `json:"objects"`
	Relationships []json.RawMessage `json:"relationships"`
}

// stixEnvelope is decoded first to dispatch on type.
type stixEnvelope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type externalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url,omitempty"`
}

type stixEntity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ExternalRefs []externalReference `json:"external_references,omitempty"`
	Level        string              `json:"x_mitre_emb3d_level,omitempty"`
	// Inline property associations; either ids or {id, text} objects.
	Properties []json.RawMessage `json:"x_mitre_emb3d_properties,omitempty"`
}

type stixRelationship struct {
	Type             string `json:"type"`
	ID               string `json:"id"`
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"` // course-of-action for mitigates
	TargetRef        string `json:"target_ref"` // vulnerability for mitigates
	Level            string `json:"x_mitre_emb3d_level,omitempty"`
}

func humanID(e stixEntity) string {
	for _, ref := range e.ExternalRefs {
		if strings.EqualFold(ref.SourceName, ExternalSource) && ref.ExternalID != "" {
			return ref.ExternalID
		}
	}
	return e.ID
}

// BundleAdapter reads a flat object bundle whose associations are expressed
// as relationship records.
type BundleAdapter struct {
	payload []byte
	logger  *zap.Logger
}

// NewBundle creates an adapter over a STIX-style bundle payload.
func NewBundle(payload []byte, logger *zap.Logger) *BundleAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleAdapter{payload: payload, logger: logger.Named("bundle_adapter")}
}

// bundleIndex maps STIX ids to EMB3D ids, per node type.
type bundleIndex struct {
	threats     map[string]string
	mitigations map[string]string
	properties  map[string]string
}

// Load decodes the bundle in two passes: entities first, then relationships,
// so edges may reference objects declared after them.
func (a *BundleAdapter) Load(ctx context.Context) (*schemas.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(a.payload, &envelope); err != nil {
		return nil, &pipelineerr.SourceSchemaError{Key: "$", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	if _, ok := envelope["objects"]; !ok {
		return nil, &pipelineerr.SourceSchemaError{Key: "objects", Reason: "required key is missing"}
	}

	var doc bundleDocument
	if err := json.Unmarshal(a.payload, &doc); err != nil {
		return nil, &pipelineerr.SourceSchemaError{Key: "objects", Reason: err.Error()}
	}

	b := knowledgegraph.NewBuilder(a.logger)
	idx := bundleIndex{
		threats:     make(map[string]string),
		mitigations: make(map[string]string),
		properties:  make(map[string]string),
	}

	var (
		relationships []stixRelationship
		vulnerables   []stixEntity
	)

	// -- Pass 1: entities --
	for i, raw := range doc.Objects {
		var env stixEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, &pipelineerr.SourceSchemaError{Key: fmt.Sprintf("objects[%d]", i), Reason: err.Error()}
		}

		switch env.Type {
		case TypeRelationship:
			var rel stixRelationship
			if err := json.Unmarshal(raw, &rel); err != nil {
				return nil, &pipelineerr.SourceSchemaError{Key: fmt.Sprintf("objects[%d]", i), Reason: err.Error()}
			}
			relationships = append(relationships, rel)

		case TypeVulnerability, TypeCourseOfAction, TypeProperty:
			var ent stixEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, &pipelineerr.SourceSchemaError{Key: fmt.Sprintf("objects[%d]", i), Reason: err.Error()}
			}
			if ent.ID == "" {
				return nil, &pipelineerr.SourceSchemaError{Key: fmt.Sprintf("objects[%d].id", i), Reason: env.Type + " has no id"}
			}
			id := humanID(ent)

			switch env.Type {
			case TypeVulnerability:
				idx.threats[ent.ID] = id
				b.AddThreat(id, ent.Name)
				vulnerables = append(vulnerables, ent)
			case TypeCourseOfAction:
				idx.mitigations[ent.ID] = id
				b.AddMitigation(schemas.Mitigation{ID: id, Text: ent.Name, Level: ent.Level})
			case TypeProperty:
				idx.properties[ent.ID] = id
				b.AddProperty(schemas.Property{ID: id, Text: ent.Name})
			}

		default:
			a.logger.Debug("Ignoring object", zap.String("type", env.Type), zap.String("id", env.ID))
		}
	}

	if len(idx.threats) == 0 {
		return nil, &pipelineerr.SourceSchemaError{Key: TypeVulnerability, Reason: "bundle contains no vulnerability objects"}
	}
	if len(idx.mitigations) == 0 {
		return nil, &pipelineerr.SourceSchemaError{Key: TypeCourseOfAction, Reason: "bundle contains no course-of-action objects"}
	}

	for i, raw := range doc.Relationships {
		var rel stixRelationship
		if err := json.Unmarshal(raw, &rel); err != nil {
			return nil, &pipelineerr.SourceSchemaError{Key: fmt.Sprintf("relationships[%d]", i), Reason: err.Error()}
		}
		relationships = append(relationships, rel)
	}

	// -- Pass 2: associations --
	for _, v := range vulnerables {
		a.linkInlineProperties(b, idx.threats[v.ID], v.Properties)
	}

	for _, rel := range relationships {
		switch rel.RelationshipType {
		case RelMitigates:
			threatID, okT := idx.threats[rel.TargetRef]
			mitigationID, okM := idx.mitigations[rel.SourceRef]
			if !okT || !okM {
				a.logger.Debug("Ignoring mitigates edge with unexpected endpoints",
					zap.String("id", rel.ID),
					zap.String("source_ref", rel.SourceRef),
					zap.String("target_ref", rel.TargetRef),
				)
				continue
			}
			b.LinkMitigation(threatID, schemas.MitigationLink{ID: mitigationID, Level: rel.Level})

		case RelRelatesTo:
			threatID, propertyID, ok := idx.propertyEdge(rel)
			if !ok {
				a.logger.Debug("Ignoring relates-to edge", zap.String("id", rel.ID))
				continue
			}
			b.LinkProperty(threatID, propertyID)
		}
	}

	g := b.Build()
	a.logger.Info("Loaded bundle source",
		zap.Any("stats", g.Stats()),
		zap.Int("relationships", len(relationships)),
		zap.Int("dropped_links", b.Dropped()),
	)
	return g, nil
}

// propertyEdge resolves a relates-to edge between a vulnerability and a
// property, in either direction.
func (idx bundleIndex) propertyEdge(rel stixRelationship) (threatID, propertyID string, ok bool) {
	if t, okT := idx.threats[rel.SourceRef]; okT {
		if p, okP := idx.properties[rel.TargetRef]; okP {
			return t, p, true
		}
	}
	if t, okT := idx.threats[rel.TargetRef]; okT {
		if p, okP := idx.properties[rel.SourceRef]; okP {
			return t, p, true
		}
	}
	return "", "", false
}

// linkInlineProperties handles x_mitre_emb3d_properties, whose entries are
// either bare property ids or {id, text} objects.
func (a *BundleAdapter) linkInlineProperties(b *knowledgegraph.Builder, threatID string, raw []json.RawMessage) {
	for _, item := range raw {
		var p schemas.Property
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			p.ID = id
		} else if err := json.Unmarshal(item, &p); err != nil {
			a.logger.Warn("Skipping malformed inline property", zap.String("threat", threatID), zap.Error(err))
			continue
		}
		if p.ID == "" {
			continue
		}
		b.AddProperty(p)
		b.LinkProperty(threatID, p.ID)
	}
}
