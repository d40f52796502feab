package knowledgegraph

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// Builder accumulates EMB3D nodes and associations in first-seen order and
// produces an immutable schemas.Graph. Both source adapters feed one.
//
// Nodes are de-duplicated by id: the first occurrence fixes the position of a
// threat, and a later occurrence only fills text that was still empty. Links
// are de-duplicated per threat and links to unknown nodes are dropped.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	threats     []schemas.Threat
	threatIndex map[string]int

	properties   map[string]schemas.Property
	mitigations  map[string]schemas.Mitigation
	propertyText map[string]string

	propertyLinks   map[string]map[string]struct{}
	mitigationLinks map[string]map[string]struct{}

	dropped int
	log     *zap.Logger
}

// NewBuilder creates an empty graph builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		threatIndex:     make(map[string]int),
		properties:      make(map[string]schemas.Property),
		mitigations:     make(map[string]schemas.Mitigation),
		propertyText:    make(map[string]string),
		propertyLinks:   make(map[string]map[string]struct{}),
		mitigationLinks: make(map[string]map[string]struct{}),
		log:             logger.Named("graph_builder"),
	}
}

// AddThreat registers a threat. It reports whether the id was new.
func (b *Builder) AddThreat(id, text string) bool {
	if i, ok := b.threatIndex[id]; ok {
		if b.threats[i].Text == "" {
			b.threats[i].Text = text
		}
		return false
	}
	b.threatIndex[id] = len(b.threats)
	b.threats = append(b.threats, schemas.Threat{ID: id, Text: text})
	return true
}

// HasThreat reports whether a threat with id has been registered.
func (b *Builder) HasThreat(id string) bool {
	_, ok := b.threatIndex[id]
	return ok
}

// AddProperty registers a property node. Inline text also seeds the fallback
// table so other threats referencing the id without text resolve it.
func (b *Builder) AddProperty(p schemas.Property) bool {
	existing, ok := b.properties[p.ID]
	if ok {
		if existing.Text == "" && p.Text != "" {
			existing.Text = p.Text
			b.properties[p.ID] = existing
		}
	} else {
		b.properties[p.ID] = p
	}
	b.SetPropertyFallback(p.ID, p.Text)
	return !ok
}

// HasProperty reports whether a property with id has been registered.
func (b *Builder) HasProperty(id string) bool {
	_, ok := b.properties[id]
	return ok
}

// SetPropertyFallback records text in the global property table unless the id
// already has an entry. Empty text is ignored.
func (b *Builder) SetPropertyFallback(id, text string) {
	if text == "" {
		return
	}
	if _, ok := b.propertyText[id]; ok {
		return
	}
	b.propertyText[id] = text
}

// AddMitigation registers a mitigation node.
func (b *Builder) AddMitigation(m schemas.Mitigation) bool {
	existing, ok := b.mitigations[m.ID]
	if !ok {
		b.mitigations[m.ID] = m
		return true
	}
	if existing.Text == "" {
		existing.Text = m.Text
	}
	if existing.Level == "" {
		existing.Level = m.Level
	}
	b.mitigations[m.ID] = existing
	return false
}

// HasMitigation reports whether a mitigation with id has been registered.
func (b *Builder) HasMitigation(id string) bool {
	_, ok := b.mitigations[id]
	return ok
}

// LinkProperty appends propertyID to the threat's property list. It reports
// whether a new association was recorded.
func (b *Builder) LinkProperty(threatID, propertyID string) bool {
	i, ok := b.threatIndex[threatID]
	if !ok || !b.HasProperty(propertyID) {
		b.drop("property", threatID, propertyID)
		return false
	}
	if !addLink(b.propertyLinks, threatID, propertyID) {
		return false
	}
	b.threats[i].Properties = append(b.threats[i].Properties, propertyID)
	return true
}

// LinkMitigation appends a mitigation association to the threat. link.Level
// may be empty, in which case the mitigation's own level applies.
func (b *Builder) LinkMitigation(threatID string, link schemas.MitigationLink) bool {
	i, ok := b.threatIndex[threatID]
	if !ok || !b.HasMitigation(link.ID) {
		b.drop("mitigation", threatID, link.ID)
		return false
	}
	if !addLink(b.mitigationLinks, threatID, link.ID) {
		return false
	}
	b.threats[i].Mitigations = append(b.threats[i].Mitigations, link)
	return true
}

// Dropped returns the number of links rejected because an endpoint was unknown.
func (b *Builder) Dropped() int {
	return b.dropped
}

// Build returns the accumulated graph. The builder must not be used afterwards.
func (b *Builder) Build() *schemas.Graph {
	g := &schemas.Graph{
		Threats:      b.threats,
		Properties:   b.properties,
		Mitigations:  b.mitigations,
		PropertyText: b.propertyText,
	}
	if g.Threats == nil {
		g.Threats = []schemas.Threat{}
	}

	stats := g.Stats()
	b.log.Debug("Graph built",
		zap.Int("threats", stats.Threats),
		zap.Int("properties", stats.Properties),
		zap.Int("mitigations", stats.Mitigations),
		zap.Int("triples", stats.Triples),
		zap.Int("dropped_links", b.dropped),
	)
	return g
}

func (b *Builder) drop(kind, threatID, targetID string) {
	b.dropped++
	b.log.Debug("Dropping link to unknown node",
		zap.String("kind", kind),
		zap.String("threat", threatID),
		zap.String("target", targetID),
	)
}

func addLink(links map[string]map[string]struct{}, from, to string) bool {
	set, ok := links[from]
	if !ok {
		set = make(map[string]struct{})
		links[from] = set
	}
	if _, seen := set[to]; seen {
		return false
	}
	set[to] = struct{}{}
	return true
}
