package schemas

// -- Core Graph Models --
// These types represent the EMB3D entities once an adapter has normalized the
// upstream payload. Nothing here is mutated after the graph has been built.

// Property is a device characteristic that exposes it to a class of threats.
type Property struct {
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

// Mitigation is a countermeasure rated by a maturity level.
type Mitigation struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Level string `json:"level,omitempty"`
}

// MitigationLink associates a Threat with a Mitigation. Text and Level
// override the Mitigation's own values when the source words or rates the
// pair individually.
type MitigationLink struct {
	ID    string `json:"id"`
	Text  string `json:"text,omitempty"`
	Level string `json:"level,omitempty"`
}

// Threat is a class of attack. Its association lists hold references only.
type Threat struct {
	ID          string           `json:"id"`
	Text        string           `json:"text"`
	Properties  []string         `json:"properties"`
	Mitigations []MitigationLink `json:"mitigations"`
}

// Graph is the common in-memory form produced by every source adapter.
type Graph struct {
	// Threats are kept in source order; row emission follows this order.
	Threats     []Threat              `json:"threats"`
	Properties  map[string]Property   `json:"properties"`
	Mitigations map[string]Mitigation `json:"mitigations"`
	// PropertyText is the global fallback table for properties carrying no inline text.
	PropertyText map[string]string `json:"property_text,omitempty"`
}

// Property returns the property node for id.
func (g *Graph) Property(id string) (Property, bool) {
	p, ok := g.Properties[id]
	return p, ok
}

// Mitigation returns the mitigation node for id.
func (g *Graph) Mitigation(id string) (Mitigation, bool) {
	m, ok := g.Mitigations[id]
	return m, ok
}

// ResolvePropertyText applies the fallback chain: inline text, then the global
// table, then the empty string.
func (g *Graph) ResolvePropertyText(id string) string {
	if p, ok := g.Properties[id]; ok && p.Text != "" {
		return p.Text
	}
	return g.PropertyText[id]
}

// EntityRefs lists every distinct threat and mitigation referenced by the
// graph, threats first, each group in first-seen order.
func (g *Graph) EntityRefs() []EntityRef {
	seen := make(map[EntityRef]struct{})
	refs := make([]EntityRef, 0, len(g.Threats)+len(g.Mitigations))
	add := func(ref EntityRef) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}

	for _, t := range g.Threats {
		add(EntityRef{Kind: KindThreat, ID: t.ID})
	}
	for _, t := range g.Threats {
		for _, link := range t.Mitigations {
			add(EntityRef{Kind: KindMitigation, ID: link.ID})
		}
	}
	return refs
}

// Stats summarizes the graph for logging.
type Stats struct {
	Threats     int `json:"threats"`
	Properties  int `json:"properties"`
	Mitigations int `json:"mitigations"`
	Triples     int `json:"triples"`
}

// Stats counts nodes and the number of (property, threat, mitigation) triples.
func (g *Graph) Stats() Stats {
	s := Stats{
		Threats:     len(g.Threats),
		Properties:  len(g.Properties),
		Mitigations: len(g.Mitigations),
	}
	for _, t := range g.Threats {
		s.Triples += len(t.Properties) * len(t.Mitigations)
	}
	return s
}
