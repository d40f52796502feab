package schemas

import "strings"

// EntityKind names the two entity families that have per-entity documents.
type EntityKind string

const (
	KindThreat     EntityKind = "threat"
	KindMitigation EntityKind = "mitigation"
)

// EntityRef identifies one per-entity document. It is comparable and used as a map key.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ListSeparator joins multi-valued enrichment fields into a single cell.
const ListSeparator = "; "

// EnrichmentRecord holds the fields scraped from an entity's document.
// The zero value is the "empty" record used when retrieval or parsing failed.
type EnrichmentRecord struct {
	Description              string   `json:"description,omitempty"`
	ProofOfConcept           string   `json:"proof_of_concept,omitempty"`
	KnownExploitableWeakness string   `json:"known_exploitable_weakness,omitempty"`
	CVE                      []string `json:"cve,omitempty"`
	CWE                      []string `json:"cwe,omitempty"`
	RegulatoryMapping        string   `json:"regulatory_mapping,omitempty"`
}

// IsEmpty reports whether no field was populated.
func (r EnrichmentRecord) IsEmpty() bool {
	return r.Description == "" &&
		r.ProofOfConcept == "" &&
		r.KnownExploitableWeakness == "" &&
		len(r.CVE) == 0 &&
		len(r.CWE) == 0 &&
		r.RegulatoryMapping == ""
}

// CVEString joins the CVE identifiers for a table cell.
func (r EnrichmentRecord) CVEString() string {
	return strings.Join(r.CVE, ListSeparator)
}

// CWEString joins the CWE identifiers for a table cell.
func (r EnrichmentRecord) CWEString() string {
	return strings.Join(r.CWE, ListSeparator)
}
