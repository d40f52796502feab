package schemas

// OutputRow is one flattened (Property, Threat, Mitigation) triple.
type OutputRow struct {
	PropertyID   string `json:"property_id"`
	PropertyText string `json:"property_text"`

	ThreatID                       string `json:"threat_id"`
	ThreatText                     string `json:"threat_text"`
	ThreatDescription              string `json:"threat_description"`
	ThreatProofOfConcept           string `json:"threat_proof_of_concept"`
	ThreatKnownExploitableWeakness string `json:"threat_known_exploitable_weakness"`
	CVE                            string `json:"cve"`
	CWE                            string `json:"cwe"`

	MitigationID                string `json:"mitigation_id"`
	MitigationText              string `json:"mitigation_text"`
	MitigationLevel             string `json:"mitigation_level"`
	MitigationDescription       string `json:"mitigation_description"`
	MitigationRegulatoryMapping string `json:"mitigation_regulatory_mapping"`
}

// columns is the fixed output header. It must stay backward compatible: new
// upstream fields are appended, never inserted, and absent ones stay empty.
var columns = []string{
	"Property ID",
	"Property text",
	"Threat ID",
	"Threat text",
	"Threat Description",
	"Threat Proof of Concept",
	"Threat Known Exploitable Weakness",
	"CVE",
	"CWE",
	"Mitigation ID",
	"Mitigation Text",
	"Mitigation Level",
	"Mitigation Description",
	"Mitigation Regulatory Mapping",
}

// Columns returns a copy of the fixed header.
func Columns() []string {
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

// Values returns the row's cells in Columns order.
func (r OutputRow) Values() []string {
	return []string{
		r.PropertyID,
		r.PropertyText,
		r.ThreatID,
		r.ThreatText,
		r.ThreatDescription,
		r.ThreatProofOfConcept,
		r.ThreatKnownExploitableWeakness,
		r.CVE,
		r.CWE,
		r.MitigationID,
		r.MitigationText,
		r.MitigationLevel,
		r.MitigationDescription,
		r.MitigationRegulatoryMapping,
	}
}
