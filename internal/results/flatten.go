package results

import (
	"iter"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// Flatten yields one row per (property, threat, mitigation) triple: threats in
// graph order, then each threat's properties, then its mitigations. A threat
// lacking properties or mitigations contributes no rows.
//
// Entities missing from enrichment get empty enrichment columns. The inputs
// are only read, so calling Flatten again walks the same rows in the same order.
func Flatten(graph *schemas.Graph, enrichment map[schemas.EntityRef]schemas.EnrichmentRecord) iter.Seq[schemas.OutputRow] {
	return func(yield func(schemas.OutputRow) bool) {
		for _, threat := range graph.Threats {
			te := enrichment[schemas.EntityRef{Kind: schemas.KindThreat, ID: threat.ID}]

			for _, propertyID := range threat.Properties {
				propertyText := graph.ResolvePropertyText(propertyID)

				for _, link := range threat.Mitigations {
					mitigation, ok := graph.Mitigation(link.ID)
					if !ok {
						continue
					}
					text, level := link.Text, link.Level
					if text == "" {
						text = mitigation.Text
					}
					if level == "" {
						level = mitigation.Level
					}
					me := enrichment[schemas.EntityRef{Kind: schemas.KindMitigation, ID: link.ID}]

					row := schemas.OutputRow{
						PropertyID:   propertyID,
						PropertyText: propertyText,

						ThreatID:                       threat.ID,
						ThreatText:                     threat.Text,
						ThreatDescription:              te.Description,
						ThreatProofOfConcept:           te.ProofOfConcept,
						ThreatKnownExploitableWeakness: te.KnownExploitableWeakness,
						CVE:                            te.CVEString(),
						CWE:                            te.CWEString(),

						MitigationID:                link.ID,
						MitigationText:              text,
						MitigationLevel:             NormalizeLevel(level),
						MitigationDescription:       me.Description,
						MitigationRegulatoryMapping: me.RegulatoryMapping,
					}
					if !yield(row) {
						return
					}
				}
			}
		}
	}
}

// Collect materializes a row sequence.
func Collect(rows iter.Seq[schemas.OutputRow]) []schemas.OutputRow {
	var out []schemas.OutputRow
	for row := range rows {
		out = append(out, row)
	}
	return out
}
