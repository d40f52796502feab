package results

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// SinkResult records what one sink wrote.
type SinkResult struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
}

// Report summarizes a pipeline run.
type Report struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Graph      schemas.Stats       `json:"graph"`
	Enriched   int                 `json:"enriched"`
	Degraded   []schemas.EntityRef `json:"degraded,omitempty"`
	Sinks      []SinkResult        `json:"sinks"`
	Summary    string              `json:"summary"`
}

// GenerateReport fills in the summary line once every stage has reported.
func GenerateReport(r *Report) *Report {
	rows := 0
	if len(r.Sinks) > 0 {
		rows = r.Sinks[0].Rows
	}
	r.Summary = fmt.Sprintf("Wrote %d rows from %d threats, %d properties and %d mitigations; %d of %d entity documents degraded.",
		rows, r.Graph.Threats, r.Graph.Properties, r.Graph.Mitigations, len(r.Degraded), r.Enriched)
	return r
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToJSON renders the report for display.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
