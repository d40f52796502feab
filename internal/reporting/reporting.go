// Package reporting writes flattened rows to tabular outputs.
package reporting

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// RowSink consumes one pass over a row sequence and reports how many rows it
// wrote. runID identifies the pipeline run for sinks that record it.
type RowSink interface {
	Name() string
	WriteRows(ctx context.Context, runID string, rows iter.Seq[schemas.OutputRow]) (int, error)
}

// checkEvery bounds how many rows are written between context checks.
const checkEvery = 256

// -- CSV --

// WriteCSV writes the fixed header followed by one record per row.
func WriteCSV(ctx context.Context, w io.Writer, rows iter.Seq[schemas.OutputRow]) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(schemas.Columns()); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	n := 0
	for row := range rows {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		if err := cw.Write(row.Values()); err != nil {
			return n, fmt.Errorf("write csv row %d: %w", n+1, err)
		}
		n++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

// -- JSON --

// WriteJSON writes the rows as a JSON array of objects, one object per line.
func WriteJSON(ctx context.Context, w io.Writer, rows iter.Seq[schemas.OutputRow]) (int, error) {
	if _, err := io.WriteString(w, "["); err != nil {
		return 0, fmt.Errorf("write json: %w", err)
	}

	n := 0
	for row := range rows {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		b, err := json.Marshal(row)
		if err != nil {
			return n, fmt.Errorf("encode json row %d: %w", n+1, err)
		}
		sep := ",\n  "
		if n == 0 {
			sep = "\n  "
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return n, fmt.Errorf("write json: %w", err)
		}
		if _, err := w.Write(b); err != nil {
			return n, fmt.Errorf("write json: %w", err)
		}
		n++
	}

	tail := "\n]\n"
	if n == 0 {
		tail = "]\n"
	}
	if _, err := io.WriteString(w, tail); err != nil {
		return n, fmt.Errorf("write json: %w", err)
	}
	return n, nil
}
