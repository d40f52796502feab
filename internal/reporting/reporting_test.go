package reporting

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
	"github.com/xkilldash9x/emb3d-mapper/internal/config"
	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

func sampleRows() []schemas.OutputRow {
	return []schemas.OutputRow{
		{
			PropertyID: "PID-1", PropertyText: "Weak input validation",
			ThreatID: "TID-101", ThreatText: "Buffer overflow",
			ThreatDescription: "Writes past, the end", CVE: "CVE-2021-12345; CVE-2020-0001",
			MitigationID: "MID-001", MitigationText: "Apply bounds checking", MitigationLevel: "Foundational",
		},
		{
			PropertyID: "PID-1", PropertyText: "Weak input validation",
			ThreatID: "TID-101", ThreatText: "Buffer overflow",
			MitigationID: "MID-002", MitigationText: "Quote \"this\"",
		},
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n, err := WriteCSV(context.Background(), &buf, slices.Values(sampleRows()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, schemas.Columns(), records[0])
	assert.Equal(t, sampleRows()[0].Values(), records[1])
	assert.Equal(t, `Quote "this"`, records[2][10])
	assert.Equal(t, "", records[2][4], "absent values are empty cells")
}

func TestWriteCSVHeaderOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n, err := WriteCSV(context.Background(), &buf, slices.Values([]schemas.OutputRow(nil)))
	require.NoError(t, err)
	assert.Zero(t, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	t.Run("should write a valid array", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := WriteJSON(context.Background(), &buf, slices.Values(sampleRows()))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		var decoded []schemas.OutputRow
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, sampleRows(), decoded)
	})

	t.Run("should write an empty array", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := WriteJSON(context.Background(), &buf, slices.Values([]schemas.OutputRow{}))
		require.NoError(t, err)
		assert.Equal(t, "[]\n", buf.String())
	})
}

// readSheet opens a workbook and pads every row to the full column count.
func readSheet(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	width := len(schemas.Columns())
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
	return rows
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()

	t.Run("should round trip header and rows", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := WriteXLSX(context.Background(), &buf, slices.Values(sampleRows()))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rows := readSheet(t, buf.Bytes())
		require.Len(t, rows, 3)
		assert.Equal(t, schemas.Columns(), rows[0])
		for i, want := range sampleRows() {
			assert.Equal(t, want.Values(), rows[i+1])
		}
	})

	t.Run("should write only the header for no rows", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := WriteXLSX(context.Background(), &buf, slices.Values([]schemas.OutputRow(nil)))
		require.NoError(t, err)
		assert.Zero(t, n)

		rows := readSheet(t, buf.Bytes())
		require.Len(t, rows, 1)
		assert.Equal(t, schemas.Columns(), rows[0])
	})

	t.Run("should clip text beyond the cell limit", func(t *testing.T) {
		row := sampleRows()[0]
		row.ThreatDescription = strings.Repeat("a", excelize.TotalCellChars+10)

		var buf bytes.Buffer
		_, err := WriteXLSX(context.Background(), &buf, slices.Values([]schemas.OutputRow{row}))
		require.NoError(t, err)

		rows := readSheet(t, buf.Bytes())
		require.Len(t, rows, 2)
		assert.Len(t, rows[1][4], excelize.TotalCellChars)
	})
}

func TestWritersHonourCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WriteCSV(ctx, &bytes.Buffer{}, slices.Values(sampleRows()))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = WriteJSON(ctx, &bytes.Buffer{}, slices.Values(sampleRows()))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = WriteXLSX(ctx, &bytes.Buffer{}, slices.Values(sampleRows()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	t.Run("should write the table to its path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "emb3d_mapping.csv")
		sink, err := NewFileSink(path, config.FormatCSV, nil)
		require.NoError(t, err)
		assert.Equal(t, "csv:"+path, sink.Name())

		n, err := sink.WriteRows(context.Background(), "run-1", slices.Values(sampleRows()))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "Property ID,Property text,Threat ID")

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temporary file must not remain")
	})

	t.Run("should keep the previous file when writing fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.json")
		require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

		sink, err := NewFileSink(path, config.FormatJSON, nil)
		require.NoError(t, err)

		boom := errors.New("boom")
		sink.write = func(context.Context, io.Writer, iter.Seq[schemas.OutputRow]) (int, error) {
			return 0, boom
		}
		_, err = sink.WriteRows(context.Background(), "run-1", slices.Values(sampleRows()))
		assert.ErrorIs(t, err, boom)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "previous", string(content))
	})

	t.Run("should stream to stdout", func(t *testing.T) {
		sink, err := NewFileSink(Stdout, config.FormatJSON, nil)
		require.NoError(t, err)
		var buf bytes.Buffer
		sink.stdout = &buf

		n, err := sink.WriteRows(context.Background(), "run-1", slices.Values(sampleRows()))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.True(t, json.Valid(buf.Bytes()))
	})

	t.Run("should write a workbook to its path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "emb3d_mapping.xlsx")
		sink, err := NewFileSink(path, config.FormatXLSX, nil)
		require.NoError(t, err)

		n, err := sink.WriteRows(context.Background(), "run-1", slices.Values(sampleRows()))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		rows := readSheet(t, data)
		require.Len(t, rows, 3)
		assert.Equal(t, "MID-002", rows[2][9])
	})

	t.Run("should reject unknown formats and empty paths", func(t *testing.T) {
		var cfgErr *pipelineerr.ConfigurationError

		_, err := NewFileSink("out.ods", "ods", nil)
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "output.format", cfgErr.Field)

		_, err = NewFileSink("", config.FormatCSV, nil)
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "output.path", cfgErr.Field)
	})
}
