package reporting

import (
	"context"
	"fmt"
	"io"
	"iter"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// SheetName is the worksheet holding the table in xlsx output.
const SheetName = "Sheet1"

// WriteXLSX writes the fixed header and one worksheet row per output row as an
// unstyled workbook. Empty values are left as blank cells.
func WriteXLSX(ctx context.Context, w io.Writer, rows iter.Seq[schemas.OutputRow]) (n int, err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return 0, fmt.Errorf("open xlsx stream: %w", err)
	}
	if err := writeSheetRow(sw, 1, schemas.Columns()); err != nil {
		return 0, fmt.Errorf("write xlsx header: %w", err)
	}

	for row := range rows {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		if err := writeSheetRow(sw, n+2, row.Values()); err != nil {
			return n, fmt.Errorf("write xlsx row %d: %w", n+1, err)
		}
		n++
	}

	if err := sw.Flush(); err != nil {
		return n, fmt.Errorf("flush xlsx stream: %w", err)
	}
	if err := f.Write(w); err != nil {
		return n, fmt.Errorf("write workbook: %w", err)
	}
	return n, nil
}

func writeSheetRow(sw *excelize.StreamWriter, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		cells[i] = clipCell(v)
	}
	return sw.SetRow(cell, cells)
}

// clipCell shortens v to the number of characters a worksheet cell can hold.
func clipCell(v string) string {
	if utf8.RuneCountInString(v) <= excelize.TotalCellChars {
		return v
	}
	return string([]rune(v)[:excelize.TotalCellChars])
}
