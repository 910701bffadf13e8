// Package sheet reads uploaded workbooks and CSV files into ingestion rows.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/celerix-dev/celerix-collections/internal/ingest"
)

// ErrUnsupportedFormat is returned for file types the reader cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Sheet is the decoded content of one upload.
type Sheet struct {
	// Headers as they appeared in the first row.
	Headers []string
	Rows    []ingest.Row
	// Issues are non-fatal header problems, already prefixed with "header:".
	Issues []string
}

// Read decodes r according to the extension of filename.
func Read(filename string, r io.Reader) (*Sheet, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx", ".xlsm":
		return readWorkbook(r)
	case ".csv":
		return readCSV(r)
	case ".xls":
		return nil, fmt.Errorf("%w: legacy .xls workbooks are not supported, save as .xlsx", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Supported reports whether filename has an extension Read accepts.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	}
	return false
}

func readWorkbook(r io.Reader) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	// Date cells are read unformatted so every date number format
	// arrives as a serial day number.
	raw, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromGrid(grid, raw), nil
}

func readCSV(r io.Reader) (*Sheet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	grid, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromGrid(grid, nil), nil
}

// fromGrid keys every data row by its header. Short rows are padded and
// cells beyond the header are dropped. Blank rows inside the data are kept
// so rows stay numbered by their position in the file; trailing blank rows
// are cut. raw, when set, supplies the unformatted Date cells.
func fromGrid(grid, raw [][]string) *Sheet {
	s := &Sheet{Rows: []ingest.Row{}}
	if len(grid) == 0 {
		s.Issues = ingest.CheckHeaders(nil)
		return s
	}
	s.Headers = grid[0]
	if len(s.Headers) > 0 {
		s.Headers[0] = strings.TrimPrefix(s.Headers[0], "\ufeff")
	}
	s.Issues = ingest.CheckHeaders(s.Headers)

	var dateCols []int
	for i, h := range s.Headers {
		if col, ok := ingest.CanonicalColumn(h); ok && col == ingest.ColDate {
			dateCols = append(dateCols, i)
		}
	}

	data := grid[1:]
	for len(data) > 0 && blank(data[len(data)-1]) {
		data = data[:len(data)-1]
	}
	for n, line := range data {
		if len(dateCols) > 0 && n+1 < len(raw) {
			line = withRawCells(line, raw[n+1], dateCols)
		}
		s.Rows = append(s.Rows, ingest.RowFromCells(s.Headers, line))
	}
	return s
}

func withRawCells(line, raw []string, cols []int) []string {
	out := slices.Clone(line)
	for _, i := range cols {
		if i < len(out) && i < len(raw) && strings.TrimSpace(out[i]) != "" {
			out[i] = raw[i]
		}
	}
	return out
}

func blank(line []string) bool {
	for _, c := range line {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
