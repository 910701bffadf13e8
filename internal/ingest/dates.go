package ingest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// dateLayouts are tried in order for textual Date cells. "01-02-06" is the
// short date format spreadsheets render by default.
var dateLayouts = []string{
	schema.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"1/2/06",
}

// Spreadsheet serial day numbers accepted as dates: 1900-01-01 .. 9999-12-31.
const (
	minSerial = 1
	maxSerial = 2958465
)

// ParseCellDate coerces a Date cell. An empty cell yields (nil, nil).
func ParseCellDate(raw string) (*schema.Date, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			d := schema.DateOf(t)
			return &d, nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial >= minSerial && serial <= maxSerial {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			d := schema.DateOf(t)
			return &d, nil
		}
	}
	return nil, fmt.Errorf("invalid Date %q", raw)
}
