package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/nhle/incident-reporter/internal/model"
)

// receivedAtLayout is the cell format for the received timestamp.
const receivedAtLayout = "2006-01-02 15:04:05"

// ExcelSink appends extracted records to an xlsx workbook. A single
// mutex serializes all mutating appends across the process, so
// near-simultaneous extractions never interleave writes.
type ExcelSink struct {
	path string
	mu   sync.Mutex
}

// NewExcelSink creates a sink over the workbook at path.
func NewExcelSink(path string) *ExcelSink {
	return &ExcelSink{path: path}
}

// Append writes the record's mapped columns as one new row at the bottom
// of the mapped sheet. The whole updated workbook is written to a temp
// file and renamed over the original, so a failure mid-write leaves the
// prior state untouched.
func (s *ExcelSink) Append(rec model.ExtractedRecord, mapping model.FieldMapping) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return Outcome{}, &SinkError{Op: "open", Reason: openReason(err), Err: err}
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(mapping.Sheet)
	if err != nil || idx < 0 {
		return Outcome{}, &SinkError{
			Op:     "append",
			Reason: fmt.Sprintf("sheet %q not found", mapping.Sheet),
			Err:    err,
		}
	}

	rows, err := f.GetRows(mapping.Sheet)
	if err != nil {
		return Outcome{}, &SinkError{Op: "append", Reason: "reading sheet", Err: err}
	}
	if len(rows) == 0 {
		return Outcome{}, &SinkError{
			Op:     "append",
			Reason: fmt.Sprintf("sheet %q has no header row", mapping.Sheet),
		}
	}

	// Resolve every mapped column against the header before writing
	// anything, so a schema mismatch cannot leave a partial row.
	header := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		header[name] = i + 1
	}

	type cellWrite struct {
		col   int
		value string
	}
	writes := make([]cellWrite, 0, len(model.Fields))
	values := make(map[string]string, len(model.Fields))

	for _, field := range model.Fields {
		column, ok := mapping.Column(field)
		if !ok {
			return Outcome{}, &SinkError{
				Op:     "append",
				Reason: fmt.Sprintf("field %q has no column mapping", field),
			}
		}
		colIdx, ok := header[column]
		if !ok {
			return Outcome{}, &SinkError{
				Op: "append",
				Reason: fmt.Sprintf(
					"column %q for field %q missing from sheet %q",
					column, field, mapping.Sheet,
				),
			}
		}
		value := fieldValue(rec, field)
		writes = append(writes, cellWrite{col: colIdx, value: value})
		values[column] = value
	}

	row := len(rows) + 1
	for _, w := range writes {
		cell, err := excelize.CoordinatesToCellName(w.col, row)
		if err != nil {
			return Outcome{}, &SinkError{Op: "append", Reason: "resolving cell", Err: err}
		}
		if err := f.SetCellValue(mapping.Sheet, cell, w.value); err != nil {
			return Outcome{}, &SinkError{Op: "append", Reason: "writing cell", Err: err}
		}
	}

	if err := s.saveAtomic(f); err != nil {
		return Outcome{}, &SinkError{Op: "save", Reason: "writing workbook", Err: err}
	}

	return Outcome{Row: row, Values: values}, nil
}

// openReason names why the workbook could not be opened: a missing file
// is an operator-fixable condition distinct from a corrupt or locked one.
func openReason(err error) string {
	if errors.Is(err, fs.ErrNotExist) {
		return "workbook missing"
	}
	return "workbook unreadable (locked or corrupt)"
}

// saveAtomic writes the workbook to a temp file in the target directory
// and renames it over the original.
func (s *ExcelSink) saveAtomic(f *excelize.File) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*"+filepath.Ext(s.path))
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := f.SaveAs(tmpPath); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// fieldValue renders a logical field of the record for its report cell.
func fieldValue(rec model.ExtractedRecord, field model.Field) string {
	switch field {
	case model.FieldSender:
		return rec.Sender
	case model.FieldReceivedAt:
		return rec.ReceivedAt.Format(receivedAtLayout)
	case model.FieldCompany:
		return rec.Company
	case model.FieldIncidentCode:
		return rec.IncidentCode
	default:
		return ""
	}
}

// Preview returns the header row plus the last n data rows of the mapped
// sheet, for operator verification.
func (s *ExcelSink) Preview(sheet string, n int) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, &SinkError{Op: "preview", Reason: openReason(err), Err: err}
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, &SinkError{Op: "preview", Reason: "reading sheet", Err: err}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := [][]string{rows[0]}
	data := rows[1:]
	if len(data) > n {
		data = data[len(data)-n:]
	}
	return append(out, data...), nil
}

// SheetInfo returns the data row count of every sheet in the workbook.
func (s *ExcelSink) SheetInfo() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, &SinkError{Op: "info", Reason: openReason(err), Err: err}
	}
	defer f.Close()

	info := make(map[string]int)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, &SinkError{Op: "info", Reason: "reading sheet " + sheet, Err: err}
		}
		count := len(rows)
		if count > 0 {
			count-- // header row
		}
		info[sheet] = count
	}
	return info, nil
}

// Bootstrap creates the report workbook with the mapped sheet and header
// row when it does not exist yet. An existing workbook is left alone.
func Bootstrap(path string, mapping model.FieldMapping) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &SinkError{Op: "bootstrap", Reason: "creating report directory", Err: err}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", mapping.Sheet); err != nil {
		return &SinkError{Op: "bootstrap", Reason: "naming sheet", Err: err}
	}

	for i, field := range model.Fields {
		column, ok := mapping.Column(field)
		if !ok {
			return &SinkError{
				Op:     "bootstrap",
				Reason: fmt.Sprintf("field %q has no column mapping", field),
			}
		}
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return &SinkError{Op: "bootstrap", Reason: "resolving cell", Err: err}
		}
		if err := f.SetCellValue(mapping.Sheet, cell, column); err != nil {
			return &SinkError{Op: "bootstrap", Reason: "writing header", Err: err}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return &SinkError{Op: "bootstrap", Reason: "writing workbook", Err: err}
	}
	return nil
}
