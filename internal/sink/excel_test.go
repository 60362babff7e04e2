package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nhle/incident-reporter/internal/model"
)

var testMapping = model.FieldMapping{
	Sheet: "Incidents",
	Columns: map[model.Field]string{
		model.FieldSender:       "Sender",
		model.FieldReceivedAt:   "Received",
		model.FieldCompany:      "Company",
		model.FieldIncidentCode: "Reference",
	},
}

func testRecord(id string) model.ExtractedRecord {
	return model.ExtractedRecord{
		Sender:          "alerts@acme.example",
		ReceivedAt:      time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC),
		Company:         "Acme Inc.",
		IncidentCode:    "INC-1002",
		MatchedCategory: "incident",
		SourceMessageID: id,
	}
}

func newTestWorkbook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := Bootstrap(path, testMapping); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return path
}

func rowCount(t *testing.T, path, sheet string) int {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("opening workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("reading sheet: %v", err)
	}
	return len(rows)
}

func TestAppendMapsFieldsToColumns(t *testing.T) {
	path := newTestWorkbook(t)
	s := NewExcelSink(path)

	outcome, err := s.Append(testRecord("msg-1"), testMapping)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if outcome.Row != 2 {
		t.Errorf("row = %d, want 2 (first data row)", outcome.Row)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("reopening workbook: %v", err)
	}
	defer f.Close()

	checks := map[string]string{
		"A2": "alerts@acme.example",
		"B2": "2026-03-15 14:30:00",
		"C2": "Acme Inc.",
		"D2": "INC-1002",
	}
	for cell, want := range checks {
		got, err := f.GetCellValue(testMapping.Sheet, cell)
		if err != nil {
			t.Fatalf("reading %s: %v", cell, err)
		}
		if got != want {
			t.Errorf("cell %s = %q, want %q", cell, got, want)
		}
	}

	if outcome.Values["Company"] != "Acme Inc." {
		t.Errorf("persisted form = %v, want Company column populated", outcome.Values)
	}
}

func TestAppendMissingWorkbook(t *testing.T) {
	s := NewExcelSink(filepath.Join(t.TempDir(), "nope.xlsx"))

	_, err := s.Append(testRecord("msg-1"), testMapping)
	if !IsSinkError(err) {
		t.Fatalf("error %v should be a SinkError", err)
	}
	if !strings.Contains(err.Error(), "workbook missing") {
		t.Errorf("error %v should name the missing workbook", err)
	}
}

func TestAppendCorruptWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := os.WriteFile(path, []byte("not a workbook"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	s := NewExcelSink(path)

	_, err := s.Append(testRecord("msg-1"), testMapping)
	if !IsSinkError(err) {
		t.Fatalf("error %v should be a SinkError", err)
	}
	if strings.Contains(err.Error(), "workbook missing") {
		t.Errorf("error %v must not report a present workbook as missing", err)
	}
}

func TestAppendMissingSheet(t *testing.T) {
	path := newTestWorkbook(t)
	s := NewExcelSink(path)

	bad := testMapping
	bad.Sheet = "Missing"

	if _, err := s.Append(testRecord("msg-1"), bad); !IsSinkError(err) {
		t.Errorf("error %v should be a SinkError", err)
	}
}

func TestAppendSchemaMismatchLeavesStoreUntouched(t *testing.T) {
	path := newTestWorkbook(t)
	s := NewExcelSink(path)

	if _, err := s.Append(testRecord("msg-1"), testMapping); err != nil {
		t.Fatalf("seed append: %v", err)
	}
	before := rowCount(t, path, testMapping.Sheet)

	bad := testMapping
	bad.Columns = map[model.Field]string{
		model.FieldSender:       "Sender",
		model.FieldReceivedAt:   "Received",
		model.FieldCompany:      "Company",
		model.FieldIncidentCode: "NoSuchColumn",
	}

	if _, err := s.Append(testRecord("msg-2"), bad); !IsSinkError(err) {
		t.Fatalf("error %v should be a SinkError", err)
	}

	if after := rowCount(t, path, testMapping.Sheet); after != before {
		t.Errorf("row count changed %d -> %d after failed append", before, after)
	}
}

func TestAppendConcurrent(t *testing.T) {
	path := newTestWorkbook(t)
	s := NewExcelSink(path)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(testRecord(fmt.Sprintf("msg-%d", i)), testMapping)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	if got := rowCount(t, path, testMapping.Sheet); got != n+1 {
		t.Errorf("row count = %d, want %d data rows plus header", got, n)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	path := newTestWorkbook(t)
	s := NewExcelSink(path)

	if _, err := s.Append(testRecord("msg-1"), testMapping); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := Bootstrap(path, testMapping); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}

	if got := rowCount(t, path, testMapping.Sheet); got != 2 {
		t.Errorf("existing workbook must be left alone; rows = %d, want 2", got)
	}
}

func TestPreviewReturnsTailRows(t *testing.T) {
	path := newTestWorkbook(t)
	s := NewExcelSink(path)

	for i := 0; i < 5; i++ {
		if _, err := s.Append(testRecord(fmt.Sprintf("msg-%d", i)), testMapping); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	preview, err := s.Preview(testMapping.Sheet, 3)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(preview) != 4 {
		t.Fatalf("preview rows = %d, want header + 3", len(preview))
	}
	if preview[0][0] != "Sender" {
		t.Errorf("preview header = %v", preview[0])
	}
}

func TestSheetInfo(t *testing.T) {
	path := newTestWorkbook(t)
	s := NewExcelSink(path)

	if _, err := s.Append(testRecord("msg-1"), testMapping); err != nil {
		t.Fatalf("Append: %v", err)
	}

	info, err := s.SheetInfo()
	if err != nil {
		t.Fatalf("SheetInfo: %v", err)
	}
	if info[testMapping.Sheet] != 1 {
		t.Errorf("sheet info = %v, want 1 data row on %s", info, testMapping.Sheet)
	}
}
