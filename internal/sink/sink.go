// Package sink owns the tabular report. Appends are serialized
// process-wide and all-or-nothing: either the full mapped row lands or
// the workbook keeps its prior state.
package sink

import (
	"errors"
	"fmt"

	"github.com/nhle/incident-reporter/internal/model"
)

// Outcome describes a successful append: the 1-based row the record
// landed on and its persisted form keyed by column header.
type Outcome struct {
	Row    int
	Values map[string]string
}

// Sink accepts extracted records and appends them under the configured
// column mapping.
type Sink interface {
	Append(rec model.ExtractedRecord, mapping model.FieldMapping) (Outcome, error)
}

// SinkError indicates the report store is missing, locked by another
// process, or its sheet/column schema does not match the field mapping.
// The failed record is retained for retry, never dropped.
type SinkError struct {
	Op     string
	Reason string
	Err    error
}

func (e *SinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("report sink %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("report sink %s: %s", e.Op, e.Reason)
}

func (e *SinkError) Unwrap() error { return e.Err }

// IsSinkError reports whether err (or any error in its chain) is a
// SinkError.
func IsSinkError(err error) bool {
	var sinkErr *SinkError
	return errors.As(err, &sinkErr)
}
