package store

import (
	"context"
	"time"

	"github.com/nhle/incident-reporter/internal/model"
)

// PendingRecord is an extracted record retained after a failed sink
// append, kept for a later retry rather than dropped.
type PendingRecord struct {
	ID         string
	Record     model.ExtractedRecord
	Reason     string
	RetainedAt time.Time
}

// Store is the persistence interface for pipeline state shared across
// runs: the processed-message id set that guarantees idempotence, and the
// queue of records whose append failed.
type Store interface {
	// IsProcessed reports whether a message id has already been handled.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed records a message id with the category it matched
	// (empty for messages that matched no rule). Marking an id twice is
	// a no-op.
	MarkProcessed(ctx context.Context, messageID, category string) error

	// RetainPending stores a record whose sink append failed.
	RetainPending(ctx context.Context, rec model.ExtractedRecord, reason string) error

	// PendingRecords returns retained records oldest first.
	PendingRecords(ctx context.Context) ([]PendingRecord, error)

	// ResolvePending removes a retained record after a successful retry.
	ResolvePending(ctx context.Context, id string) error

	Close() error
}
