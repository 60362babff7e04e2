package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/incident-reporter/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serializes writers and keeps :memory:
	// databases visible across calls.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// IsProcessed reports whether a message id has already been handled.
func (s *SQLiteStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed_messages WHERE message_id = ?", messageID,
	)
	if err != nil {
		return false, fmt.Errorf("checking processed id %s: %w", messageID, err)
	}
	return count > 0, nil
}

// MarkProcessed records a message id. INSERT OR IGNORE keeps the call
// idempotent under duplicate delivery.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID, category string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_messages (message_id, category, processed_at)
		VALUES (?, ?, ?)`,
		messageID, category, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", messageID, err)
	}
	return nil
}

// RetainPending stores a record whose sink append failed so it can be
// retried later instead of being dropped.
func (s *SQLiteStore) RetainPending(ctx context.Context, rec model.ExtractedRecord, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_records (
			id, source_message_id, sender, received_at,
			company, incident_code, matched_category, reason, retained_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.SourceMessageID, rec.Sender, rec.ReceivedAt.UTC(),
		rec.Company, rec.IncidentCode, rec.MatchedCategory, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("retaining record for message %s: %w", rec.SourceMessageID, err)
	}
	return nil
}

// pendingRow is the scan target for pending_records.
type pendingRow struct {
	ID              string    `db:"id"`
	SourceMessageID string    `db:"source_message_id"`
	Sender          string    `db:"sender"`
	ReceivedAt      time.Time `db:"received_at"`
	Company         string    `db:"company"`
	IncidentCode    string    `db:"incident_code"`
	MatchedCategory string    `db:"matched_category"`
	Reason          string    `db:"reason"`
	RetainedAt      time.Time `db:"retained_at"`
}

// PendingRecords returns retained records oldest first.
func (s *SQLiteStore) PendingRecords(ctx context.Context) ([]PendingRecord, error) {
	var rows []pendingRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM pending_records ORDER BY retained_at, id",
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying pending records: %w", err)
	}

	records := make([]PendingRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, PendingRecord{
			ID: r.ID,
			Record: model.ExtractedRecord{
				Sender:          r.Sender,
				ReceivedAt:      r.ReceivedAt,
				Company:         r.Company,
				IncidentCode:    r.IncidentCode,
				MatchedCategory: r.MatchedCategory,
				SourceMessageID: r.SourceMessageID,
			},
			Reason:     r.Reason,
			RetainedAt: r.RetainedAt,
		})
	}

	return records, nil
}

// ResolvePending removes a retained record after a successful retry.
func (s *SQLiteStore) ResolvePending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("resolving pending record %s: %w", id, err)
	}
	return nil
}
