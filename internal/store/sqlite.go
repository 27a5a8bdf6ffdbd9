package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "stockalert/internal/errors"
	"stockalert/internal/models"
)

// SQLiteStore implements Journal using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based journal.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS triggers (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		threshold REAL NOT NULL,
		value REAL NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		delivered INTEGER DEFAULT 0,
		delivery_error TEXT,
		triggered_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_triggers_entity ON triggers(kind, entity_id);
	CREATE INDEX IF NOT EXISTS idx_triggers_time ON triggers(triggered_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordTrigger saves a trigger record.
func (s *SQLiteStore) RecordTrigger(ctx context.Context, rec *models.TriggerRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TriggeredAt.IsZero() {
		rec.TriggeredAt = time.Now()
	}

	delivered := 0
	if rec.Delivered {
		delivered = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers (id, alert_id, kind, entity_id, threshold, value, title, body, delivered, delivery_error, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.AlertID, string(rec.Key.Kind), rec.Key.ID, rec.Threshold, rec.Value,
		rec.Title, rec.Body, delivered, rec.DeliveryError, rec.TriggeredAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to record trigger: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// GetTriggers retrieves trigger records, newest first.
func (s *SQLiteStore) GetTriggers(ctx context.Context, filter TriggerFilter) ([]models.TriggerRecord, error) {
	query := `SELECT id, alert_id, kind, entity_id, threshold, value, title, body, delivered, delivery_error, triggered_at FROM triggers`
	var conds []string
	var args []interface{}

	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.ID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.ID)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "triggered_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY triggered_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query triggers: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []models.TriggerRecord
	for rows.Next() {
		var r models.TriggerRecord
		var kind string
		var delivered int
		var deliveryErr sql.NullString
		if err := rows.Scan(&r.ID, &r.AlertID, &kind, &r.Key.ID, &r.Threshold, &r.Value,
			&r.Title, &r.Body, &delivered, &deliveryErr, &r.TriggeredAt); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		r.Key.Kind = models.Kind(kind)
		r.Delivered = delivered == 1
		r.DeliveryError = deliveryErr.String
		out = append(out, r)
	}

	return out, rows.Err()
}
