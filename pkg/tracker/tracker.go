// Package tracker is the usage ledger: one row per live gateway success.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/northwind-energy/aigateway/pkg/models"
)

// Tracker records and queries gateway usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByFeature returns records for a feature since a given time,
	// newest first. An empty feature matches every feature.
	QueryByFeature(ctx context.Context, feature string, since time.Time) ([]models.UsageRecord, error)
	// TotalTokens returns tokens used since a given time.
	TotalTokens(ctx context.Context, since time.Time) (int64, error)
	// Summary aggregates usage per feature and model, optionally filtered by feature.
	Summary(ctx context.Context, feature string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	feature TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_feature_time ON usage_records(feature, created_at);
`

// columns added after the first release; existing ledgers are migrated in place
var addedColumns = []struct{ name, ddl string }{
	{"request_id", `ALTER TABLE usage_records ADD COLUMN request_id TEXT NOT NULL DEFAULT ''`},
	{"latency_ms", `ALTER TABLE usage_records ADD COLUMN latency_ms INTEGER NOT NULL DEFAULT 0`},
}

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	for _, c := range addedColumns {
		if columnExists(db, "usage_records", c.name) {
			continue
		}
		if _, err := db.Exec(c.ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("add %s column: %w", c.name, err)
		}
	}

	return &SQLiteTracker{db: db}, nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// Record stores a usage record. It satisfies gateway.UsageRecorder.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Feature == "" {
		rec.Feature = "unknown"
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (request_id, feature, model, prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Feature, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.LatencyMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByFeature returns usage records since a given time.
func (t *SQLiteTracker) QueryByFeature(ctx context.Context, feature string, since time.Time) ([]models.UsageRecord, error) {
	query := `SELECT id, request_id, feature, model, prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at
		 FROM usage_records WHERE created_at >= ?`
	args := []any{since.UTC()}
	if feature != "" {
		query += ` AND feature = ?`
		args = append(args, feature)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Feature, &r.Model, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalTokens returns tokens used since a given time.
func (t *SQLiteTracker) TotalTokens(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by feature and model.
func (t *SQLiteTracker) Summary(ctx context.Context, feature string) ([]models.UsageSummary, error) {
	query := `SELECT feature, model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens),
		CAST(COALESCE(AVG(latency_ms), 0) AS INTEGER)
		 FROM usage_records`
	var args []any
	if feature != "" {
		query += ` WHERE feature = ?`
		args = append(args, feature)
	}
	query += ` GROUP BY feature, model ORDER BY feature, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Feature, &s.Model, &s.RequestCount, &s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
