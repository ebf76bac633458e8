// ABOUTME: SQLite-backed request audit log using modernc.org/sqlite
// ABOUTME: One row per dispatched request; best-effort, never on the request path's error flow

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// AuditEntry records one dispatched request for offline analysis.
type AuditEntry struct {
	ID            string
	Mode          string
	Email         string
	Keyword       string
	Status        int
	CacheHit      bool
	Generated     bool
	WebhookStatus string
	CreatedAt     time.Time
}

// AuditStats aggregates the audit log.
type AuditStats struct {
	RequestCount int64
	CacheHits    int64
	Generations  int64
	Failures     int64
}

// AuditLog persists request audit entries to SQLite.
type AuditLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditLog opens (or creates) the audit database at path. Parent
// directories are created as needed.
func NewAuditLog(path string, logger *slog.Logger) (*AuditLog, error) {
	logger = logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps writers from blocking the stats queries.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &AuditLog{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("audit log initialized", "path", path)
	return s, nil
}

func (s *AuditLog) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS request_audit (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			email TEXT NOT NULL,
			keyword TEXT NOT NULL,
			status INTEGER NOT NULL,
			cache_hit INTEGER NOT NULL,
			generated INTEGER NOT NULL,
			webhook_status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_request_audit_email
			ON request_audit(email);

		CREATE INDEX IF NOT EXISTS idx_request_audit_created
			ON request_audit(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Record inserts one audit entry.
func (s *AuditLog) Record(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO request_audit (
			id, mode, email, keyword, status, cache_hit, generated, webhook_status, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Mode,
		entry.Email,
		entry.Keyword,
		entry.Status,
		boolInt(entry.CacheHit),
		boolInt(entry.Generated),
		entry.WebhookStatus,
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("recorded request",
		"id", entry.ID,
		"mode", entry.Mode,
		"email", entry.Email,
		"status", entry.Status,
	)
	return nil
}

// Recent returns the newest entries for an email, most recent first.
func (s *AuditLog) Recent(ctx context.Context, email string, limit int) ([]*AuditEntry, error) {
	query := `
		SELECT id, mode, email, keyword, status, cache_hit, generated, webhook_status, created_at
		FROM request_audit
		WHERE email = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}

// Stats aggregates the audit log since the given time.
func (s *AuditLog) Stats(ctx context.Context, since time.Time) (*AuditStats, error) {
	query := `
		SELECT
			COUNT(*) as request_count,
			COALESCE(SUM(cache_hit), 0) as cache_hits,
			COALESCE(SUM(generated), 0) as generations,
			COALESCE(SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END), 0) as failures
		FROM request_audit
		WHERE created_at >= ?
	`

	var stats AuditStats
	err := s.db.QueryRowContext(ctx, query, since.UTC().Format(time.RFC3339)).Scan(
		&stats.RequestCount,
		&stats.CacheHits,
		&stats.Generations,
		&stats.Failures,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit stats: %w", err)
	}
	return &stats, nil
}

// Close closes the underlying database.
func (s *AuditLog) Close() error {
	return s.db.Close()
}

func scanEntry(rows *sql.Rows) (*AuditEntry, error) {
	var entry AuditEntry
	var cacheHit, generated int
	var createdAt string

	err := rows.Scan(
		&entry.ID,
		&entry.Mode,
		&entry.Email,
		&entry.Keyword,
		&entry.Status,
		&cacheHit,
		&generated,
		&entry.WebhookStatus,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning audit row: %w", err)
	}

	entry.CacheHit = cacheHit != 0
	entry.Generated = generated != 0
	entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &entry, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
