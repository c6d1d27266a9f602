package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/openfroyo/policyforge/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps drift history and the audit trail in SQLite. It
// implements engine.HistoryStore and engine.AuditSink.
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

var (
	_ engine.HistoryStore = (*SQLiteStore)(nil)
	_ engine.AuditSink    = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Latest returns the most recent drift history entry of a target, or nil.
func (s *SQLiteStore) Latest(ctx context.Context, target string) (*engine.HistoryEntry, error) {
	query := `
		SELECT timestamp, drift_percentage, drifted_parameters, critical_drift_count, summary
		FROM drift_history
		WHERE target = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	entry, err := scanHistory(s.db.QueryRowContext(ctx, query, target))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest drift history: %w", err)
	}
	return entry, nil
}

// Append adds a drift history entry for a target.
func (s *SQLiteStore) Append(ctx context.Context, target string, entry engine.HistoryEntry) error {
	summary := entry.Summary
	if summary == nil {
		summary = []engine.ParameterSeverity{}
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode drift summary: %w", err)
	}

	query := `
		INSERT INTO drift_history (target, timestamp, drift_percentage, drifted_parameters, critical_drift_count, summary)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		target,
		entry.Timestamp.UnixNano(),
		entry.DriftPercentage,
		entry.DriftedParameters,
		entry.CriticalDriftCount,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to append drift history: %w", err)
	}

	return nil
}

// Prune deletes a target's entries at or before cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, target string, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM drift_history WHERE target = ? AND timestamp <= ?`,
		target, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune drift history: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// List returns a target's drift history sorted ascending by timestamp.
func (s *SQLiteStore) List(ctx context.Context, target string) ([]engine.HistoryEntry, error) {
	query := `
		SELECT timestamp, drift_percentage, drifted_parameters, critical_drift_count, summary
		FROM drift_history
		WHERE target = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, target)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift history: %w", err)
	}
	defer rows.Close()

	entries := []engine.HistoryEntry{}
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drift history: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drift history: %w", err)
	}

	return entries, nil
}

// Targets lists every target with drift history.
func (s *SQLiteStore) Targets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT target FROM drift_history ORDER BY target`)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	targets := []string{}
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, target)
	}

	return targets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (*engine.HistoryEntry, error) {
	var (
		ts      int64
		summary string
		entry   engine.HistoryEntry
	)
	err := row.Scan(
		&ts,
		&entry.DriftPercentage,
		&entry.DriftedParameters,
		&entry.CriticalDriftCount,
		&summary,
	)
	if err != nil {
		return nil, err
	}
	entry.Timestamp = time.Unix(0, ts).UTC()
	if err := json.Unmarshal([]byte(summary), &entry.Summary); err != nil {
		return nil, fmt.Errorf("corrupt drift summary: %w", err)
	}
	return &entry, nil
}

// RecordAudit stores a completed run.
func (s *SQLiteStore) RecordAudit(ctx context.Context, record engine.AuditRecord) error {
	var details *string
	if record.Details != nil {
		raw, err := json.Marshal(record.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		str := string(raw)
		details = &str
	}

	query := `
		INSERT INTO audit (
			run_id, operation, target, status, started_at, completed_at,
			attempted, successful, failed, backup_location, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Operation,
		record.Target,
		record.Status,
		record.StartedAt.UnixNano(),
		record.CompletedAt.UnixNano(),
		record.Attempted,
		record.Successful,
		record.Failed,
		record.BackupLocation,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

// ListAudit returns audit entries, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	query := `
		SELECT id, run_id, operation, target, status, started_at, completed_at,
			attempted, successful, failed, backup_location, details
		FROM audit
		WHERE (? = '' OR target = ?)
			AND (? = '' OR operation = ?)
			AND (? = '' OR run_id = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Target, filter.Target,
		filter.Operation, filter.Operation,
		filter.RunID, filter.RunID,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		var (
			entry              AuditEntry
			started, completed int64
			details            sql.NullString
		)
		err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.Operation,
			&entry.Target,
			&entry.Status,
			&started,
			&completed,
			&entry.Attempted,
			&entry.Successful,
			&entry.Failed,
			&entry.BackupLocation,
			&details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.StartedAt = time.Unix(0, started).UTC()
		entry.CompletedAt = time.Unix(0, completed).UTC()
		if details.Valid {
			entry.Details = json.RawMessage(details.String)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
