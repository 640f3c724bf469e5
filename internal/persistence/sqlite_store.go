package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ZhyangJ/Agent-chat/internal/diag"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is a diag.Store backed by a SQLite file, so the reasoning and
// error journals survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ diag.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) AppendStep(ctx context.Context, step diag.Step) (int, error) {
	if step.Time.IsZero() {
		step.Time = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO reasoning_steps (step, detail, created_at) VALUES (?, ?, ?)`,
		step.Step, step.Detail, step.Time.UTC(),
	); err != nil {
		return 0, fmt.Errorf("insert reasoning step: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reasoning_steps`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count reasoning steps: %w", err)
	}
	return total, nil
}

func (s *SQLiteStore) ClearSteps(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reasoning_steps`)
	if err != nil {
		return 0, fmt.Errorf("clear reasoning steps: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear reasoning steps: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Steps(ctx context.Context) ([]diag.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, detail, created_at FROM reasoning_steps ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query reasoning steps: %w", err)
	}
	defer rows.Close()

	ret := make([]diag.Step, 0)
	for rows.Next() {
		var step diag.Step
		if err := rows.Scan(&step.Step, &step.Detail, &step.Time); err != nil {
			return nil, fmt.Errorf("scan reasoning step: %w", err)
		}
		ret = append(ret, step)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) AppendError(ctx context.Context, report diag.ErrorReport) error {
	if report.Time.IsZero() {
		report.Time = time.Now()
	}
	suggestions, err := json.Marshal(report.Suggestions)
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO error_reports (error_message, context, suggestions, created_at) VALUES (?, ?, ?, ?)`,
		report.ErrorMessage, report.Context, string(suggestions), report.Time.UTC(),
	); err != nil {
		return fmt.Errorf("insert error report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Errors(ctx context.Context) ([]diag.ErrorReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT error_message, context, suggestions, created_at FROM error_reports ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query error reports: %w", err)
	}
	defer rows.Close()

	ret := make([]diag.ErrorReport, 0)
	for rows.Next() {
		var (
			report      diag.ErrorReport
			suggestions string
		)
		if err := rows.Scan(&report.ErrorMessage, &report.Context, &suggestions, &report.Time); err != nil {
			return nil, fmt.Errorf("scan error report: %w", err)
		}
		if err := json.Unmarshal([]byte(suggestions), &report.Suggestions); err != nil {
			return nil, fmt.Errorf("decode suggestions: %w", err)
		}
		ret = append(ret, report)
	}
	return ret, rows.Err()
}
