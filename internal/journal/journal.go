// Package journal records every fetch attempt in a local sqlite database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/macfox/tokline/internal/cache"
	"github.com/macfox/tokline/internal/clock"
	"github.com/macfox/tokline/internal/fetcherr"
)

const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

type FetchRecord struct {
	ID           string
	Timestamp    time.Time
	Kind         string
	Policy       string
	Outcome      string
	ErrorClass   string
	ErrorMessage string
	LatencyMS    int64
	PID          int
}

type QueryFilter struct {
	Limit int
	Kind  string
	Since time.Time
}

type StatsRow struct {
	Kind         string
	Attempts     int
	Failures     int
	AuthFailures int
	AvgLatencyMS float64
	LastSuccess  time.Time
}

type Store struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

func Open(dbPath string, clk clock.Clock) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if clk == nil {
		clk = clock.System{}
	}
	store := &Store{db: db, clock: clk, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := store.Init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(dbPath, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set db perms: %w", err)
	}
	return store, nil
}

// SetLogger routes ObserveFetch write failures somewhere visible.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS fetches (
    id TEXT PRIMARY KEY,
    timestamp DATETIME NOT NULL,
    kind TEXT NOT NULL,
    policy TEXT NOT NULL,
    outcome TEXT NOT NULL,
    error_class TEXT,
    error_message TEXT,
    latency_ms INTEGER,
    pid INTEGER
);
CREATE INDEX IF NOT EXISTS idx_fetches_timestamp ON fetches(timestamp);
CREATE INDEX IF NOT EXISTS idx_fetches_kind ON fetches(kind);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, record FetchRecord) error {
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = s.clock.Now()
	}
	query := `
INSERT INTO fetches (
    id, timestamp, kind, policy, outcome, error_class, error_message, latency_ms, pid
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Timestamp.UTC().Format(time.RFC3339),
		record.Kind,
		record.Policy,
		record.Outcome,
		record.ErrorClass,
		record.ErrorMessage,
		record.LatencyMS,
		record.PID,
	)
	if err != nil {
		return fmt.Errorf("insert fetch record: %w", err)
	}
	return nil
}

// ObserveFetch implements cache.Observer.
func (s *Store) ObserveFetch(ctx context.Context, event cache.FetchEvent) {
	started := event.StartedAt
	if started.IsZero() {
		started = s.clock.Now()
	}
	record := FetchRecord{
		ID:        ulid.MustNew(ulid.Timestamp(started), ulid.DefaultEntropy()).String(),
		Timestamp: started,
		Kind:      string(event.Kind),
		Policy:    string(event.Policy),
		Outcome:   OutcomeOK,
		LatencyMS: event.Duration.Milliseconds(),
		PID:       os.Getpid(),
	}
	switch {
	case event.Err != nil:
		record.Outcome = OutcomeError
		record.ErrorClass = string(fetcherr.Classify(event.Err))
		record.ErrorMessage = event.Err.Error()
	case event.Empty:
		record.Outcome = OutcomeEmpty
	}
	// The fetch context may already be near its deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.Record(writeCtx, record); err != nil {
		s.logger.Warn("journal fetch", "kind", record.Kind, "error", err)
	}
}

func (s *Store) List(ctx context.Context, filter QueryFilter) ([]FetchRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	where := []string{"1=1"}
	args := make([]any, 0, 3)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	args = append(args, filter.Limit)
	query := `SELECT id, timestamp, kind, policy, outcome,
       COALESCE(error_class, ''), COALESCE(error_message, ''), COALESCE(latency_ms, 0), COALESCE(pid, 0)
FROM fetches
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY timestamp DESC, id DESC
LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fetches: %w", err)
	}
	defer rows.Close()
	out := []FetchRecord{}
	for rows.Next() {
		var record FetchRecord
		var timestamp string
		if err := rows.Scan(
			&record.ID,
			&timestamp,
			&record.Kind,
			&record.Policy,
			&record.Outcome,
			&record.ErrorClass,
			&record.ErrorMessage,
			&record.LatencyMS,
			&record.PID,
		); err != nil {
			return nil, fmt.Errorf("scan fetch row: %w", err)
		}
		record.Timestamp = parseTimestamp(timestamp)
		out = append(out, record)
	}
	return out, rows.Err()
}

// Stats groups attempts by data kind.
func (s *Store) Stats(ctx context.Context, since time.Time) ([]StatsRow, error) {
	where := "1=1"
	args := make([]any, 0, 1)
	if !since.IsZero() {
		where = "timestamp >= ?"
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	query := `SELECT kind,
       COUNT(*) AS attempts,
       COALESCE(SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN error_class = 'auth' THEN 1 ELSE 0 END), 0),
       COALESCE(AVG(latency_ms), 0),
       COALESCE(MAX(CASE WHEN outcome != 'error' THEN timestamp END), '')
FROM fetches WHERE ` + where + `
GROUP BY kind ORDER BY kind`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()
	result := []StatsRow{}
	for rows.Next() {
		var row StatsRow
		var lastSuccess string
		if err := rows.Scan(&row.Kind, &row.Attempts, &row.Failures, &row.AuthFailures, &row.AvgLatencyMS, &lastSuccess); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		if lastSuccess != "" {
			row.LastSuccess = parseTimestamp(lastSuccess)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// DeleteOlderThan prunes records and reports how many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx, `DELETE FROM fetches WHERE timestamp < ?`, cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("delete old fetches: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func parseTimestamp(raw string) time.Time {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed
	}
	return time.Time{}
}
