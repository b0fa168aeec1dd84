// Package journal keeps an operational record of pipeline runs in SQLite.
// It stores outcomes, timings and provider names. Transcripts and replies
// are never written.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Run is one journal row.
type Run struct {
	ID          string
	Status      string
	FailedStage string
	Error       string
	Elapsed     time.Duration
	Device      string
	STT         string
	LLM         string
	TTS         string
	CreatedAt   time.Time
}

// Store is the SQLite-backed journal. In ephemeral mode it has no database
// and every write is dropped.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open prepares the journal according to cfg.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = logging.Discard()
	}
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", logging.Error(err))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", logging.Error(err))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    failed_stage TEXT,
    error TEXT,
    elapsed_ms INTEGER NOT NULL,
    device TEXT,
    stt TEXT,
    llm TEXT,
    tts TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Persistent reports whether runs are written to disk.
func (s *Store) Persistent() bool { return s != nil && s.db != nil }

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a run. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, run Run) error {
	if !s.Persistent() {
		return nil
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, status, failed_stage, error, elapsed_ms, device, stt, llm, tts, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, run.FailedStage, run.Error, run.Elapsed.Milliseconds(),
		run.Device, run.STT, run.LLM, run.TTS, run.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if !s.Persistent() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, failed_stage, error, elapsed_ms, device, stt, llm, tts, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r         Run
			elapsedMS int64
			created   int64
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.FailedStage, &r.Error, &elapsedMS, &r.Device, &r.STT, &r.LLM, &r.TTS, &created); err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		r.CreatedAt = time.Unix(0, created).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Stats summarises the journal.
type Stats struct {
	Total    int
	Failures int
}

// Stats counts recorded runs.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if !s.Persistent() {
		return st, nil
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) FROM runs`,
		StatusFailure).Scan(&st.Total, &st.Failures)
	return st, err
}

// Prune applies retention by age and by row count.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Persistent() || s.cfg.RetentionMode != "persistent" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UTC().UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE id IN (
			SELECT id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
