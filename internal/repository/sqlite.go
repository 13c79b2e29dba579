package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"recorder/internal/apperrors"
	"recorder/internal/video"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	Path         string
	BusyTimeout  time.Duration // default: 5s
	MaxOpenConns int           // default: 4
}

// SQLite stores videos in a single table keyed by id. The status column is
// kept beside the JSON document so compare-and-set and listing run in SQL.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database in WAL mode and runs migrations.
func NewSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, apperrors.Validation("path", "sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}

	// _pragma in the DSN applies to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		downloader TEXT NOT NULL DEFAULT '',
		doc TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) load(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*video.Video, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM videos WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("video", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get video %s: %w", id, err)
	}
	return decode([]byte(doc))
}

// Get implements video.Repository.
func (s *SQLite) Get(ctx context.Context, id string) (*video.Video, error) {
	return s.load(ctx, s.db, id)
}

// Put implements video.Repository.
func (s *SQLite) Put(ctx context.Context, v *video.Video) error {
	if err := validatePut(v); err != nil {
		return err
	}
	doc, err := encode(v)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO videos (id, status, downloader, doc, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		downloader = excluded.downloader,
		doc = excluded.doc,
		updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, v.ID, string(v.Status), v.Downloader, string(doc), v.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: put video %s: %w", v.ID, err)
	}
	return nil
}

// UpdateStatus implements video.Repository. The UPDATE is guarded by the
// expected status, so a concurrent writer that got there first leaves zero
// affected rows and the call reports ErrStateConflict.
func (s *SQLite) UpdateStatus(ctx context.Context, u video.StatusUpdate) (*video.Video, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	v, err := s.load(ctx, tx, u.ID)
	if err != nil {
		return nil, err
	}
	if err := video.Apply(v, u); err != nil {
		return nil, err
	}
	doc, err := encode(v)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE videos SET status = ?, doc = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(u.To), string(doc), v.UpdatedAt.UTC().Format(time.RFC3339Nano), u.ID, string(u.From))
	if err != nil {
		return nil, fmt.Errorf("sqlite: update video %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: update video %s: %w", u.ID, err)
	}
	if n != 1 {
		return nil, apperrors.StateConflict(u.ID, fmt.Sprintf("status changed concurrently, expected %s", u.From))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return v, nil
}

// SetDownloader implements video.Repository.
func (s *SQLite) SetDownloader(ctx context.Context, id, downloader string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	v, err := s.load(ctx, tx, id)
	if err != nil {
		return err
	}
	v.Downloader = downloader
	doc, err := encode(v)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE videos SET downloader = ?, doc = ? WHERE id = ?`, downloader, string(doc), id); err != nil {
		return fmt.Errorf("sqlite: set downloader %s: %w", id, err)
	}
	return tx.Commit()
}

// ListByStatus implements video.Repository.
func (s *SQLite) ListByStatus(ctx context.Context, statuses ...video.Status) ([]*video.Video, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := `SELECT doc FROM videos WHERE status IN (` + placeholders + `) ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list videos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*video.Video
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		v, err := decode([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Ping implements video.Repository.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements video.Repository.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ video.Repository = (*SQLite)(nil)
