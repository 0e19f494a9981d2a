package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/swagat-panda/VocalWeaver/internal/config"
)

// Stage names mirror the debug artifacts written per request.
const (
	StageReceived    = "received"
	StageConverted   = "converted"
	StageSynthesized = "synthesized"
)

var stageFilenames = map[string]string{
	StageReceived:    "received_audio.webm",
	StageConverted:   "converted_audio.wav",
	StageSynthesized: "synthesized_output.wav",
}

// Request is one indexed debug capture.
type Request struct {
	RequestID  string
	SessionID  string
	Voice      string
	Transcript string
	CreatedAt  time.Time
}

// Store persists per-request debug audio artifacts on disk with a
// SQLite index. When disabled it is a no-op; snapshot failures are
// logged and never propagate into the pipeline.
type Store struct {
	db    *sql.DB
	cfg   config.SnapshotConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the snapshot store according to config.
func Open(ctx context.Context, cfg config.SnapshotConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "snapshot-store"))
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if dir := filepath.Dir(cfg.IndexPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.IndexPath)
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
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("snapshot prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS requests (
    request_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    voice TEXT NOT NULL DEFAULT '',
    transcript TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    path TEXT NOT NULL,
    bytes INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(request_id) REFERENCES requests(request_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_artifacts_request ON artifacts(request_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether artifacts are being captured.
func (s *Store) Enabled() bool {
	return s != nil && s.cfg.Enabled && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveReceived captures the raw client blob before decoding.
func (s *Store) SaveReceived(sessionID, requestID string, blob []byte) {
	s.save(sessionID, requestID, StageReceived, blob, "", "")
}

// SaveConverted captures decoded PCM as WAV plus the transcript that
// came out of it.
func (s *Store) SaveConverted(sessionID, requestID string, wav []byte, transcript string) {
	s.save(sessionID, requestID, StageConverted, wav, "", transcript)
}

// SaveSynthesized captures the synthesis output container.
func (s *Store) SaveSynthesized(sessionID, requestID string, wav []byte, voice string) {
	s.save(sessionID, requestID, StageSynthesized, wav, voice, "")
}

func (s *Store) save(sessionID, requestID, stage string, data []byte, voice, transcript string) {
	if !s.Enabled() || requestID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.ensureRequest(ctx, sessionID, requestID); err != nil {
		s.log.Warn("snapshot request row failed", slog.String("error", err.Error()))
		return
	}

	dir := filepath.Join(s.cfg.Dir, requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("snapshot dir failed", slog.String("error", err.Error()))
		return
	}
	path := filepath.Join(dir, stageFilenames[stage])
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn("snapshot write failed", slog.String("error", err.Error()))
		return
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts(request_id, stage, path, bytes, created_at) VALUES(?, ?, ?, ?, ?)`,
		requestID, stage, path, len(data), s.clock().UTC()); err != nil {
		s.log.Warn("snapshot index failed", slog.String("error", err.Error()))
		return
	}

	switch {
	case voice != "":
		_, _ = s.db.ExecContext(ctx, `UPDATE requests SET voice = ? WHERE request_id = ?`, voice, requestID)
	case transcript != "":
		_, _ = s.db.ExecContext(ctx, `UPDATE requests SET transcript = ? WHERE request_id = ?`, transcript, requestID)
	}
}

func (s *Store) ensureRequest(ctx context.Context, sessionID, requestID string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(request_id, session_id, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(request_id) DO NOTHING`,
		requestID, sessionID, s.clock().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if err := s.Prune(ctx); err != nil {
			s.log.Warn("snapshot prune failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// ListRequests returns the newest captures first.
func (s *Store) ListRequests(ctx context.Context, limit int) ([]Request, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, session_id, voice, transcript, created_at
		 FROM requests ORDER BY created_at DESC, request_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		var r Request
		var created string
		if err := rows.Scan(&r.RequestID, &r.SessionID, &r.Voice, &r.Transcript, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// Prune drops the oldest captures beyond max_requests, removing their
// artifact directories with them.
func (s *Store) Prune(ctx context.Context) error {
	if !s.Enabled() || s.cfg.MaxRequests <= 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id FROM requests
		 ORDER BY created_at DESC, request_id DESC LIMIT -1 OFFSET ?`, s.cfg.MaxRequests)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if err := os.RemoveAll(filepath.Join(s.cfg.Dir, id)); err != nil {
			s.log.Warn("snapshot dir removal failed", slog.String("error", err.Error()))
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE request_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}
