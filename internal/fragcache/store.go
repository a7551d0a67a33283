// Package fragcache persists synthesized audio fragments keyed by the exact
// synthesis inputs, so re-running a book with the same voice and engine
// reuses audio instead of re-synthesizing it.
package fragcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fabler-audio/fabler/internal/config"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite-backed fragment cache. A disabled store is valid and
// reports only misses.
type Store struct {
	db    *sql.DB
	cfg   config.CacheConfig
	log   *slog.Logger
	clock func() time.Time
}

// Key derives the cache key for one synthesis call. Any input that changes
// the audio must participate: the engine identity and its tuning (speed,
// sample rate, language, model path), the resolved voice profile, and the
// text itself.
func Key(engine, profile string, cfg config.EngineConfig, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%g|%d|%s|%s|", engine, profile, cfg.Speed, cfg.SampleRate, cfg.Language, cfg.ModelPath)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Open initializes the cache according to config.
func Open(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
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
		log.Warn("fragment cache prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS fragments (
    key TEXT PRIMARY KEY,
    sample_rate INTEGER NOT NULL,
    pcm BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragments_created ON fragments(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get looks up a fragment. The third return is false on a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, int, bool, error) {
	if s.db == nil {
		return nil, 0, false, nil
	}
	var pcm []byte
	var rate int
	err := s.db.QueryRowContext(ctx,
		`SELECT pcm, sample_rate FROM fragments WHERE key = ?`, key).Scan(&pcm, &rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return pcm, rate, true, nil
}

// Put stores a fragment, replacing any previous entry for the key.
func (s *Store) Put(ctx context.Context, key string, sampleRate int, pcm []byte) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fragments(key, sample_rate, pcm, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET sample_rate=excluded.sample_rate, pcm=excluded.pcm, created_at=excluded.created_at`,
		key, sampleRate, pcm, s.clock().UTC())
	return err
}

// Prune removes entries older than the configured maximum age.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.MaxDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.MaxDays) * 24 * time.Hour)
	_, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE created_at < ?`, cutoff.UTC())
	return err
}
