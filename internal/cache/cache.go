// Package cache is a sqlite-backed TTL cache for catalog responses (chain and
// token lists) shared across CLI invocations.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

type Option func(*Store)

// WithClock replaces the wall clock used for ages and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func Open(path, lockPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA busy_timeout=5000;",
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS catalog_entries (key TEXT PRIMARY KEY, value BLOB NOT NULL, created_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath), now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	_ = store.Prune(context.Background())
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Key builds a cache key of the form "<namespace>|<sha256 of req>" so a whole
// namespace can be invalidated with DeletePrefix.
func Key(namespace string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(buf)
	return namespace + "|" + hex.EncodeToString(sum[:])
}

// Prune deletes entries whose TTL has fully expired.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM catalog_entries WHERE created_at + ttl_seconds < ?", s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Get reads key. Entries older than their TTL are returned as stale;
// maxStale < 0 means a stale entry is never too stale.
func (s *Store) Get(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	var value []byte
	var createdUnix int64
	var ttlSeconds int64
	err := s.db.QueryRowContext(ctx, "SELECT value, created_at, ttl_seconds FROM catalog_entries WHERE key = ?", key).Scan(&value, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := s.now().UTC().Sub(time.Unix(createdUnix, 0).UTC())
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalog_entries (key, value, created_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, value, s.now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// DeletePrefix drops every entry in a namespace and reports how many went.
func (s *Store) DeletePrefix(ctx context.Context, namespace string) (int64, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	pattern := escapeLike(namespace) + "|%"
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE key LIKE ? ESCAPE '\'`, pattern)
	if err != nil {
		return 0, fmt.Errorf("cache delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock cache: timeout acquiring lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}

func escapeLike(v string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(v)
}
