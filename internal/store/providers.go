// Package store persists the provider registry in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/registry"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const (
	lockTimeout = 5 * time.Second
	lockRetry   = 10 * time.Millisecond
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Defaults are seeded into an empty registry. An empty endpoint means the
// adapter's configured base URL is used.
var Defaults = []model.ProviderConfig{
	{Name: "lifi", Kind: model.KindAggregator, Active: true},
	{Name: "bungee", Kind: model.KindBridge, Active: true},
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create provider store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create provider lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open provider sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS providers (
			name TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			endpoint TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			deleted_at INTEGER
		);`,
		"CREATE INDEX IF NOT EXISTS idx_providers_active ON providers(active, deleted_at);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init provider schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath), now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Seed inserts the default providers when the registry has never held a row.
// Soft-deleted rows count, so removing a default keeps it removed.
func (s *Store) Seed(ctx context.Context) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM providers").Scan(&count); err != nil {
		return fmt.Errorf("count providers: %w", err)
	}
	if count > 0 {
		return nil
	}
	now := s.now().Unix()
	for _, p := range Defaults {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO providers (name, kind, endpoint, api_key, active, created_at, updated_at)
			VALUES (?, ?, ?, '', ?, ?, ?)
		`, p.Name, p.Kind, p.Endpoint, boolInt(p.Active), now, now); err != nil {
			return fmt.Errorf("seed provider %s: %w", p.Name, err)
		}
	}
	return nil
}

// Add registers a provider. A soft-deleted row with the same name is revived
// with the new settings.
func (s *Store) Add(ctx context.Context, cfg model.ProviderConfig) (model.ProviderConfig, error) {
	cfg, err := validate(cfg)
	if err != nil {
		return model.ProviderConfig{}, err
	}
	unlock, err := s.acquire(ctx)
	if err != nil {
		return model.ProviderConfig{}, err
	}
	defer unlock()

	existing, err := s.get(ctx, cfg.Name, true)
	switch {
	case err == nil && existing.DeletedAt == nil:
		return model.ProviderConfig{}, clierr.New(clierr.CodeConflict, fmt.Sprintf("provider %q already exists", cfg.Name))
	case err != nil && !clierr.HasCode(err, clierr.CodeNotFound):
		return model.ProviderConfig{}, err
	}

	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (name, kind, endpoint, api_key, active, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(name) DO UPDATE SET
			kind=excluded.kind,
			endpoint=excluded.endpoint,
			api_key=excluded.api_key,
			active=excluded.active,
			updated_at=excluded.updated_at,
			deleted_at=NULL
	`, cfg.Name, cfg.Kind, cfg.Endpoint, cfg.APIKey, boolInt(cfg.Active), now, now)
	if err != nil {
		return model.ProviderConfig{}, fmt.Errorf("save provider: %w", err)
	}
	return s.get(ctx, cfg.Name, false)
}

// Remove soft-deletes a provider.
func (s *Store) Remove(ctx context.Context, name string) error {
	return s.update(ctx, name, "UPDATE providers SET active = 0, deleted_at = ?, updated_at = ? WHERE name = ? AND deleted_at IS NULL", true)
}

func (s *Store) SetActive(ctx context.Context, name string, active bool) error {
	if active {
		return s.update(ctx, name, "UPDATE providers SET active = 1, updated_at = ? WHERE name = ? AND deleted_at IS NULL", false)
	}
	return s.update(ctx, name, "UPDATE providers SET active = 0, updated_at = ? WHERE name = ? AND deleted_at IS NULL", false)
}

func (s *Store) update(ctx context.Context, name, query string, stampDeleted bool) error {
	name = normalizeName(name)
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	now := s.now().Unix()
	args := []any{now, name}
	if stampDeleted {
		args = []any{now, now, name}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return clierr.New(clierr.CodeNotFound, fmt.Sprintf("provider %q not found", name))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (model.ProviderConfig, error) {
	return s.get(ctx, normalizeName(name), false)
}

// List returns providers ordered by name, optionally with soft-deleted rows.
func (s *Store) List(ctx context.Context, includeDeleted bool) ([]model.ProviderConfig, error) {
	query := "SELECT name, kind, endpoint, api_key, active, created_at, updated_at, deleted_at FROM providers"
	if !includeDeleted {
		query += " WHERE deleted_at IS NULL"
	}
	return s.query(ctx, query+" ORDER BY name")
}

// ListActive returns enabled, non-deleted providers.
func (s *Store) ListActive(ctx context.Context) ([]model.ProviderConfig, error) {
	return s.query(ctx, "SELECT name, kind, endpoint, api_key, active, created_at, updated_at, deleted_at FROM providers WHERE active = 1 AND deleted_at IS NULL ORDER BY name")
}

func (s *Store) get(ctx context.Context, name string, includeDeleted bool) (model.ProviderConfig, error) {
	query := "SELECT name, kind, endpoint, api_key, active, created_at, updated_at, deleted_at FROM providers WHERE name = ?"
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	cfg, err := scan(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ProviderConfig{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("provider %q not found", name))
		}
		return model.ProviderConfig{}, fmt.Errorf("read provider: %w", err)
	}
	return cfg, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]model.ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	out := make([]model.ProviderConfig, 0)
	for rows.Next() {
		cfg, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider row: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (model.ProviderConfig, error) {
	var (
		cfg              model.ProviderConfig
		active           int
		created, updated int64
		deleted          sql.NullInt64
	)
	if err := row.Scan(&cfg.Name, &cfg.Kind, &cfg.Endpoint, &cfg.APIKey, &active, &created, &updated, &deleted); err != nil {
		return model.ProviderConfig{}, err
	}
	cfg.Active = active == 1
	cfg.HasAPIKey = cfg.APIKey != ""
	cfg.CreatedAt = time.Unix(created, 0).UTC()
	cfg.UpdatedAt = time.Unix(updated, 0).UTC()
	if deleted.Valid {
		t := time.Unix(deleted.Int64, 0).UTC()
		cfg.DeletedAt = &t
	}
	return cfg, nil
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock provider store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock provider store: timeout acquiring lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}

func validate(cfg model.ProviderConfig) (model.ProviderConfig, error) {
	cfg.Name = normalizeName(cfg.Name)
	if !namePattern.MatchString(cfg.Name) {
		return cfg, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid provider name %q: use lowercase letters, digits, '-' or '_'", cfg.Name))
	}
	cfg.Kind = strings.ToLower(strings.TrimSpace(cfg.Kind))
	if cfg.Kind != model.KindAggregator && cfg.Kind != model.KindBridge {
		return cfg, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid provider kind %q: expected aggregator or bridge", cfg.Kind))
	}
	cfg.Endpoint = registry.NormalizeEndpoint(cfg.Endpoint)
	if !registry.IsAllowedProviderEndpoint(cfg.Endpoint) {
		return cfg, clierr.New(clierr.CodeUsage, fmt.Sprintf("endpoint %q must be https (plain http only for loopback)", cfg.Endpoint))
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return cfg, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
