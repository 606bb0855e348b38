// Package tokenlist memoizes per-chain token lists fetched from a provider.
package tokenlist

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ggonzalez94/xquotes/internal/id"
	"github.com/ggonzalez94/xquotes/internal/model"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL          = 10 * time.Minute
	DefaultFetchTimeout = 20 * time.Second
	DefaultDecimals     = 18
)

type Fetcher func(ctx context.Context, chainID string) ([]model.Token, error)

type entry struct {
	tokens    []model.Token
	fetchedAt time.Time
}

// Memo caches token lists per chain. Concurrent misses for the same chain
// share one upstream fetch.
type Memo struct {
	fetch        Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	group        singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

type Option func(*Memo)

// WithFetchTimeout bounds a shared upstream fetch independently of the callers
// waiting on it.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Memo) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

func New(fetch Fetcher, ttl time.Duration, opts ...Option) *Memo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memo{fetch: fetch, ttl: ttl, fetchTimeout: DefaultFetchTimeout, now: time.Now, entries: map[string]entry{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the chain's list, fetching it on a miss. A caller whose ctx ends
// first gets ctx.Err() while the shared fetch keeps running for the others.
func (m *Memo) Get(ctx context.Context, chainID string) ([]model.Token, error) {
	chainID = strings.TrimSpace(chainID)
	if tokens, ok := m.Peek(chainID); ok {
		return tokens, nil
	}
	ch := m.group.DoChan(chainID, func() (any, error) {
		if tokens, ok := m.Peek(chainID); ok {
			return tokens, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
		defer cancel()
		tokens, err := m.fetch(fetchCtx, chainID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.entries[chainID] = entry{tokens: tokens, fetchedAt: m.now()}
		m.mu.Unlock()
		return tokens, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.Token), nil
	}
}

// Peek returns a fresh cached list without fetching.
func (m *Memo) Peek(chainID string) ([]model.Token, bool) {
	m.mu.RLock()
	e, ok := m.entries[strings.TrimSpace(chainID)]
	m.mu.RUnlock()
	if !ok || m.now().Sub(e.fetchedAt) >= m.ttl {
		return nil, false
	}
	return e.tokens, true
}

// Decimals looks address up in the chain's list, then the static registry,
// defaulting to 18.
func (m *Memo) Decimals(ctx context.Context, chainID, address string) int {
	if tokens, err := m.Get(ctx, chainID); err == nil {
		if t, ok := FindAddress(tokens, address); ok && t.Decimals > 0 {
			return t.Decimals
		}
	}
	if known, ok := id.LookupByAddress(chainID, address); ok {
		return known.Decimals
	}
	return DefaultDecimals
}

// FindAddress matches case-insensitively and treats both native sentinels as equal.
func FindAddress(tokens []model.Token, address string) (model.Token, bool) {
	want := id.CanonicalAddress(address)
	for _, t := range tokens {
		if id.CanonicalAddress(t.Address) == want {
			return t, true
		}
	}
	return model.Token{}, false
}
