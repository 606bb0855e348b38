package app

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/xquotes/internal/cache"
	"github.com/ggonzalez94/xquotes/internal/config"
	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"github.com/ggonzalez94/xquotes/internal/logging"
	"github.com/ggonzalez94/xquotes/internal/model"
)

type cachePolicyEnvelope struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data"`
	Warnings []string       `json:"warnings"`
	Meta     struct {
		Cache     model.CacheStatus      `json:"cache"`
		Providers []model.ProviderStatus `json:"providers"`
	} `json:"meta"`
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRunCachedCommandServesFreshEntry(t *testing.T) {
	state, stdout, _ := newCachePolicyTestState(t, 5*time.Minute, false)
	key := "chains:lifi|fresh"
	if err := state.cache.Set(context.Background(), key, []byte(`{"source":"cache"}`), time.Minute); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}

	fetchCalls := 0
	err := state.runCachedCommand("chains", key, time.Minute, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		fetchCalls++
		return map[string]any{"source": "provider"}, nil, nil, false, nil
	})
	if err != nil {
		t.Fatalf("runCachedCommand failed: %v", err)
	}
	if fetchCalls != 0 {
		t.Fatalf("fresh entry should not fetch, got %d calls", fetchCalls)
	}
	env := decodeCachePolicyEnvelope(t, stdout)
	if env.Data["source"] != "cache" || env.Meta.Cache.Status != "hit" {
		t.Fatalf("expected cache hit, got %+v", env)
	}
}

func TestRunCachedCommandFetchesProviderAfterTTLExpiry(t *testing.T) {
	state, stdout, clock := newCachePolicyTestState(t, 5*time.Minute, false)
	key := "chains:lifi|after-ttl"
	if err := state.cache.Set(context.Background(), key, []byte(`{"source":"cache"}`), time.Minute); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}
	clock.Advance(2 * time.Minute)

	fetchCalls := 0
	err := state.runCachedCommand("chains", key, time.Minute, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		fetchCalls++
		return map[string]any{"source": "provider"}, []model.ProviderStatus{{Name: "lifi", Status: "ok", LatencyMS: 1}}, nil, false, nil
	})
	if err != nil {
		t.Fatalf("runCachedCommand failed: %v", err)
	}
	if fetchCalls != 1 {
		t.Fatalf("expected provider fetch after ttl expiry, got calls=%d", fetchCalls)
	}

	env := decodeCachePolicyEnvelope(t, stdout)
	if env.Data["source"] != "provider" {
		t.Fatalf("expected provider data after ttl expiry, got %#v", env.Data)
	}
	if env.Meta.Cache.Status != "write" || env.Meta.Cache.Stale {
		t.Fatalf("expected cache write metadata, got %+v", env.Meta.Cache)
	}
	if len(env.Meta.Providers) != 1 || env.Meta.Providers[0].Name != "lifi" {
		t.Fatalf("expected provider metadata in response, got %+v", env.Meta.Providers)
	}
}

func TestRunCachedCommandFallsBackToStaleOnProviderFailure(t *testing.T) {
	state, stdout, clock := newCachePolicyTestState(t, 5*time.Minute, false)
	key := "tokens:bungee|stale"
	if err := state.cache.Set(context.Background(), key, []byte(`{"source":"cache"}`), time.Minute); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}
	clock.Advance(2 * time.Minute)

	err := state.runCachedCommand("tokens", key, time.Minute, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		return nil, []model.ProviderStatus{{Name: "bungee", Status: "unavailable", LatencyMS: 1}}, nil, false, clierr.New(clierr.CodeUnavailable, "provider unavailable")
	})
	if err != nil {
		t.Fatalf("expected stale fallback success, got error: %v", err)
	}

	env := decodeCachePolicyEnvelope(t, stdout)
	if env.Data["source"] != "cache" {
		t.Fatalf("expected stale cache fallback data, got %#v", env.Data)
	}
	if env.Meta.Cache.Status != "hit" || !env.Meta.Cache.Stale {
		t.Fatalf("expected stale cache hit metadata, got %+v", env.Meta.Cache)
	}
	if !containsWarning(env.Warnings, "provider fetch failed; serving stale data within max-stale budget") {
		t.Fatalf("expected stale fallback warning, got %+v", env.Warnings)
	}
}

func TestRunCachedCommandRejectsStaleWhenBeyondMaxStale(t *testing.T) {
	state, _, clock := newCachePolicyTestState(t, time.Minute, false)
	key := "tokens:bungee|too-stale"
	if err := state.cache.Set(context.Background(), key, []byte(`{"source":"cache"}`), time.Minute); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}
	clock.Advance(10 * time.Minute)

	err := state.runCachedCommand("tokens", key, time.Minute, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		return nil, nil, nil, false, clierr.New(clierr.CodeRateLimited, "slow down")
	})
	if code := clierr.ExitCode(err); code != int(clierr.CodeStale) {
		t.Fatalf("expected stale exit code %d, got %d err=%v", int(clierr.CodeStale), code, err)
	}
	if !strings.Contains(err.Error(), "cached data exceeded stale budget") {
		t.Fatalf("expected stale budget message, got %v", err)
	}
}

func TestRunCachedCommandNoStaleRejectsFallback(t *testing.T) {
	state, _, clock := newCachePolicyTestState(t, 5*time.Minute, true)
	key := "chains:lifi|no-stale"
	_ = state.cache.Set(context.Background(), key, []byte(`{"source":"cache"}`), time.Minute)
	clock.Advance(2 * time.Minute)

	err := state.runCachedCommand("chains", key, time.Minute, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		return nil, nil, nil, false, clierr.New(clierr.CodeUnavailable, "down")
	})
	if !clierr.HasCode(err, clierr.CodeStale) {
		t.Fatalf("expected stale error with --no-stale, got %v", err)
	}
}

func TestRunCachedCommandDoesNotFallbackStaleOnAuthFailure(t *testing.T) {
	state, _, clock := newCachePolicyTestState(t, 5*time.Minute, false)
	key := "chains:lifi|auth"
	_ = state.cache.Set(context.Background(), key, []byte(`{"source":"cache"}`), time.Minute)
	clock.Advance(2 * time.Minute)

	err := state.runCachedCommand("chains", key, time.Minute, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		return nil, []model.ProviderStatus{{Name: "lifi", Status: "auth_error", LatencyMS: 1}}, nil, false, clierr.New(clierr.CodeAuth, "missing api key")
	})
	if code := clierr.ExitCode(err); code != int(clierr.CodeAuth) {
		t.Fatalf("expected auth exit code %d, got %d err=%v", int(clierr.CodeAuth), code, err)
	}
}

func TestRenderErrorCarriesDiagnostics(t *testing.T) {
	state, _, _ := newCachePolicyTestState(t, time.Minute, false)
	state.captureCommandDiagnostics([]string{"bungee failed"}, []model.ProviderStatus{{Name: "bungee", Status: "unavailable"}}, true)
	state.renderError("tokens", clierr.New(clierr.CodeUnavailable, "down"), state.lastWarnings, state.lastProviders, state.lastPartial)

	stderrBuf := state.runner.stderr.(*bytes.Buffer)
	var env struct {
		Success  bool            `json:"success"`
		Warnings []string        `json:"warnings"`
		Error    model.ErrorBody `json:"error"`
		Meta     struct {
			Partial   bool                   `json:"partial"`
			Providers []model.ProviderStatus `json:"providers"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(stderrBuf.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope failed: %v output=%s", err, stderrBuf.String())
	}
	if env.Success || env.Error.Type != "provider_unavailable" || env.Error.Code != int(clierr.CodeUnavailable) {
		t.Fatalf("unexpected error envelope: %+v", env)
	}
	if !env.Meta.Partial || len(env.Meta.Providers) != 1 || !containsWarning(env.Warnings, "bungee failed") {
		t.Fatalf("expected diagnostics in error meta, got %+v", env)
	}
}

func newCachePolicyTestState(t *testing.T, maxStale time.Duration, noStale bool) (*runtimeState, *bytes.Buffer, *testClock) {
	t.Helper()
	tmp := t.TempDir()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	store, err := cache.Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"), cache.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	state := &runtimeState{
		runner: &Runner{
			stdout: stdout,
			stderr: stderr,
			now:    time.Now,
		},
		settings: config.Settings{
			OutputMode:     "json",
			Timeout:        2 * time.Second,
			CommandTimeout: 5 * time.Second,
			CacheEnabled:   true,
			MaxStale:       maxStale,
			NoStale:        noStale,
		},
		log:   logging.Discard(),
		cache: store,
	}
	return state, stdout, clock
}

func decodeCachePolicyEnvelope(t *testing.T, buf *bytes.Buffer) cachePolicyEnvelope {
	t.Helper()
	var env cachePolicyEnvelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope failed: %v output=%s", err, buf.String())
	}
	return env
}

func containsWarning(warnings []string, target string) bool {
	for _, warning := range warnings {
		if warning == target {
			return true
		}
	}
	return false
}
