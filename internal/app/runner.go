package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/xquotes/internal/cache"
	"github.com/ggonzalez94/xquotes/internal/config"
	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"github.com/ggonzalez94/xquotes/internal/httpx"
	"github.com/ggonzalez94/xquotes/internal/logging"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/out"
	"github.com/ggonzalez94/xquotes/internal/price"
	"github.com/ggonzalez94/xquotes/internal/pricecache"
	"github.com/ggonzalez94/xquotes/internal/providers"
	"github.com/ggonzalez94/xquotes/internal/providers/bungee"
	"github.com/ggonzalez94/xquotes/internal/providers/coingecko"
	"github.com/ggonzalez94/xquotes/internal/providers/lifi"
	"github.com/ggonzalez94/xquotes/internal/quote"
	"github.com/ggonzalez94/xquotes/internal/schema"
	"github.com/ggonzalez94/xquotes/internal/store"
	"github.com/ggonzalez94/xquotes/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	log           logrus.FieldLogger
	cache         *cache.Store
	store         *store.Store
	root          *cobra.Command
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool

	aggregator   *lifi.Client
	bridge       *bungee.Client
	spot         *coingecko.Client
	resolver     *price.Resolver
	orchestrator *quote.Orchestrator
	catalogs     map[string]providers.CatalogProvider
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: logging.Discard()}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.Execute())
	if err != nil {
		state.renderError("", err, state.lastWarnings, state.lastProviders, state.lastPartial)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain quote comparison across aggregators and bridges",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			log, err := logging.New(s.runner.stderr, settings.LogLevel, settings.LogFormat)
			if err != nil {
				return err
			}
			s.log = log.WithField("command", s.lastCommand)

			if s.aggregator == nil {
				s.wireProviders()
			}
			if needsStore(s.lastCommand) && s.store == nil {
				if err := s.openStore(cmd.Context()); err != nil {
					return err
				}
				s.orchestrator = quote.New(s.resolver, s.aggregator, s.bridge, s.store,
					quote.WithConcurrency(settings.Concurrency),
					quote.WithCallTimeout(settings.CallTimeout),
					quote.WithLogger(s.log),
				)
			}
			if settings.CacheEnabled && shouldOpenCache(s.lastCommand) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})
	config.BindFlags(cmd.PersistentFlags(), &s.flags)

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newPriceCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newAggregateCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// wireProviders builds one rate-limited HTTP client per upstream and the
// adapters, resolver and price cache on top of them.
func (s *runtimeState) wireProviders() {
	settings := s.settings
	client := func(p config.ProviderSettings) *httpx.Client {
		return httpx.New(settings.Timeout, settings.Retries,
			httpx.WithRateLimit(p.RateLimit, p.Burst),
			httpx.WithUserAgent(version.CLIName+"/"+version.CLIVersion),
		)
	}
	s.aggregator = lifi.New(client(settings.LiFi), settings.LiFi.APIKey, s.log).WithBaseURL(settings.LiFi.BaseURL)
	s.bridge = bungee.New(client(settings.Bungee), settings.Bungee.APIKey, settings.BungeeAffiliate, s.log).WithBaseURL(settings.Bungee.BaseURL)
	s.spot = coingecko.New(client(settings.CoinGecko), settings.CoinGecko.APIKey).WithBaseURL(settings.CoinGecko.BaseURL)
	s.resolver = price.New(pricecache.New(settings.PriceTTL), s.spot, s.bridge, s.aggregator, s.log)
	s.catalogs = map[string]providers.CatalogProvider{
		"lifi":   s.aggregator,
		"bungee": s.bridge,
	}
}

func (s *runtimeState) openStore(ctx context.Context) error {
	st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open provider store", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := st.Seed(ctx); err != nil {
		_ = st.Close()
		return clierr.Wrap(clierr.CodeInternal, "seed provider store", err)
	}
	s.store = st
	return nil
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
}

type fetchFn func(ctx context.Context) (data any, providerStatus []model.ProviderStatus, warnings []string, partial bool, err error)

// runCachedCommand serves catalog commands from the response cache, falling
// back to a stale entry when the upstream is unavailable or rate limited.
func (s *runtimeState) runCachedCommand(commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}
	var staleData any
	staleAvailable := false
	staleExpired := false
	staleCacheStatus := cacheMetaMiss()

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.CommandTimeout)
	defer cancel()

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(ctx, key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			var data any
			if err := json.Unmarshal(cached.Value, &data); err == nil {
				if !cached.Stale {
					return s.emitSuccess(commandPath, data, warnings, entryStatus, nil, false)
				}
				staleData = data
				staleAvailable = true
				staleExpired = cached.TooStale
				staleCacheStatus = entryStatus
			}
		}
	}

	data, providerStatus, providerWarnings, partial, err := fetch(ctx)
	warnings = append(warnings, providerWarnings...)
	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	if err != nil {
		if !staleAvailable || !staleFallbackAllowed(err) {
			return err
		}
		if s.settings.NoStale {
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and stale fallback is disabled (--no-stale)", err)
		}
		if staleExpired {
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and cached data exceeded stale budget", err)
		}
		warnings = append(warnings, "provider fetch failed; serving stale data within max-stale budget")
		s.captureCommandDiagnostics(warnings, providerStatus, false)
		return s.emitSuccess(commandPath, staleData, warnings, staleCacheStatus, providerStatus, false)
	}

	if s.settings.CacheEnabled && s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			if err := s.cache.Set(ctx, key, payload, ttl); err != nil {
				s.log.WithError(err).Warn("cache write failed")
			} else {
				cacheStatus = model.CacheStatus{Status: "write"}
			}
		}
	}
	return s.emitSuccess(commandPath, data, warnings, cacheStatus, providerStatus, partial)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.TypeName(clierr.CodeInternal)
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		typ = clierr.TypeName(cErr.Code)
		message = cErr.Error()
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheMetaBypass(),
			Partial:   partial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	return cErr.Code == clierr.CodeUnavailable || cErr.Code == clierr.CodeRateLimited
}

func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "chains", "tokens", "providers add", "providers remove", "providers enable", "providers disable":
		return true
	default:
		return false
	}
}

func needsStore(commandPath string) bool {
	path := normalizeCommandPath(commandPath)
	return path == "quote" || path == "aggregate" || strings.HasPrefix(path, "providers")
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
	s.lastPartial = partial
}
