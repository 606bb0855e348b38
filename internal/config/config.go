package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "XQUOTES_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	Timeout        string
	CommandTimeout string
	CallTimeout    string
	Retries        int
	Concurrency    int
	PriceTTL       string
	MaxStale       string
	NoStale        bool
	NoCache        bool
	LogLevel       string
	LogFormat      string
}

// BindFlags registers the global flags on fs.
func BindFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.BoolVar(&flags.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&flags.Plain, "plain", false, "Output plain text")
	fs.StringVar(&flags.Select, "select", "", "Select fields from data (comma-separated)")
	fs.BoolVar(&flags.ResultsOnly, "results-only", false, "Output only data payload")
	fs.StringVar(&flags.Timeout, "timeout", "", "Provider HTTP request timeout")
	fs.StringVar(&flags.CommandTimeout, "command-timeout", "", "Overall deadline for one command")
	fs.StringVar(&flags.CallTimeout, "call-timeout", "", "Deadline for a single quote call")
	fs.IntVar(&flags.Retries, "retries", -1, "Retries per provider request")
	fs.IntVar(&flags.Concurrency, "concurrency", 0, "Concurrent quote calls (1-16)")
	fs.StringVar(&flags.PriceTTL, "price-ttl", "", "How long a resolved token price is reused")
	fs.StringVar(&flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	fs.BoolVar(&flags.NoStale, "no-stale", false, "Reject stale cache entries")
	fs.BoolVar(&flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&flags.LogFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
}

// ProviderSettings are the connection settings of one upstream.
type ProviderSettings struct {
	BaseURL   string
	APIKey    string
	RateLimit float64
	Burst     int
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	Timeout        time.Duration
	CommandTimeout time.Duration
	CallTimeout    time.Duration
	Retries        int
	Concurrency    int
	PriceTTL       time.Duration
	MaxStale       time.Duration
	NoStale        bool
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	StorePath      string
	StoreLockPath  string
	LogLevel       string
	LogFormat      string

	LiFi            ProviderSettings
	Bungee          ProviderSettings
	BungeeAffiliate string
	CoinGecko       ProviderSettings
}

type providerFile struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	APIKeyEnv string   `yaml:"api_key_env"`
	RateLimit *float64 `yaml:"rate_limit"`
	Burst     *int     `yaml:"burst"`
}

type fileConfig struct {
	Output         string `yaml:"output"`
	Timeout        string `yaml:"timeout"`
	CommandTimeout string `yaml:"command_timeout"`
	CallTimeout    string `yaml:"call_timeout"`
	Retries        *int   `yaml:"retries"`
	Concurrency    *int   `yaml:"concurrency"`
	PriceTTL       string `yaml:"price_ttl"`
	Log            struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Providers struct {
		LiFi   providerFile `yaml:"lifi"`
		Bungee struct {
			providerFile `yaml:",inline"`
			Affiliate    string `yaml:"affiliate"`
			AffiliateEnv string `yaml:"affiliate_env"`
		} `yaml:"bungee"`
		CoinGecko providerFile `yaml:"coingecko"`
	} `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.CommandTimeout <= 0 {
		settings.CommandTimeout = 90 * time.Second
	}
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = 12 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.Concurrency < 1 {
		settings.Concurrency = 1
	}
	if settings.Concurrency > 16 {
		settings.Concurrency = 16
	}
	if settings.PriceTTL <= 0 {
		settings.PriceTTL = 5 * time.Minute
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:     "json",
		Timeout:        10 * time.Second,
		CommandTimeout: 90 * time.Second,
		CallTimeout:    12 * time.Second,
		Retries:        2,
		Concurrency:    6,
		PriceTTL:       5 * time.Minute,
		MaxStale:       5 * time.Minute,
		CacheEnabled:   true,
		CachePath:      cachePath,
		CacheLockPath:  lockPath,
		StorePath:      filepath.Join(dataDir, "providers.db"),
		StoreLockPath:  filepath.Join(dataDir, "providers.lock"),
		LogLevel:       "warn",
		LogFormat:      "text",
		LiFi:           ProviderSettings{RateLimit: 5, Burst: 5},
		Bungee:         ProviderSettings{RateLimit: 5, Burst: 5},
		CoinGecko:      ProviderSettings{RateLimit: 0.5, Burst: 3},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "xquotes", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "xquotes")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "xquotes"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Timeout, "timeout", &settings.Timeout},
		{cfg.CommandTimeout, "command_timeout", &settings.CommandTimeout},
		{cfg.CallTimeout, "call_timeout", &settings.CallTimeout},
		{cfg.PriceTTL, "price_ttl", &settings.PriceTTL},
		{cfg.Cache.MaxStale, "cache.max_stale", &settings.MaxStale},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Concurrency != nil {
		settings.Concurrency = *cfg.Concurrency
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}

	applyProviderFile(cfg.Providers.LiFi, &settings.LiFi)
	applyProviderFile(cfg.Providers.Bungee.providerFile, &settings.Bungee)
	applyProviderFile(cfg.Providers.CoinGecko, &settings.CoinGecko)
	if cfg.Providers.Bungee.Affiliate != "" {
		settings.BungeeAffiliate = cfg.Providers.Bungee.Affiliate
	}
	if cfg.Providers.Bungee.AffiliateEnv != "" {
		settings.BungeeAffiliate = os.Getenv(cfg.Providers.Bungee.AffiliateEnv)
	}

	return nil
}

func applyProviderFile(in providerFile, dst *ProviderSettings) {
	if in.BaseURL != "" {
		dst.BaseURL = in.BaseURL
	}
	if in.APIKey != "" {
		dst.APIKey = in.APIKey
	}
	if in.APIKeyEnv != "" {
		dst.APIKey = os.Getenv(in.APIKeyEnv)
	}
	if in.RateLimit != nil {
		dst.RateLimit = *in.RateLimit
	}
	if in.Burst != nil {
		dst.Burst = *in.Burst
	}
}

func applyEnv(settings *Settings) {
	if v := env("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	envDuration("TIMEOUT", &settings.Timeout)
	envDuration("COMMAND_TIMEOUT", &settings.CommandTimeout)
	envDuration("CALL_TIMEOUT", &settings.CallTimeout)
	envDuration("PRICE_TTL", &settings.PriceTTL)
	envDuration("MAX_STALE", &settings.MaxStale)
	if v := env("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := env("CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Concurrency = n
		}
	}
	if v := env("NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := env("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	envString("CACHE_PATH", &settings.CachePath)
	envString("CACHE_LOCK_PATH", &settings.CacheLockPath)
	envString("STORE_PATH", &settings.StorePath)
	envString("STORE_LOCK_PATH", &settings.StoreLockPath)
	envString("LOG_LEVEL", &settings.LogLevel)
	envString("LOG_FORMAT", &settings.LogFormat)

	envString("LIFI_API_KEY", &settings.LiFi.APIKey)
	envString("LIFI_BASE_URL", &settings.LiFi.BaseURL)
	envString("BUNGEE_API_KEY", &settings.Bungee.APIKey)
	envString("BUNGEE_BASE_URL", &settings.Bungee.BaseURL)
	envString("BUNGEE_AFFILIATE", &settings.BungeeAffiliate)
	envString("COINGECKO_API_KEY", &settings.CoinGecko.APIKey)
	envString("COINGECKO_BASE_URL", &settings.CoinGecko.BaseURL)
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func envString(name string, dst *string) {
	if v := env(name); v != "" {
		*dst = v
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := env(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{flags.Timeout, "--timeout", &settings.Timeout},
		{flags.CommandTimeout, "--command-timeout", &settings.CommandTimeout},
		{flags.CallTimeout, "--call-timeout", &settings.CallTimeout},
		{flags.PriceTTL, "--price-ttl", &settings.PriceTTL},
		{flags.MaxStale, "--max-stale", &settings.MaxStale},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.Concurrency != 0 {
		if flags.Concurrency < 1 || flags.Concurrency > 16 {
			return fmt.Errorf("--concurrency must be between 1 and 16")
		}
		settings.Concurrency = flags.Concurrency
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = flags.LogFormat
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
