package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/mpython77/instaapi-sub001/internal/challenge"
	"github.com/mpython77/instaapi-sub001/internal/proxy"
	"github.com/mpython77/instaapi-sub001/internal/ratelimit"
	"github.com/mpython77/instaapi-sub001/internal/session"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "instaapi"

	// DefaultBaseURL serves the private app API used by authenticated calls.
	DefaultBaseURL = "https://i.instagram.com"

	// DefaultWebBaseURL serves login, challenge and public profile pages.
	DefaultWebBaseURL = "https://www.instagram.com"

	DefaultTransport       = "http"
	DefaultConnectTimeout  = 10 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultMaxBodySize     = 10 * 1024 * 1024

	DefaultScheduler     = "window"
	DefaultMaxAttempts   = 3
	DefaultBackoffBase   = time.Second
	DefaultBackoffFactor = 2.0
	DefaultBackoffMax    = time.Minute
	DefaultWorkers       = 4

	// DefaultAnonCalls is the per-strategy ceiling of the anonymous chain,
	// well under the authenticated default.
	DefaultAnonCalls = 20

	DefaultProxyStrategy     = "round_robin"
	DefaultTorStartupTimeout = 3 * time.Minute

	DefaultSnapshotBackend = "file"
	DefaultRedisAddr       = "127.0.0.1:6379"
	DefaultRedisPrefix     = "instaapi:session:"

	DefaultChallengeMode = "wait"

	// DefaultCredentialsFile is looked up in the working directory.
	DefaultCredentialsFile = ".env"
)

// Config holds every engine option. It is populated from defaults, the
// YAML file and CLI flags, in that order, and handed to engine.New.
// Rate limits reuse ratelimit.Limit.
type Config struct {
	BaseURL    string `yaml:"base_url"`
	WebBaseURL string `yaml:"web_base_url"`

	// Transport is "http" (net/http) or "tls" (browser TLS impersonation).
	Transport       string        `yaml:"transport"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`

	// Scheduler is "window" (blocking sliding window) or "bucket"
	// (cooperative token bucket).
	Scheduler     string                     `yaml:"scheduler"`
	RateLimit     ratelimit.Limit            `yaml:"rate_limit"`
	Categories    map[string]ratelimit.Limit `yaml:"categories"`
	AnonRateLimit ratelimit.Limit            `yaml:"anon_rate_limit"`
	MaxInFlight   int64                      `yaml:"max_in_flight"`
	PauseDuration time.Duration              `yaml:"pause_duration"`
	RateCooldown  time.Duration              `yaml:"rate_cooldown"`

	MaxAttempts         int           `yaml:"max_attempts"`
	BackoffBase         time.Duration `yaml:"backoff_base"`
	BackoffFactor       float64       `yaml:"backoff_factor"`
	BackoffMax          time.Duration `yaml:"backoff_max"`
	RetryProtocolErrors bool          `yaml:"retry_protocol_errors"`
	// Pacing adds a human-like delay before every exchange.
	Pacing  bool `yaml:"pacing"`
	Workers int  `yaml:"workers"`

	// MobileOnly restricts identity rotation to app profiles.
	MobileOnly bool `yaml:"mobile_only"`

	ProxyFile     string `yaml:"proxy_file"`
	ProxyStrategy string `yaml:"proxy_strategy"`
	// ProxyHealthCheck probes every proxy once at startup.
	ProxyHealthCheck bool `yaml:"proxy_health_check"`
	// EmbeddedTor starts a Tor daemon and adds it to the proxy pool.
	EmbeddedTor       bool          `yaml:"embedded_tor"`
	TorStartupTimeout time.Duration `yaml:"tor_startup_timeout"`

	// CredentialsFile is the KEY=value account file.
	CredentialsFile string `yaml:"credentials_file"`
	// Accounts is filled from CredentialsFile.
	Accounts []session.Credentials `yaml:"-"`

	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	ReactivationBudget   int           `yaml:"reactivation_budget"`
	PersistThreshold     int           `yaml:"persist_threshold"`
	SessionCooldown      time.Duration `yaml:"session_cooldown"`

	// SnapshotBackend is "file", "sqlite" or "redis".
	SnapshotBackend string        `yaml:"snapshot_backend"`
	SnapshotDir     string        `yaml:"snapshot_dir"`
	DBDir           string        `yaml:"db_dir"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPrefix     string        `yaml:"redis_prefix"`
	RedisTTL        time.Duration `yaml:"redis_ttl"`
	// History records every attempt in the SQLite database for status.
	History bool `yaml:"history"`

	// ChallengeMode is "wait" or "fail_fast".
	ChallengeMode string `yaml:"challenge_mode"`
	// ChallengeInteractive asks for verification codes on the terminal.
	ChallengeInteractive bool `yaml:"challenge_interactive"`

	// MetricsAddr serves Prometheus metrics while the engine runs.
	MetricsAddr string `yaml:"metrics_addr"`

	Verbose        bool   `yaml:"-"`
	ConfigFilePath string `yaml:"-"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		BaseURL:              DefaultBaseURL,
		WebBaseURL:           DefaultWebBaseURL,
		Transport:            DefaultTransport,
		ConnectTimeout:       DefaultConnectTimeout,
		ResponseTimeout:      DefaultResponseTimeout,
		MaxBodySize:          DefaultMaxBodySize,
		Scheduler:            DefaultScheduler,
		RateLimit:            ratelimit.Limit{Calls: ratelimit.DefaultCalls, Period: ratelimit.DefaultPeriod},
		Categories:           map[string]ratelimit.Limit{},
		AnonRateLimit:        ratelimit.Limit{Calls: DefaultAnonCalls, Period: ratelimit.DefaultPeriod},
		MaxInFlight:          ratelimit.DefaultMaxInFlight,
		PauseDuration:        ratelimit.DefaultPauseDuration,
		RateCooldown:         ratelimit.DefaultCooldown,
		MaxAttempts:          DefaultMaxAttempts,
		BackoffBase:          DefaultBackoffBase,
		BackoffFactor:        DefaultBackoffFactor,
		BackoffMax:           DefaultBackoffMax,
		Workers:              DefaultWorkers,
		ProxyStrategy:        DefaultProxyStrategy,
		TorStartupTimeout:    DefaultTorStartupTimeout,
		CredentialsFile:      DefaultCredentialsFile,
		MaxConsecutiveErrors: session.DefaultMaxConsecutiveErrors,
		ReactivationBudget:   session.DefaultReactivationBudget,
		PersistThreshold:     session.DefaultPersistThreshold,
		SessionCooldown:      session.DefaultCooldown,
		SnapshotBackend:      DefaultSnapshotBackend,
		SnapshotDir:          filepath.Join(XDGDataDir(), "sessions"),
		DBDir:                XDGDataDir(),
		RedisAddr:            DefaultRedisAddr,
		RedisPrefix:          DefaultRedisPrefix,
		History:              true,
		ChallengeMode:        DefaultChallengeMode,
	}
}

// XDGDataDir returns the XDG data directory for instaapi.
// On Linux: ~/.local/share/instaapi
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for instaapi.
// On Linux: ~/.config/instaapi
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for instaapi.
// On Linux: ~/.cache/instaapi
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// GovernorConfig returns the authenticated-path governor settings.
func (c *Config) GovernorConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.Default = c.RateLimit
	for name, l := range c.Categories {
		cfg.Categories[name] = l
	}
	cfg.MaxInFlight = c.MaxInFlight
	cfg.PauseDuration = c.PauseDuration
	cfg.Cooldown = c.RateCooldown
	return cfg
}

// AnonGovernorConfig returns the anonymous-chain governor settings.
func (c *Config) AnonGovernorConfig() ratelimit.Config {
	cfg := c.GovernorConfig()
	cfg.Default = c.AnonRateLimit
	cfg.Categories = map[string]ratelimit.Limit{}
	return cfg
}

// Validate checks the configuration and returns the first problem found.
// Accounts are checked separately by RequireAccounts because anonymous
// lookups need none.
func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if !c.RateLimit.Valid() || !c.AnonRateLimit.Valid() || c.MaxInFlight <= 0 {
		return ErrInvalidRateLimit
	}
	for _, l := range c.Categories {
		if !l.Valid() {
			return ErrInvalidRateLimit
		}
	}
	if c.BackoffBase <= 0 || c.BackoffFactor < 1 || c.BackoffMax < c.BackoffBase {
		return ErrInvalidBackoff
	}
	if c.Workers <= 0 {
		return ErrInvalidConcurrency
	}
	if c.ConnectTimeout <= 0 || c.ResponseTimeout <= 0 {
		return ErrInvalidTimeout
	}

	switch c.Transport {
	case "http", "tls":
	default:
		return ErrUnknownTransport
	}
	switch c.Scheduler {
	case "window", "bucket":
	default:
		return ErrUnknownScheduler
	}
	if _, err := proxy.ParseStrategy(c.ProxyStrategy); err != nil {
		return ErrUnknownProxyStrategy
	}
	switch c.SnapshotBackend {
	case "file", "sqlite", "redis":
	default:
		return ErrUnknownSnapshotBackend
	}
	if _, err := challenge.ParseMode(c.ChallengeMode); err != nil {
		return ErrUnknownChallengeMode
	}
	return nil
}

// RequireAccounts returns ErrNoAccounts when no credentials are loaded.
func (c *Config) RequireAccounts() error {
	if len(c.Accounts) == 0 {
		return ErrNoAccounts
	}
	return nil
}
