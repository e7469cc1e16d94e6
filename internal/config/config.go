package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Target database (SQL Server).
	DatabaseURL  string
	QueryTimeout time.Duration // hard ceiling per statement

	// Logging.
	LogLevel slog.Level

	// Transport.
	Transport       string // "stdio" (default) or "http"
	HTTPAddr        string // listen address for HTTP transport (default ":8080")
	HTTPBearerToken string // required when transport=http
	RateLimitRPS    float64
	RateLimitBurst  int

	// Audit trail.
	AuditLog          string // path to NDJSON ledger; empty disables it
	AuditDatabaseURL  string // Postgres history store; empty keeps history in memory
	GitHubToken       string
	GitHubAuditRepo   string // owner/name
	GitHubAuditIssue  int
	GitHubAPIURL      string // GitHub Enterprise API endpoint
	PublishTimeout    time.Duration
	HistoryLimit      int
	AssistantIdentity string // recorded as requester for MCP tool calls

	// Observability.
	OTelEnabled bool // enable OpenTelemetry tracing and metrics

	// CLI-only fields (not settable via env vars).
	ConfigFile string
	DryRun     bool
}

// GitHubEnabled reports whether audit entries are posted to a GitHub issue.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubToken != "" && c.GitHubAuditRepo != "" && c.GitHubAuditIssue > 0
}

// Overrides holds CLI flag values that override environment variables.
// Pointer fields distinguish "not set" from zero values.
type Overrides struct {
	ConfigFile       *string
	EnvFile          *string
	DatabaseURL      *string
	LogLevel         *string
	QueryTimeout     *time.Duration
	Transport        *string
	HTTPAddr         *string
	HTTPBearerToken  *string
	AuditLog         *string
	AuditDatabaseURL *string
	PublishTimeout   *time.Duration
	HistoryLimit     *int
	OTelEnabled      bool
	DryRun           bool
}

// lookupFunc resolves a setting by its environment variable name.
type lookupFunc func(key string) string

// Load builds a Config from defaults, the optional YAML config file, the
// optional .env file and environment variables (real environment wins over
// .env), then applies CLI overrides and validates the result.
func Load(overrides Overrides) (*Config, error) {
	envFile := ".env"
	if overrides.EnvFile != nil {
		envFile = *overrides.EnvFile
	}
	dotenv, err := readDotEnv(envFile, overrides.EnvFile != nil)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	cfg := defaults()

	cfg.ConfigFile = lookup("CONFIG_FILE")
	if overrides.ConfigFile != nil {
		cfg.ConfigFile = *overrides.ConfigFile
	}
	if cfg.ConfigFile != "" {
		if err := loadFile(cfg, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := loadEnvVars(cfg, lookup); err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults returns a Config populated with default values.
func defaults() *Config {
	return &Config{
		QueryTimeout:      30 * time.Second,
		LogLevel:          slog.LevelInfo,
		Transport:         "stdio",
		HTTPAddr:          ":8080",
		RateLimitRPS:      10,
		RateLimitBurst:    20,
		PublishTimeout:    15 * time.Second,
		HistoryLimit:      100,
		AssistantIdentity: "ai-assistant",
	}
}

// readDotEnv parses the .env file. A missing file is only an error when the
// path was given explicitly.
func readDotEnv(path string, explicit bool) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return values, nil
}

// loadEnvVars reads all supported environment variables into cfg.
func loadEnvVars(cfg *Config, env lookupFunc) error {
	if v := env("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	if v := env("QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid QUERY_TIMEOUT value %q: %w", v, err)
		}
		cfg.QueryTimeout = d
	}

	if v := env("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	if v := env("TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := env("HTTP_BEARER_TOKEN"); v != "" {
		cfg.HTTPBearerToken = v
	}

	if v := env("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid RATE_LIMIT_RPS value %q: must be a non-negative number", v)
		}
		cfg.RateLimitRPS = f
	}
	if v := env("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid RATE_LIMIT_BURST value %q: must be a positive integer", v)
		}
		cfg.RateLimitBurst = n
	}

	if v := env("OTEL_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OTEL_ENABLED value %q: %w", v, err)
		}
		cfg.OTelEnabled = b
	}

	return loadAuditEnvVars(cfg, env)
}

// loadAuditEnvVars reads the audit trail settings.
func loadAuditEnvVars(cfg *Config, env lookupFunc) error {
	if v := env("AUDIT_LOG"); v != "" {
		cfg.AuditLog = v
	}
	if v := env("AUDIT_DATABASE_URL"); v != "" {
		cfg.AuditDatabaseURL = v
	}
	if v := env("GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := env("GITHUB_AUDIT_REPO"); v != "" {
		cfg.GitHubAuditRepo = v
	}
	if v := env("GITHUB_AUDIT_ISSUE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid GITHUB_AUDIT_ISSUE value %q: must be a positive integer", v)
		}
		cfg.GitHubAuditIssue = n
	}
	if v := env("GITHUB_API_URL"); v != "" {
		cfg.GitHubAPIURL = v
	}
	if v := env("PUBLISH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PUBLISH_TIMEOUT value %q: %w", v, err)
		}
		cfg.PublishTimeout = d
	}
	if v := env("HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid HISTORY_LIMIT value %q: must be a positive integer", v)
		}
		cfg.HistoryLimit = n
	}
	if v := env("ASSISTANT_IDENTITY"); v != "" {
		cfg.AssistantIdentity = v
	}
	return nil
}

// applyOverrides applies CLI flag values on top of the env-loaded config.
func applyOverrides(cfg *Config, o Overrides) error {
	if o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
	if o.LogLevel != nil {
		level, err := parseLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if o.QueryTimeout != nil {
		cfg.QueryTimeout = *o.QueryTimeout
	}
	if o.Transport != nil {
		cfg.Transport = *o.Transport
	}
	if o.HTTPAddr != nil {
		cfg.HTTPAddr = *o.HTTPAddr
	}
	if o.HTTPBearerToken != nil {
		cfg.HTTPBearerToken = *o.HTTPBearerToken
	}
	if o.AuditLog != nil {
		cfg.AuditLog = *o.AuditLog
	}
	if o.AuditDatabaseURL != nil {
		cfg.AuditDatabaseURL = *o.AuditDatabaseURL
	}
	if o.PublishTimeout != nil {
		cfg.PublishTimeout = *o.PublishTimeout
	}
	if o.HistoryLimit != nil {
		if *o.HistoryLimit <= 0 {
			return fmt.Errorf("invalid --history-limit value: must be a positive integer")
		}
		cfg.HistoryLimit = *o.HistoryLimit
	}

	cfg.DryRun = o.DryRun
	cfg.OTelEnabled = cfg.OTelEnabled || o.OTelEnabled

	return nil
}

// validate checks cross-field constraints on the final config.
func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required (set via env var, config file or --database-url flag)")
	}

	if cfg.QueryTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT must be positive, got %s", cfg.QueryTimeout)
	}
	if cfg.PublishTimeout <= 0 {
		return fmt.Errorf("PUBLISH_TIMEOUT must be positive, got %s", cfg.PublishTimeout)
	}

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid TRANSPORT value %q: must be \"stdio\" or \"http\"", cfg.Transport)
	}

	if cfg.Transport == "http" && cfg.HTTPBearerToken == "" {
		return fmt.Errorf("HTTP_BEARER_TOKEN is required when transport is \"http\" (set via env var or --http-bearer-token flag)")
	}

	// GitHub publication is all-or-nothing.
	github := []string{}
	if cfg.GitHubToken != "" {
		github = append(github, "GITHUB_TOKEN")
	}
	if cfg.GitHubAuditRepo != "" {
		github = append(github, "GITHUB_AUDIT_REPO")
	}
	if cfg.GitHubAuditIssue > 0 {
		github = append(github, "GITHUB_AUDIT_ISSUE")
	}
	if len(github) > 0 && len(github) < 3 {
		return fmt.Errorf("GitHub audit publishing needs GITHUB_TOKEN, GITHUB_AUDIT_REPO and GITHUB_AUDIT_ISSUE; only %s set", strings.Join(github, ", "))
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}
