package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout of the optional config file. Zero values
// leave the defaults untouched.
type fileConfig struct {
	Database struct {
		URL          string `yaml:"url"`
		QueryTimeout string `yaml:"query_timeout"`
	} `yaml:"database"`
	LogLevel  string `yaml:"log_level"`
	Transport struct {
		Mode        string  `yaml:"mode"`
		HTTPAddr    string  `yaml:"http_addr"`
		BearerToken string  `yaml:"bearer_token"`
		RateLimit   float64 `yaml:"rate_limit_rps"`
		RateBurst   int     `yaml:"rate_limit_burst"`
	} `yaml:"transport"`
	Audit struct {
		Log               string `yaml:"log"`
		DatabaseURL       string `yaml:"database_url"`
		PublishTimeout    string `yaml:"publish_timeout"`
		HistoryLimit      int    `yaml:"history_limit"`
		AssistantIdentity string `yaml:"assistant_identity"`
		GitHub            struct {
			Token  string `yaml:"token"`
			Repo   string `yaml:"repo"`
			Issue  int    `yaml:"issue"`
			APIURL string `yaml:"api_url"`
		} `yaml:"github"`
	} `yaml:"audit"`
	OTelEnabled bool `yaml:"otel_enabled"`
}

// loadFile applies the YAML config file at path on top of cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}

	setString(&cfg.DatabaseURL, fc.Database.URL)
	if err := setDuration(&cfg.QueryTimeout, fc.Database.QueryTimeout, "database.query_timeout"); err != nil {
		return err
	}
	if fc.LogLevel != "" {
		level, err := parseLogLevel(fc.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	setString(&cfg.Transport, fc.Transport.Mode)
	setString(&cfg.HTTPAddr, fc.Transport.HTTPAddr)
	setString(&cfg.HTTPBearerToken, fc.Transport.BearerToken)
	if fc.Transport.RateLimit > 0 {
		cfg.RateLimitRPS = fc.Transport.RateLimit
	}
	if fc.Transport.RateBurst > 0 {
		cfg.RateLimitBurst = fc.Transport.RateBurst
	}

	setString(&cfg.AuditLog, fc.Audit.Log)
	setString(&cfg.AuditDatabaseURL, fc.Audit.DatabaseURL)
	if err := setDuration(&cfg.PublishTimeout, fc.Audit.PublishTimeout, "audit.publish_timeout"); err != nil {
		return err
	}
	if fc.Audit.HistoryLimit > 0 {
		cfg.HistoryLimit = fc.Audit.HistoryLimit
	}
	setString(&cfg.AssistantIdentity, fc.Audit.AssistantIdentity)
	setString(&cfg.GitHubToken, fc.Audit.GitHub.Token)
	setString(&cfg.GitHubAuditRepo, fc.Audit.GitHub.Repo)
	if fc.Audit.GitHub.Issue > 0 {
		cfg.GitHubAuditIssue = fc.Audit.GitHub.Issue
	}
	setString(&cfg.GitHubAPIURL, fc.Audit.GitHub.APIURL)

	cfg.OTelEnabled = cfg.OTelEnabled || fc.OTelEnabled
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", field, v, err)
	}
	*dst = d
	return nil
}
