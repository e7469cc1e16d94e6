package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"

	"github.com/guillermoBallester/auditsql/internal/adapter/github"
	"github.com/guillermoBallester/auditsql/internal/adapter/httpapi"
	"github.com/guillermoBallester/auditsql/internal/adapter/mcp"
	"github.com/guillermoBallester/auditsql/internal/adapter/postgres"
	"github.com/guillermoBallester/auditsql/internal/adapter/sqlserver"
	"github.com/guillermoBallester/auditsql/internal/audit"
	"github.com/guillermoBallester/auditsql/internal/config"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
	"github.com/guillermoBallester/auditsql/internal/core/service"
	"github.com/guillermoBallester/auditsql/internal/telemetry"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	overrides, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if err := run(overrides); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags maps command-line flags onto config overrides. Only flags that
// were explicitly set end up non-nil.
func parseFlags(args []string) (config.Overrides, error) {
	fs := pflag.NewFlagSet("auditsql", pflag.ContinueOnError)

	configFile := fs.String("config", "", "path to YAML config file")
	envFile := fs.String("env-file", "", "path to .env file (default .env when present)")
	databaseURL := fs.String("database-url", "", "SQL Server connection string")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	queryTimeout := fs.Duration("query-timeout", 0, "hard ceiling per statement")
	transport := fs.String("transport", "", "transport: stdio or http")
	httpAddr := fs.String("http-addr", "", "listen address for the http transport")
	bearer := fs.String("http-bearer-token", "", "bearer token required by the http transport")
	auditLog := fs.String("audit-log", "", "path to the NDJSON audit ledger")
	auditDB := fs.String("audit-database-url", "", "PostgreSQL URL for the audit history store")
	publishTimeout := fs.Duration("publish-timeout", 0, "timeout for publishing one audit entry")
	historyLimit := fs.Int("history-limit", 0, "default number of history entries returned")
	otelEnabled := fs.Bool("otel", false, "enable OpenTelemetry tracing and metrics")
	dryRun := fs.Bool("dry-run", false, "check configuration and connectivity, then exit")

	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, err
	}

	o := config.Overrides{
		OTelEnabled: *otelEnabled,
		DryRun:      *dryRun,
	}
	if fs.Changed("config") {
		o.ConfigFile = configFile
	}
	if fs.Changed("env-file") {
		o.EnvFile = envFile
	}
	if fs.Changed("database-url") {
		o.DatabaseURL = databaseURL
	}
	if fs.Changed("log-level") {
		o.LogLevel = logLevel
	}
	if fs.Changed("query-timeout") {
		o.QueryTimeout = queryTimeout
	}
	if fs.Changed("transport") {
		o.Transport = transport
	}
	if fs.Changed("http-addr") {
		o.HTTPAddr = httpAddr
	}
	if fs.Changed("http-bearer-token") {
		o.HTTPBearerToken = bearer
	}
	if fs.Changed("audit-log") {
		o.AuditLog = auditLog
	}
	if fs.Changed("audit-database-url") {
		o.AuditDatabaseURL = auditDB
	}
	if fs.Changed("publish-timeout") {
		o.PublishTimeout = publishTimeout
	}
	if fs.Changed("history-limit") {
		o.HistoryLimit = historyLimit
	}

	return o, nil
}

func run(overrides config.Overrides) error {
	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr; stdout is reserved for the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting auditsql",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.String("transport", cfg.Transport),
		slog.String("database", redactDSN(cfg.DatabaseURL)),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
		slog.Bool("dry_run", cfg.DryRun),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracer, inst, shutdownTelemetry, err := setupTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	connector, err := sqlserver.NewReadOnlyConnector(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("configuring target database: %w", err)
	}
	defer func() { _ = connector.Close() }()

	if err := connector.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to target database: %w", err)
	}
	logger.Info("target database reachable", slog.String("db.system", "mssql"))

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := openPublishers(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("closing audit publishers", slog.String("error.message", err.Error()))
		}
	}()

	if cfg.DryRun {
		logger.Info("dry run complete")
		return nil
	}

	validator := domain.NewReadOnlyValidator()
	executor := sqlserver.NewExecutor(connector, validator, cfg.QueryTimeout, logger)

	svc := service.NewQueryService(validator, executor, store, publisher, logger, tracer, inst)
	svc.SetPublishTimeout(cfg.PublishTimeout)
	svc.SetHistoryLimit(cfg.HistoryLimit)
	// Publications still in flight get to finish before the publishers close.
	defer svc.Wait()

	mcpServer := mcp.NewServer(version, cfg.AssistantIdentity, svc, logger, tracer, inst)

	switch cfg.Transport {
	case "http":
		return serveHTTP(ctx, cfg, svc, mcpServer, connector, logger)
	default:
		return serveStdio(ctx, mcpServer, logger)
	}
}

func setupTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (trace.Tracer, port.Instrumentation, func(), error) {
	if !cfg.OTelEnabled {
		return telemetry.NoopTracer(), telemetry.NoopInstruments(), func() {}, nil
	}

	provider, err := telemetry.Init(ctx, "auditsql", version)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	logger.Info("opentelemetry enabled")

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			logger.Error("telemetry shutdown", slog.String("error.message", err.Error()))
		}
	}
	return provider.Tracer(), telemetry.NewInstruments(), shutdown, nil
}

// openStore returns the durable Postgres history when configured, otherwise
// an in-memory one that lives as long as the process.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (port.AuditStore, func(), error) {
	if cfg.AuditDatabaseURL == "" {
		logger.Warn("AUDIT_DATABASE_URL not set; audit history is kept in memory only")
		return audit.NewMemoryStore(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.AuditDatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to audit database: %w", err)
	}
	store := postgres.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrating audit database: %w", err)
	}

	logger.Info("audit store connected",
		slog.String("db.system", "postgresql"),
		slog.String("database", redactDSN(cfg.AuditDatabaseURL)),
	)
	return store, pool.Close, nil
}

func openPublishers(cfg *config.Config, logger *slog.Logger) (port.AuditPublisher, error) {
	var publishers []port.AuditPublisher

	if cfg.AuditLog != "" {
		fp, err := audit.NewFilePublisher(cfg.AuditLog)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		publishers = append(publishers, fp)
		logger.Info("audit ledger enabled", slog.String("file", cfg.AuditLog))
	}

	if cfg.GitHubEnabled() {
		gp, err := github.NewPublisher(github.Options{
			Token:  cfg.GitHubToken,
			Repo:   cfg.GitHubAuditRepo,
			Issue:  cfg.GitHubAuditIssue,
			APIURL: cfg.GitHubAPIURL,
		})
		if err != nil {
			for _, p := range publishers {
				_ = p.Close()
			}
			return nil, fmt.Errorf("configuring github publisher: %w", err)
		}
		publishers = append(publishers, gp)
		logger.Info("github audit publishing enabled",
			slog.String("repo", cfg.GitHubAuditRepo),
			slog.Int("issue", cfg.GitHubAuditIssue),
		)
	}

	if len(publishers) == 0 {
		logger.Warn("no audit publisher configured; entries are only kept in history")
		return port.NoopPublisher{}, nil
	}
	return audit.NewMultiPublisher(publishers...), nil
}

func serveStdio(ctx context.Context, mcpServer *mcpserver.MCPServer, logger *slog.Logger) error {
	stdioServer := mcpserver.NewStdioServer(mcpServer)

	logger.Info("serving MCP over stdio")
	if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, svc *service.QueryService, mcpServer *mcpserver.MCPServer, pinger httpapi.Pinger, logger *slog.Logger) error {
	handler := httpapi.NewRouter(ctx, httpapi.Options{
		Query:       svc,
		BearerToken: cfg.HTTPBearerToken,
		RateLimit: httpapi.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		MCP:               mcpserver.NewStreamableHTTPServer(mcpServer),
		Pinger:            pinger,
		Logger:            logger,
		AssistantIdentity: cfg.AssistantIdentity,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Long enough for a statement at the timeout ceiling plus serialization.
		WriteTimeout: cfg.QueryTimeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving HTTP", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

var adoPasswordPattern = regexp.MustCompile(`(?i)((?:password|pwd)\s*=\s*)(?:'[^']*'|"[^"]*"|[^;]*)`)

// redactDSN masks the password in a connection string for logging. URL
// forms keep their shape; ADO-style key=value strings get the value replaced.
func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		return adoPasswordPattern.ReplaceAllString(dsn, "${1}***")
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}

	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	q := u.Query()
	redacted := false
	for key := range q {
		switch strings.ToLower(key) {
		case "password", "pwd":
			q.Set(key, "***")
			redacted = true
		}
	}
	if redacted {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
