package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
)

const (
	applicationIntentKey = "ApplicationIntent"
	readOnlyIntent       = "ReadOnly"

	setIsolationLevel = "SET TRANSACTION ISOLATION LEVEL READ UNCOMMITTED"
)

// ReadOnlyConnector hands out dedicated connections pinned to read-only
// application intent and READ UNCOMMITTED isolation. Connections are not kept
// idle: closing one closes the session.
type ReadOnlyConnector struct {
	db *sql.DB
}

// NewReadOnlyConnector parses dsn (URL or ADO form), forces read-only
// application intent and opens the handle.
func NewReadOnlyConnector(dsn string) (*ReadOnlyConnector, error) {
	forced, err := withReadOnlyIntent(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mssql.NewConnector(forced)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	return NewReadOnlyConnectorFromDB(sql.OpenDB(connector)), nil
}

// NewReadOnlyConnectorFromDB wraps an existing handle. Intent is the
// caller's responsibility; the isolation level is still set per connection.
func NewReadOnlyConnectorFromDB(db *sql.DB) *ReadOnlyConnector {
	db.SetMaxIdleConns(0)
	return &ReadOnlyConnector{db: db}
}

// Connect returns a fresh session. The caller must Close it.
func (c *ReadOnlyConnector) Connect(ctx context.Context) (*sql.Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, setIsolationLevel); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("setting isolation level: %w", err)
	}
	return conn, nil
}

// Ping checks the server is reachable within 10 seconds.
func (c *ReadOnlyConnector) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("pinging database (10s timeout): %w", err)
	}
	return nil
}

func (c *ReadOnlyConnector) Close() error {
	return c.db.Close()
}

// withReadOnlyIntent sets ApplicationIntent=ReadOnly on a sqlserver:// URL or
// an ADO-style "key=value;" string, replacing any intent already present.
func withReadOnlyIntent(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("database URL is empty")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlserver://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parsing database URL: %w", err)
		}
		q := u.Query()
		for k := range q {
			if strings.EqualFold(k, applicationIntentKey) {
				q.Del(k)
			}
		}
		q.Set(applicationIntentKey, readOnlyIntent)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	var parts []string
	for _, part := range strings.Split(dsn, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if strings.EqualFold(strings.TrimSpace(key), applicationIntentKey) {
			continue
		}
		parts = append(parts, part)
	}
	parts = append(parts, applicationIntentKey+"="+readOnlyIntent)
	return strings.Join(parts, ";"), nil
}
