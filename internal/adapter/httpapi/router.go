// Package httpapi serves the REST surface and mounts the MCP endpoint.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/guillermoBallester/auditsql/internal/core/service"
)

// Options configure NewRouter.
type Options struct {
	Query       *service.QueryService
	BearerToken string
	RateLimit   RateLimitConfig
	// MCP, when set, is mounted at /mcp behind the same auth and limits.
	MCP    http.Handler
	Pinger Pinger
	Logger *slog.Logger
	// AssistantIdentity is recorded for source=ai requests that name no requester.
	AssistantIdentity string
}

// NewRouter wires the API. /api/health is public; everything else needs
// the bearer token. ctx bounds the rate limiter's background cleanup.
func NewRouter(ctx context.Context, opts Options) http.Handler {
	h := &handlers{query: opts.Query, pinger: opts.Pinger, logger: opts.Logger, identity: opts.AssistantIdentity}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(func(next http.Handler) http.Handler { return recoveryMiddleware(next, opts.Logger) })

	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return bearerAuthMiddleware(next, opts.BearerToken) })
		r.Use(RateLimiter(ctx, opts.RateLimit))

		r.Post("/api/query/execute", h.execute)
		r.Get("/api/query/history", h.history)
		r.Get("/api/query/history/{id}", h.historyEntry)
		r.Get("/api/audit/{id}/verify", h.verify)

		if opts.MCP != nil {
			r.Handle("/mcp", opts.MCP)
			r.Handle("/mcp/*", opts.MCP)
		}
	})

	return r
}
