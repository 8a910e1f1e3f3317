// Package kit is the transport-neutral glue between couponclip operations
// and the surfaces that expose them: endpoint middleware, request context
// values and MCP tool registration.
package kit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Endpoint is one operation behind a transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Recover turns a panic in the endpoint into an error.
func Recover(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "kit: endpoint panic", "panic", r, "transport", Transport(ctx))
					resp, err = nil, fmt.Errorf("internal error")
				}
			}()
			return next(ctx, req)
		}
	}
}

// Logging logs the duration and outcome of each call under name.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", Transport(ctx),
				"user_id", UserID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.WarnContext(ctx, "kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "kit: endpoint done", attrs...)
			}
			return resp, err
		}
	}
}
