package kit

import "context"

type contextKey string

const (
	userIDKey    contextKey = "kit_user_id"
	transportKey contextKey = "kit_transport"
	requestIDKey contextKey = "kit_request_id"
)

// WithUserID stores the calling user. Session files are partitioned by it.
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the calling user, or 0.
func UserID(ctx context.Context) int64 {
	v, _ := ctx.Value(userIDKey).(int64)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// Transport returns "http", "mcp" or "cli". Default: "http".
func Transport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
