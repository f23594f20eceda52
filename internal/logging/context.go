package logging

import "context"

type requestIDKey struct{}

// WithRequestID returns a context carrying the request identifier.
// The HTTP layer sets it once per request; everything downstream logs
// with the same id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request identifier set by WithRequestID.
// The second return is false when no id is set.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
