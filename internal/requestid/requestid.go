package requestid

import (
	"context"

	"github.com/google/uuid"
)

// MaxLen bounds ids accepted from callers; they end up in every log line.
const MaxLen = 64

type ctxKey struct{}

type tickKey struct{}

// New generates a random UUID v4 correlation ID.
func New() string {
	return uuid.NewString()
}

// Valid reports whether a caller-supplied id is safe to log: non-empty, at
// most MaxLen bytes, and limited to letters, digits, '-', '_', '.' and ':'.
func Valid(id string) bool {
	if id == "" || len(id) > MaxLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch b := id[i]; {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		case b == '-', b == '_', b == '.', b == ':':
		default:
			return false
		}
	}
	return true
}

// WithRequestID returns a copy of ctx with the request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithTickID marks ctx as belonging to one pass of the scheduling loop.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickKey{}, id)
}

func TickIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tickKey{}).(string)
	return id
}
