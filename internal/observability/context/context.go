// Package context carries request-scoped correlation values used by logging
// and auditing.
package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorKey
)

type actor struct {
	typ string
	id  string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithActor records who triggered the current operation. Scheduler runs use
// actor type "system".
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actor{
		typ: strings.TrimSpace(actorType),
		id:  strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	a, ok := ctx.Value(actorKey).(actor)
	if !ok {
		return "", ""
	}
	return a.typ, a.id
}
