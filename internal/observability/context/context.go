// Package context carries request-scoped correlation values.
package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	sourceKey
	actorKey
)

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

// WithSource tags the transport an event arrived on (http, kafka).
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, strings.TrimSpace(source))
}

func SourceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(sourceKey).(string)
	return v
}

// WithActor records the operator acting on the request.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, strings.TrimSpace(actorID))
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(actorKey).(string)
	return v
}
