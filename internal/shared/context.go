package shared

import (
	"context"

	"github.com/google/uuid"
)

type actorContextKey struct{}

type correlationContextKey struct{}

// ContextWithActor stores the acting user id in context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting user id, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}

// ContextWithCorrelation stores the request correlation id.
func ContextWithCorrelation(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, correlationContextKey{}, id)
}

// CorrelationFromContext returns the correlation id or uuid.Nil.
func CorrelationFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(correlationContextKey{}).(uuid.UUID)
	return id
}
