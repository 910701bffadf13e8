// Package ctxutil carries the caller identity through a context.
// It has no internal dependencies so any package can import it.
package ctxutil

import "context"

// DefaultActor is recorded when no identity was supplied.
const DefaultActor = "system"

type actorKey struct{}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor, or DefaultActor when none is set.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultActor
	}
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultActor
}
