package shared

import "context"

type actorContextKey struct{}

// SystemActor is recorded when no actor is attached to the context.
const SystemActor = "system"

// ContextWithActor stores the acting user or process id in context.
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the actor id from context.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if actor == "" {
		return SystemActor
	}
	return actor
}
