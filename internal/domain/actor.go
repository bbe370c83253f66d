package domain

import "context"

// ActorSystem is reported for commands issued without an authenticated caller
const ActorSystem = "system"

type actorKey struct{}

// WithActor returns a copy of ctx that carries the identity issuing the command
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the identity stored by WithActor, or ActorSystem
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return ActorSystem
}
