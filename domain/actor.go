package domain

import "context"

type actorKey struct{}

// WithActor returns a context carrying the authenticated user id. Services
// restrict owner scoped operations to that user.
func WithActor(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the authenticated user id, or "" when the request is not authenticated.
func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

func authorizeOwner(ctx context.Context, owner string) error {
	if actor := ActorFrom(ctx); actor != "" && actor != owner {
		return ErrForbidden
	}
	return nil
}

// canSee hides tasks of other owners from authenticated actors.
func canSee(ctx context.Context, t Task) bool {
	actor := ActorFrom(ctx)
	return actor == "" || actor == t.Owner
}
