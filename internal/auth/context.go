package auth

import "context"

type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

func (r Role) Valid() bool {
	return r == RoleParent || r == RoleChild
}

// Actor is the authenticated caller. ID is recorded on every ledger
// transaction and review the caller causes.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsParent() bool {
	return a.Role == RoleParent
}

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}

func ActorID(ctx context.Context) string {
	a, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return a.ID
}

func IsParent(ctx context.Context) bool {
	a, ok := FromContext(ctx)
	return ok && a.IsParent()
}
