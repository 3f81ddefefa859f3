package common

import (
	"context"
)

// UserContext holds the authenticated caller for a request. Exactly one
// credential scope applies: owner requests carry the account identity,
// device requests additionally carry the grant the credential was issued
// against.
type UserContext struct {
	UserID string
	Email  string
	Role   string

	// DeviceScope is true when the request was authenticated with a
	// short-lived device credential rather than a primary credential.
	DeviceScope bool
	// GrantID is the device grant the credential was issued for.
	// Empty unless DeviceScope is true.
	GrantID string
}

type contextKey int

const userContextKey contextKey = iota

// WithUserContext stores a UserContext in the request context.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, uc)
}

// UserContextFromContext retrieves the UserContext from context, or nil if absent.
func UserContextFromContext(ctx context.Context) *UserContext {
	uc, _ := ctx.Value(userContextKey).(*UserContext)
	return uc
}

// ResolveUserID returns the UserID from context, or empty when no user
// context is present.
func ResolveUserID(ctx context.Context) string {
	if uc := UserContextFromContext(ctx); uc != nil {
		return uc.UserID
	}
	return ""
}
