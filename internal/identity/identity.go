// Package identity resolves bearer credentials into marketplace identities and
// carries the per-request authentication state.
package identity

import (
	"context"
	"slices"
	"time"
)

// UserType is the account category chosen at signup
type UserType string

const (
	TypeIndividual   UserType = "individual"
	TypeRepairShop   UserType = "repair_shop"
	TypeOrganization UserType = "organization"
)

// UserTypes lists every known account category
var UserTypes = []UserType{TypeIndividual, TypeRepairShop, TypeOrganization}

// Valid reports whether t is a known account category
func (t UserType) Valid() bool {
	return slices.Contains(UserTypes, t)
}

// ParseUserType maps free-form provider metadata to a UserType, falling back to individual
func ParseUserType(value string) UserType {
	if t := UserType(value); t.Valid() {
		return t
	}
	return TypeIndividual
}

// Identity is the resolved user behind a credential
type Identity struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Verified bool     `json:"verified"`
	Type     UserType `json:"user_type"`
	IsAdmin  bool     `json:"is_admin"`
}

// Session is the application's reference to a provider-owned session
type Session struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestContext is the authentication state of one inbound request. It is
// built once by the identity middleware and never mutated afterwards.
type RequestContext struct {
	Identity   *Identity // nil for unauthenticated requests
	Session    *Session
	RequestID  string
	Credential string
}

// Authenticated reports whether an identity was resolved for the request
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Identity != nil
}

// contextKey prevents collisions with other context values.
type contextKey struct{}

// WithRequestContext stores rc on ctx
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext retrieves the request's authentication state, when available
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}

// IdentityFromContext returns the resolved identity or nil
func IdentityFromContext(ctx context.Context) *Identity {
	if rc, ok := FromContext(ctx); ok {
		return rc.Identity
	}
	return nil
}
