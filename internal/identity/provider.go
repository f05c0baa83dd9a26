package identity

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable signals an infrastructure failure talking to the
	// identity provider. It is never returned for a merely invalid credential.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailTaken          = errors.New("email already registered")
	ErrSignUpRejected      = errors.New("sign up rejected")
	// ErrClaimsReadOnly means the provider cannot apply a requested claims change
	ErrClaimsReadOnly = errors.New("identity provider claims are read-only")
)

// Provider resolves credentials. Invalid, expired or malformed credentials
// yield (nil, nil, nil); only ErrProviderUnavailable is an error condition.
// Implementations must make at most one upstream call and must not retry.
type Provider interface {
	Resolve(ctx context.Context, credential string) (*Identity, *Session, error)
}

// SignUpParams describes a new account
type SignUpParams struct {
	Email       string
	Password    string
	DisplayName string
	Type        UserType
}

// Authenticator manages the credential lifecycle with the provider.
// SignUp may return a nil session when the provider requires email confirmation.
type Authenticator interface {
	SignUp(ctx context.Context, params SignUpParams) (*Identity, *Session, error)
	SignIn(ctx context.Context, email, password string) (*Identity, *Session, error)
	SignOut(ctx context.Context, credential string) error
}

// ClaimsUpdate changes the server-controlled claims of an account. Nil fields
// are left untouched.
type ClaimsUpdate struct {
	Type     *UserType
	IsAdmin  *bool
	Verified *bool
}

// ClaimsManager is implemented by providers that own the role and admin
// claims of an identity. Changes must be written there, or the next
// resolve would hand back the old values.
type ClaimsManager interface {
	UpdateClaims(ctx context.Context, userID string, update ClaimsUpdate) error
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, credential string) (*Identity, *Session, error)

// Resolve calls f
func (f ProviderFunc) Resolve(ctx context.Context, credential string) (*Identity, *Session, error) {
	return f(ctx, credential)
}
