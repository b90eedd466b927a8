// Package identity is the boundary to the identity provider.
package identity

import (
	"context"
	"errors"
	"strings"

	"firebase.google.com/go/v4/auth"

	"goflare.io/storefront/models"
)

var (
	ErrUnauthenticated    = errors.New("identity: not signed in")
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
	ErrPasswordMismatch   = errors.New("identity: passwords do not match")
	ErrNotConfigured      = errors.New("identity: provider not configured")
)

const UnexpectedMessage = "An unexpected error occurred."

type Provider interface {
	SignIn(ctx context.Context, email, password string) (*models.User, error)
	SignUp(ctx context.Context, email, password, displayName string) (*models.User, error)
	SignOut(ctx context.Context, uid string) error
	ResetPassword(ctx context.Context, email string) error
	// Verify resolves an ID token to its user. Invalid tokens are ErrUnauthenticated.
	Verify(ctx context.Context, idToken string) (*models.User, error)
}

// Message turns a provider error into text that is safe to show a shopper.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrPasswordMismatch):
		return "Passwords do not match."
	case errors.Is(err, ErrUnauthenticated):
		return "Please sign in to continue."
	case auth.IsEmailAlreadyExists(err):
		return "An account with this email already exists."
	case auth.IsUserNotFound(err), auth.IsEmailNotFound(err):
		return "No account found for this email."
	case auth.IsInvalidEmail(err):
		return "Please enter a valid email address."
	case isWeakPassword(err):
		return "Password should be at least 6 characters."
	default:
		return UnexpectedMessage
	}
}

func isWeakPassword(err error) bool {
	return strings.Contains(err.Error(), "WEAK_PASSWORD") ||
		strings.Contains(err.Error(), "password must be a string at least 6 characters long")
}

var _ Provider = Disabled{}

// Disabled is used when no identity provider is configured. Every token is
// rejected and every account operation fails.
type Disabled struct{}

func (Disabled) SignIn(context.Context, string, string) (*models.User, error) {
	return nil, ErrNotConfigured
}

func (Disabled) SignUp(context.Context, string, string, string) (*models.User, error) {
	return nil, ErrNotConfigured
}

func (Disabled) SignOut(context.Context, string) error { return ErrNotConfigured }

func (Disabled) ResetPassword(context.Context, string) error { return ErrNotConfigured }

func (Disabled) Verify(context.Context, string) (*models.User, error) {
	return nil, ErrUnauthenticated
}
