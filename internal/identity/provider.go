// Package identity provides account sign-up, password sign-in, sessions and password recovery.
package identity

import (
	"context"
	"time"
)

// User is the public view of an account.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Session is an issued access token and the user it belongs to.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// UserAttributes are the mutable fields of an account.
type UserAttributes struct {
	Password string
}

// Provider is the identity service consumed by the HTTP layer.
type Provider interface {
	// SignUp creates an account. The session is nil when the account needs confirmation first.
	SignUp(ctx context.Context, email, password string) (User, *Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (User, Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (User, error)
	GetSession(ctx context.Context, accessToken string) (Session, error)
	// ResetPasswordForEmail sends a recovery link built from redirectTo. Unknown addresses succeed silently.
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// UpdateUser accepts a sign-in session or a recovery token.
	UpdateUser(ctx context.Context, accessToken string, attributes UserAttributes) (User, error)
}
