package users

import (
	"strings"
	"time"
)

// SessionPurpose distinguishes sign-in sessions from single-use password recovery grants.
type SessionPurpose string

const (
	PurposeSignIn   SessionPurpose = "session"
	PurposeRecovery SessionPurpose = "recovery"
)

// User is a password account.
type User struct {
	ID               string     `gorm:"column:id;primaryKey;size:64;not null"`
	Email            string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash     string     `gorm:"column:password_hash;size:255;not null"`
	EmailConfirmedAt *time.Time `gorm:"column:email_confirmed_at"`
	LastSignInAt     *time.Time `gorm:"column:last_sign_in_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Session is a server-side record behind every issued token so tokens can be revoked.
type Session struct {
	ID        string         `gorm:"column:id;primaryKey;size:64;not null"`
	UserID    string         `gorm:"column:user_id;size:64;not null;index"`
	Purpose   SessionPurpose `gorm:"column:purpose;size:16;not null"`
	ExpiresAt time.Time      `gorm:"column:expires_at;not null"`
	RevokedAt *time.Time     `gorm:"column:revoked_at"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing sessions.
func (Session) TableName() string {
	return "user_sessions"
}

// Active reports whether the session is neither revoked nor expired at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
