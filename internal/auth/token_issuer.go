package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 60 * time.Minute
	// DefaultIssuer is used when no issuer is configured.
	DefaultIssuer = "cardloom-auth"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errMissingSessionID     = errors.New("session id must be provided")
)

// TokenIssuerConfig configures the session JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs HS256 JWTs that point at server-side session records.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// Issuer returns the iss claim written into tokens.
func (i *TokenIssuer) Issuer() string {
	return i.issuer
}

// TokenRequest describes the token to sign. A zero ExpiresAt uses the issuer TTL.
type TokenRequest struct {
	UserID    string
	UserEmail string
	SessionID string
	Purpose   Purpose
	ExpiresAt time.Time
}

// IssueToken produces a signed JWT and the moment it expires.
func (i *TokenIssuer) IssueToken(_ context.Context, request TokenRequest) (string, time.Time, error) {
	if strings.TrimSpace(request.UserID) == "" {
		return "", time.Time{}, errMissingSubjectClaim
	}
	if strings.TrimSpace(request.SessionID) == "" {
		return "", time.Time{}, errMissingSessionID
	}

	now := i.clock().UTC()
	expiresAt := request.ExpiresAt.UTC()
	if request.ExpiresAt.IsZero() {
		expiresAt = now.Add(i.tokenTTL)
	}
	purpose := request.Purpose
	if purpose == "" {
		purpose = PurposeSession
	}

	claims := SessionClaims{
		UserID:    request.UserID,
		UserEmail: request.UserEmail,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        request.SessionID,
			Subject:   request.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
