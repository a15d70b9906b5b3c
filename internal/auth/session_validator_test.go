package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "cardloom_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func newTestPair(t *testing.T, now *time.Time) (*TokenIssuer, *SessionValidator) {
	t.Helper()
	clock := func() time.Time { return *now }
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        DefaultIssuer,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return issuer, validator
}

func issue(t *testing.T, issuer *TokenIssuer, purpose Purpose) string {
	t.Helper()
	token, _, err := issuer.IssueToken(context.Background(), TokenRequest{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		SessionID: "session-1",
		Purpose:   purpose,
	})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func TestSessionValidatorValidateToken(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(t, &now)

	claims, err := validator.ValidateToken(issue(t, issuer, PurposeSession))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
	if claims.UserEmail != testSessionUserEmail {
		t.Fatalf("unexpected email: %s", claims.UserEmail)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(t, &now)
	token := issue(t, issuer, PurposeSession)

	now = now.Add(2 * time.Hour)
	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignSignature(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	_, validator := newTestPair(t, &now)
	foreign, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("other"), Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	if _, err := validator.ValidateToken(issue(t, foreign, PurposeSession)); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorValidatePurpose(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(t, &now)
	recovery := issue(t, issuer, PurposeRecovery)

	if _, err := validator.ValidatePurpose(recovery, PurposeRecovery); err != nil {
		t.Fatalf("expected recovery token to validate: %v", err)
	}
	if _, err := validator.ValidatePurpose(recovery, PurposeSession); !errors.Is(err, ErrUnexpectedTokenPurpose) {
		t.Fatalf("expected purpose mismatch, got %v", err)
	}
}

func TestSessionValidatorValidateRequest(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(t, &now)
	token := issue(t, issuer, PurposeSession)

	cookieRequest := httptest.NewRequest(http.MethodGet, "/", nil)
	cookieRequest.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: token})
	if _, err := validator.ValidateRequest(cookieRequest); err != nil {
		t.Fatalf("expected cookie session to validate: %v", err)
	}

	bearerRequest := httptest.NewRequest(http.MethodGet, "/", nil)
	bearerRequest.Header.Set("Authorization", "Bearer "+token)
	if _, err := validator.ValidateRequest(bearerRequest); err != nil {
		t.Fatalf("expected bearer session to validate: %v", err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}

	recoveryRequest := httptest.NewRequest(http.MethodGet, "/", nil)
	recoveryRequest.Header.Set("Authorization", "Bearer "+issue(t, issuer, PurposeRecovery))
	if _, err := validator.ValidateRequest(recoveryRequest); !errors.Is(err, ErrUnexpectedTokenPurpose) {
		t.Fatalf("expected recovery token to be rejected as a session, got %v", err)
	}
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{Issuer: "i", CookieName: "c"}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: "c"}); !errors.Is(err, ErrMissingSessionIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "i"}); !errors.Is(err, ErrMissingSessionCookieName) {
		t.Fatalf("expected missing cookie error, got %v", err)
	}
}
