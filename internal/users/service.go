package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates no account matches the lookup.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrEmailTaken indicates an account already uses the address.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrSessionNotFound indicates the session is unknown, revoked or expired.
	ErrSessionNotFound = errors.New("users: session not found")
)

// ServiceConfig describes the dependencies required for account storage.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service stores accounts and their sessions.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
	cache      sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		idProvider: idProvider,
		now:        clock,
		cache:      sync.Map{},
	}, nil
}

// CreateUser registers an account for a normalised email address.
func (s *Service) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return User{}, fmt.Errorf("users: email required")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", normalized).Count(&existing).Error; err != nil {
		return User{}, err
	}
	if existing > 0 {
		return User{}, ErrEmailTaken
	}

	identifier, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	user := User{
		ID:               identifier,
		Email:            normalized,
		PasswordHash:     passwordHash,
		EmailConfirmedAt: &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	s.cache.Store(user.ID, user)
	return user, nil
}

// FindByEmail loads the account for an address.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// FindByID loads an account by identifier.
func (s *Service) FindByID(ctx context.Context, userID string) (User, error) {
	if cached, ok := s.cache.Load(userID); ok {
		if user, ok := cached.(User); ok {
			return user, nil
		}
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	s.cache.Store(user.ID, user)
	return user, nil
}

// UpdatePasswordHash replaces the stored password hash.
func (s *Service) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"password_hash": passwordHash,
			"updated_at":    s.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.cache.Delete(userID)
	return nil
}

// RecordSignIn stamps the last sign-in time.
func (s *Service) RecordSignIn(ctx context.Context, userID string) error {
	s.cache.Delete(userID)
	return s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("last_sign_in_at", s.now().UTC()).Error
}

// CreateSession opens a session of the given purpose lasting ttl.
func (s *Service) CreateSession(ctx context.Context, userID string, purpose SessionPurpose, ttl time.Duration) (Session, error) {
	identifier, err := s.idProvider.NewID()
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	session := Session{
		ID:        identifier,
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return Session{}, err
	}
	return session, nil
}

// ActiveSession returns the session when it exists, is not revoked and has not expired.
func (s *Service) ActiveSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if !session.Active(s.now()) {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// RevokeSession marks a session as revoked. Revoking an unknown session is not an error.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now().UTC()).Error
}

// RevokeUserSessions revokes every open session of the given purpose for a user.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string, purpose SessionPurpose) error {
	return s.db.WithContext(ctx).Model(&Session{}).
		Where("user_id = ? AND purpose = ? AND revoked_at IS NULL", userID, purpose).
		Update("revoked_at", s.now().UTC()).Error
}
