package identity

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/MarcoPoloResearchLab/cardloom/internal/auth"
	"github.com/MarcoPoloResearchLab/cardloom/internal/users"
	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

const (
	defaultSessionTTL  = 60 * time.Minute
	defaultRecoveryTTL = 30 * time.Minute
)

var (
	errMissingUsers     = errors.New("identity: user service is required")
	errMissingIssuer    = errors.New("identity: token issuer is required")
	errMissingValidator = errors.New("identity: session validator is required")
	errMissingRedirect  = errors.New("identity: redirect target is required")
)

type emailInput struct {
	Email string `json:"email" validate:"required,email"`
}

type passwordInput struct {
	Password string `json:"password" validate:"password_policy"`
}

// LocalProviderConfig wires the account store and token machinery.
type LocalProviderConfig struct {
	Users       *users.Service
	Issuer      *auth.TokenIssuer
	Validator   *auth.SessionValidator
	Mailer      Mailer
	Rules       *validation.Validator
	SessionTTL  time.Duration
	RecoveryTTL time.Duration
	BcryptCost  int
	Logger      *zap.Logger
}

// LocalProvider implements Provider on top of the local account tables.
type LocalProvider struct {
	users       *users.Service
	issuer      *auth.TokenIssuer
	validator   *auth.SessionValidator
	mailer      Mailer
	rules       *validation.Validator
	sessionTTL  time.Duration
	recoveryTTL time.Duration
	bcryptCost  int
	logger      *zap.Logger
}

func NewLocalProvider(cfg LocalProviderConfig) (*LocalProvider, error) {
	if cfg.Users == nil {
		return nil, errMissingUsers
	}
	if cfg.Issuer == nil {
		return nil, errMissingIssuer
	}
	if cfg.Validator == nil {
		return nil, errMissingValidator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = NewLogMailer(logger)
	}
	rules := cfg.Rules
	if rules == nil {
		built, err := validation.New()
		if err != nil {
			return nil, err
		}
		rules = built
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	recoveryTTL := cfg.RecoveryTTL
	if recoveryTTL <= 0 {
		recoveryTTL = defaultRecoveryTTL
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &LocalProvider{
		users:       cfg.Users,
		issuer:      cfg.Issuer,
		validator:   cfg.Validator,
		mailer:      mailer,
		rules:       rules,
		sessionTTL:  sessionTTL,
		recoveryTTL: recoveryTTL,
		bcryptCost:  cost,
		logger:      logger,
	}, nil
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (User, *Session, error) {
	if err := p.checkEmail(email); err != nil {
		return User{}, nil, err
	}
	if issues := p.rules.Struct(passwordInput{Password: password}); len(issues) > 0 {
		return User{}, nil, newError(CodeWeakPassword, validation.NewError(issues))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return User{}, nil, newError(CodeUnexpected, err)
	}
	account, err := p.users.CreateUser(ctx, email, string(hash))
	if errors.Is(err, users.ErrEmailTaken) {
		return User{}, nil, newError(CodeEmailExists, err)
	}
	if err != nil {
		p.logger.Error("account creation failed", zap.Error(err))
		return User{}, nil, newError(CodeUnexpected, err)
	}

	session, err := p.openSession(ctx, account)
	if err != nil {
		return User{}, nil, err
	}
	return session.User, &session, nil
}

func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (User, Session, error) {
	account, err := p.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrUserNotFound) {
		return User{}, Session{}, newError(CodeInvalidCredentials, err)
	}
	if err != nil {
		return User{}, Session{}, newError(CodeUnexpected, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return User{}, Session{}, newError(CodeInvalidCredentials, err)
	}
	if err := p.users.RecordSignIn(ctx, account.ID); err != nil {
		p.logger.Warn("failed to record sign in", zap.String("user_id", account.ID), zap.Error(err))
	} else if refreshed, err := p.users.FindByID(ctx, account.ID); err == nil {
		account = refreshed
	}

	session, err := p.openSession(ctx, account)
	if err != nil {
		return User{}, Session{}, err
	}
	return session.User, session, nil
}

func (p *LocalProvider) openSession(ctx context.Context, account users.User) (Session, error) {
	record, err := p.users.CreateSession(ctx, account.ID, users.PurposeSignIn, p.sessionTTL)
	if err != nil {
		return Session{}, newError(CodeUnexpected, err)
	}
	token, expiresAt, err := p.issuer.IssueToken(ctx, auth.TokenRequest{
		UserID:    account.ID,
		UserEmail: account.Email,
		SessionID: record.ID,
		Purpose:   auth.PurposeSession,
		ExpiresAt: record.ExpiresAt,
	})
	if err != nil {
		return Session{}, newError(CodeUnexpected, err)
	}
	return Session{AccessToken: token, ExpiresAt: expiresAt, User: publicUser(account)}, nil
}

func (p *LocalProvider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := p.validator.ValidatePurpose(accessToken, auth.PurposeSession)
	if err != nil {
		return newError(CodeSessionNotFound, err)
	}
	if err := p.users.RevokeSession(ctx, claims.SessionID()); err != nil {
		return newError(CodeUnexpected, err)
	}
	return nil
}

func (p *LocalProvider) GetSession(ctx context.Context, accessToken string) (Session, error) {
	claims, err := p.validator.ValidatePurpose(accessToken, auth.PurposeSession)
	if err != nil {
		return Session{}, newError(CodeSessionNotFound, err)
	}
	if _, err := p.users.ActiveSession(ctx, claims.SessionID()); err != nil {
		if errors.Is(err, users.ErrSessionNotFound) {
			return Session{}, newError(CodeSessionNotFound, err)
		}
		return Session{}, newError(CodeUnexpected, err)
	}
	account, err := p.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, users.ErrUserNotFound) {
		return Session{}, newError(CodeUserNotFound, err)
	}
	if err != nil {
		return Session{}, newError(CodeUnexpected, err)
	}
	session := Session{AccessToken: accessToken, User: publicUser(account)}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (p *LocalProvider) GetUser(ctx context.Context, accessToken string) (User, error) {
	session, err := p.GetSession(ctx, accessToken)
	if err != nil {
		return User{}, err
	}
	return session.User, nil
}

func (p *LocalProvider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if err := p.checkEmail(email); err != nil {
		return err
	}
	if strings.TrimSpace(redirectTo) == "" {
		return newError(CodeValidationFailed, errMissingRedirect)
	}

	account, err := p.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrUserNotFound) {
		p.logger.Debug("password recovery requested for unknown address")
		return nil
	}
	if err != nil {
		return newError(CodeUnexpected, err)
	}

	if err := p.users.RevokeUserSessions(ctx, account.ID, users.PurposeRecovery); err != nil {
		return newError(CodeUnexpected, err)
	}
	record, err := p.users.CreateSession(ctx, account.ID, users.PurposeRecovery, p.recoveryTTL)
	if err != nil {
		return newError(CodeUnexpected, err)
	}
	token, _, err := p.issuer.IssueToken(ctx, auth.TokenRequest{
		UserID:    account.ID,
		UserEmail: account.Email,
		SessionID: record.ID,
		Purpose:   auth.PurposeRecovery,
		ExpiresAt: record.ExpiresAt,
	})
	if err != nil {
		return newError(CodeUnexpected, err)
	}

	if err := p.mailer.SendPasswordRecovery(ctx, account.Email, recoveryLink(redirectTo, token)); err != nil {
		return newError(CodeUnexpected, err)
	}
	return nil
}

func recoveryLink(redirectTo, token string) string {
	separator := "?"
	if strings.Contains(redirectTo, "?") {
		separator = "&"
	}
	return redirectTo + separator + "token=" + url.QueryEscape(token)
}

func (p *LocalProvider) UpdateUser(ctx context.Context, accessToken string, attributes UserAttributes) (User, error) {
	claims, err := p.validator.ValidateToken(accessToken)
	if err != nil {
		return User{}, newError(CodeInvalidGrant, err)
	}
	failureCode := CodeSessionNotFound
	if claims.Purpose == auth.PurposeRecovery {
		failureCode = CodeInvalidGrant
	}
	if _, err := p.users.ActiveSession(ctx, claims.SessionID()); err != nil {
		if errors.Is(err, users.ErrSessionNotFound) {
			return User{}, newError(failureCode, err)
		}
		return User{}, newError(CodeUnexpected, err)
	}

	if issues := p.rules.Struct(passwordInput{Password: attributes.Password}); len(issues) > 0 {
		return User{}, newError(CodeWeakPassword, validation.NewError(issues))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(attributes.Password), p.bcryptCost)
	if err != nil {
		return User{}, newError(CodeUnexpected, err)
	}
	if err := p.users.UpdatePasswordHash(ctx, claims.UserID, string(hash)); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return User{}, newError(CodeUserNotFound, err)
		}
		return User{}, newError(CodeUnexpected, err)
	}
	if claims.Purpose == auth.PurposeRecovery {
		if err := p.users.RevokeSession(ctx, claims.SessionID()); err != nil {
			p.logger.Warn("failed to revoke recovery grant", zap.String("user_id", claims.UserID), zap.Error(err))
		}
	}

	account, err := p.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return User{}, newError(CodeUnexpected, err)
	}
	return publicUser(account), nil
}

func (p *LocalProvider) checkEmail(email string) error {
	if issues := p.rules.Struct(emailInput{Email: strings.TrimSpace(email)}); len(issues) > 0 {
		return newError(CodeEmailAddressInvalid, validation.NewError(issues))
	}
	return nil
}

func publicUser(account users.User) User {
	return User{
		ID:               account.ID,
		Email:            account.Email,
		EmailConfirmedAt: account.EmailConfirmedAt,
		LastSignInAt:     account.LastSignInAt,
		CreatedAt:        account.CreatedAt,
	}
}

var _ Provider = (*LocalProvider)(nil)
