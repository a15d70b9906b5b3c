package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cardloom/internal/auth"
	"github.com/MarcoPoloResearchLab/cardloom/internal/flashcards"
	"github.com/MarcoPoloResearchLab/cardloom/internal/generations"
	"github.com/MarcoPoloResearchLab/cardloom/internal/identity"
	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

const (
	userIDContextKey       = "cardloom_user_id"
	accessTokenContextKey  = "cardloom_access_token"
	defaultResetRedirect   = "/reset-password"
	maxRequestBodyBytes    = 64 << 10
	corsPreflightCacheTime = 12 * time.Hour
)

var (
	errMissingGenerationService = errors.New("generation service dependency required")
	errMissingFlashcardService  = errors.New("flashcard service dependency required")
	errMissingIdentityProvider  = errors.New("identity provider dependency required")
	errMissingSessionValidator  = errors.New("session validator dependency required")
	errMissingPublicOrigin      = errors.New("public origin or an explicit allowed origin required for relative reset redirects")
	errInvalidPublicOrigin      = errors.New("origin must be an absolute http(s) URL")
)

type Dependencies struct {
	Generations    *generations.Service
	Flashcards     *flashcards.Service
	Identity       identity.Provider
	Sessions       *auth.SessionValidator
	Validator      *validation.Validator
	AllowedOrigins []string
	// PasswordResetRedirect is an absolute URL or a path joined to PublicOrigin.
	PasswordResetRedirect string
	// PublicOrigin is the externally visible origin used in emailed links.
	PublicOrigin  string
	SecureCookies bool
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Generations == nil {
		return nil, errMissingGenerationService
	}
	if deps.Flashcards == nil {
		return nil, errMissingFlashcardService
	}
	if deps.Identity == nil {
		return nil, errMissingIdentityProvider
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := deps.Validator
	if validator == nil {
		built, err := validation.New()
		if err != nil {
			return nil, err
		}
		validator = built
	}
	resetLink, err := resolveResetLink(deps.PasswordResetRedirect, deps.PublicOrigin, deps.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(limitRequestBody(maxRequestBodyBytes))

	handler := &httpHandler{
		generations:   deps.Generations,
		flashcards:    deps.Flashcards,
		identity:      deps.Identity,
		sessions:      deps.Sessions,
		validator:     validator,
		resetLink:     resetLink,
		secureCookies: deps.SecureCookies,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api")
	api.POST("/generations", handler.attachSession, handler.handleCreateGeneration)

	authRoutes := api.Group("/auth")
	authRoutes.POST("/register", handler.handleRegister)
	authRoutes.POST("/login", handler.handleLogin)
	authRoutes.POST("/forgot-password", handler.handleForgotPassword)
	authRoutes.POST("/reset-password", handler.handleResetPassword)
	authRoutes.POST("/logout", handler.requireSession, handler.handleLogout)
	authRoutes.GET("/session", handler.requireSession, handler.handleSession)

	protected := api.Group("/")
	protected.Use(handler.requireSession)
	protected.GET("/generations", handler.handleListGenerations)
	protected.GET("/flashcards", handler.handleListFlashcards)
	protected.POST("/flashcards", handler.handleCreateFlashcard)
	protected.POST("/flashcards/batch", handler.handleBatchFlashcards)
	protected.PATCH("/flashcards/:id", handler.handleUpdateFlashcard)
	protected.DELETE("/flashcards/:id", handler.handleDeleteFlashcard)
	protected.GET("/study/session", handler.handleStudySession)

	return router, nil
}

type httpHandler struct {
	generations   *generations.Service
	flashcards    *flashcards.Service
	identity      identity.Provider
	sessions      *auth.SessionValidator
	validator     *validation.Validator
	resetLink     string
	secureCookies bool
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       corsPreflightCacheTime,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	config.AllowCredentials = true
	return cors.New(config)
}

func limitRequestBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(startedAt)))
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
