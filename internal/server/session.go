package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cardloom/internal/auth"
	"github.com/MarcoPoloResearchLab/cardloom/internal/identity"
)

// resolveSession returns the signed-in session for the request, if any.
func (h *httpHandler) resolveSession(c *gin.Context) (identity.Session, bool) {
	token, err := h.sessions.TokenFromRequest(c.Request)
	if err != nil {
		return identity.Session{}, false
	}
	session, err := h.identity.GetSession(c.Request.Context(), token)
	if err != nil {
		if identity.CodeOf(err) == identity.CodeSessionNotFound || errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("session rejected", zap.Error(err))
		} else {
			h.logger.Warn("session lookup failed", zap.Error(err))
		}
		return identity.Session{}, false
	}
	return session, true
}

// attachSession records the caller when a valid session is present and continues either way.
func (h *httpHandler) attachSession(c *gin.Context) {
	if session, ok := h.resolveSession(c); ok {
		c.Set(userIDContextKey, session.User.ID)
		c.Set(accessTokenContextKey, session.AccessToken)
	}
	c.Next()
}

func (h *httpHandler) requireSession(c *gin.Context) {
	session, ok := h.resolveSession(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, "Unauthorized", "You must be signed in")
		return
	}
	c.Set(userIDContextKey, session.User.ID)
	c.Set(accessTokenContextKey, session.AccessToken)
	c.Next()
}

func (h *httpHandler) setSessionCookie(c *gin.Context, session identity.Session) {
	maxAge := int(session.ExpiresAt.Sub(timeNow()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), session.AccessToken, maxAge, "/", "", h.secureCookies, true)
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookies, true)
}
