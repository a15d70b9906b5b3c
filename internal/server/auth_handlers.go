package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cardloom/internal/identity"
	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

type registerRequestPayload struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"password_policy"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
}

type loginRequestPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6"`
}

type forgotPasswordRequestPayload struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequestPayload struct {
	NewPassword        string `json:"newPassword" validate:"password_policy"`
	ConfirmNewPassword string `json:"confirmNewPassword" validate:"eqfield=NewPassword"`
	Token              string `json:"token"`
}

type accountPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type registerResponsePayload struct {
	Message              string         `json:"message"`
	User                 accountPayload `json:"user"`
	RequiresConfirmation bool           `json:"requiresConfirmation"`
}

type loginResponsePayload struct {
	Message string         `json:"message"`
	User    accountPayload `json:"user"`
}

type sessionResponsePayload struct {
	User identity.User `json:"user"`
}

type messageResponsePayload struct {
	Message string `json:"message"`
}

// bindAndValidate decodes the JSON body into payload and writes the 400 response itself on failure.
func (h *httpHandler) bindAndValidate(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		respondInvalidJSON(c)
		return false
	}
	if err := validation.NewError(h.validator.Struct(payload)); err != nil {
		validationErr, _ := validation.AsError(err)
		respondValidation(c, validationErr)
		return false
	}
	return true
}

func (h *httpHandler) respondIdentityError(c *gin.Context, err error, status int, label string) {
	if identity.CodeOf(err) == identity.CodeUnexpected || identity.CodeOf(err) == "" {
		h.logger.Error("identity request failed", zap.String("label", label), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal Server Error", identity.MessageFor(err))
		return
	}
	h.logger.Info("identity request rejected", zap.String("label", label), zap.String("code", identity.CodeOf(err)))
	c.JSON(status, errorResponse{Error: label, Message: identity.MessageFor(err), Code: identity.CodeOf(err)})
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if !h.bindAndValidate(c, &request) {
		return
	}

	user, session, err := h.identity.SignUp(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondIdentityError(c, err, http.StatusBadRequest, "Registration Error")
		return
	}

	message := "Account created successfully"
	if session == nil {
		message = "Account created. Check your inbox to confirm the address."
	} else {
		h.setSessionCookie(c, *session)
	}
	c.JSON(http.StatusCreated, registerResponsePayload{
		Message:              message,
		User:                 accountPayload{ID: user.ID, Email: user.Email},
		RequiresConfirmation: session == nil,
	})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if !h.bindAndValidate(c, &request) {
		return
	}

	user, session, err := h.identity.SignInWithPassword(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondIdentityError(c, err, http.StatusUnauthorized, "Authentication Error")
		return
	}
	h.setSessionCookie(c, session)
	c.JSON(http.StatusOK, loginResponsePayload{
		Message: "Signed in successfully",
		User:    accountPayload{ID: user.ID, Email: user.Email},
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.identity.SignOut(c.Request.Context(), c.GetString(accessTokenContextKey)); err != nil {
		h.respondIdentityError(c, err, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, messageResponsePayload{Message: "Signed out successfully"})
}

func (h *httpHandler) handleSession(c *gin.Context) {
	user, err := h.identity.GetUser(c.Request.Context(), c.GetString(accessTokenContextKey))
	if err != nil {
		h.respondIdentityError(c, err, http.StatusUnauthorized, "Unauthorized")
		return
	}
	c.JSON(http.StatusOK, sessionResponsePayload{User: user})
}

func (h *httpHandler) handleForgotPassword(c *gin.Context) {
	var request forgotPasswordRequestPayload
	if !h.bindAndValidate(c, &request) {
		return
	}

	if err := h.identity.ResetPasswordForEmail(c.Request.Context(), request.Email, h.resetLink); err != nil {
		h.respondIdentityError(c, err, http.StatusBadRequest, "Password Reset Error")
		return
	}
	c.JSON(http.StatusOK, messageResponsePayload{
		Message: "If the address is registered, a password reset link is on its way.",
	})
}

func (h *httpHandler) handleResetPassword(c *gin.Context) {
	var request resetPasswordRequestPayload
	if !h.bindAndValidate(c, &request) {
		return
	}

	token := strings.TrimSpace(request.Token)
	if token == "" {
		token, _ = h.sessions.TokenFromRequest(c.Request)
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "Password Reset Error",
			Message: identity.MessageFor(&identity.Error{Code: identity.CodeInvalidGrant}),
			Code:    identity.CodeInvalidGrant,
		})
		return
	}

	if _, err := h.identity.UpdateUser(c.Request.Context(), token, identity.UserAttributes{Password: request.NewPassword}); err != nil {
		h.respondIdentityError(c, err, http.StatusBadRequest, "Password Reset Error")
		return
	}
	c.JSON(http.StatusOK, messageResponsePayload{Message: "Password changed. You can sign in now."})
}

// resolveResetLink builds the recovery link target from configuration only. A relative redirect
// is joined to publicOrigin, or to the first explicit entry of allowedOrigins when none is set.
func resolveResetLink(redirect, publicOrigin string, allowedOrigins []string) (string, error) {
	redirect = strings.TrimSpace(redirect)
	if redirect == "" {
		redirect = defaultResetRedirect
	}
	if strings.HasPrefix(redirect, "https://") || strings.HasPrefix(redirect, "http://") {
		if _, err := parseOrigin(redirect); err != nil {
			return "", err
		}
		return redirect, nil
	}

	origin := strings.TrimSpace(publicOrigin)
	if origin == "" {
		for _, allowed := range allowedOrigins {
			allowed = strings.TrimSpace(allowed)
			if allowed != "" && allowed != "*" {
				origin = allowed
				break
			}
		}
	}
	if origin == "" {
		return "", errMissingPublicOrigin
	}
	base, err := parseOrigin(origin)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(redirect, "/") {
		redirect = "/" + redirect
	}
	return base + redirect, nil
}

func parseOrigin(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q", errInvalidPublicOrigin, raw)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
