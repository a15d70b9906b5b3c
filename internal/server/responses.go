package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cardloom/internal/flashcards"
	"github.com/MarcoPoloResearchLab/cardloom/internal/generations"
	"github.com/MarcoPoloResearchLab/cardloom/internal/openrouter"
	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

const retryLaterMessage = "The flashcard generator could not be reached. Please try again in a moment."

var timeNow = time.Now

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondError(c *gin.Context, status int, label, message string) {
	c.JSON(status, errorResponse{Error: label, Message: message})
}

func abortWithError(c *gin.Context, status int, label, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: label, Message: message})
}

func respondValidation(c *gin.Context, err *validation.Error) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:   "Validation Error",
		Message: err.FirstMessage(),
		Details: err.Issues,
	})
}

func respondInvalidJSON(c *gin.Context) {
	respondError(c, http.StatusBadRequest, "Bad Request", "Invalid JSON in request body")
}

var generationStatuses = map[openrouter.Code]int{
	openrouter.CodeInputValidation:    http.StatusBadRequest,
	openrouter.CodeBadRequest:         http.StatusBadRequest,
	openrouter.CodeUnauthorized:       http.StatusUnauthorized,
	openrouter.CodeForbidden:          http.StatusForbidden,
	openrouter.CodeNotFound:           http.StatusNotFound,
	openrouter.CodeRateLimit:          http.StatusTooManyRequests,
	openrouter.CodeServerError:        http.StatusInternalServerError,
	openrouter.CodeBadGateway:         http.StatusBadGateway,
	openrouter.CodeServiceUnavailable: http.StatusServiceUnavailable,
	openrouter.CodeTimeout:            http.StatusGatewayTimeout,
	openrouter.CodeGatewayTimeout:     http.StatusGatewayTimeout,
	openrouter.CodeNetworkError:       http.StatusServiceUnavailable,
}

// generationStatus maps a classified generation failure onto the HTTP status relayed to the caller.
func generationStatus(code openrouter.Code) int {
	if status, ok := generationStatuses[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *httpHandler) respondGenerationError(c *gin.Context, err error) {
	classified, ok := openrouter.IsError(err)
	if !ok {
		h.logger.Error("flashcard generation failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Generation Failed",
			"An unexpected error occurred while generating flashcards")
		return
	}

	status := generationStatus(classified.Code)
	message := classified.Message
	if classified.Code == openrouter.CodeTimeout || classified.Code == openrouter.CodeNetworkError {
		message = retryLaterMessage
	}
	h.logger.Warn("flashcard generation failed",
		zap.String("code", string(classified.Code)),
		zap.Int("status", status),
		zap.Error(err))
	c.JSON(status, errorResponse{
		Error:   "Generation Failed",
		Message: message,
		Code:    string(classified.Code),
		Details: classified.Details,
	})
}

func (h *httpHandler) respondFlashcardError(c *gin.Context, err error, fallbackMessage string) {
	if validationErr, ok := validation.AsError(err); ok {
		respondValidation(c, validationErr)
		return
	}
	switch {
	case errors.Is(err, flashcards.ErrNotFound):
		respondError(c, http.StatusNotFound, "Not Found", "Flashcard not found")
	case errors.Is(err, flashcards.ErrGenerationNotFound):
		respondError(c, http.StatusNotFound, "Not Found", "Generation not found")
	case errors.Is(err, flashcards.ErrGenerationAlreadyCurated):
		respondError(c, http.StatusConflict, "Conflict", "Proposals from this generation were already saved")
	case errors.Is(err, flashcards.ErrTooManyAccepted):
		respondError(c, http.StatusBadRequest, "Validation Error", "More flashcards were accepted than the generation proposed")
	default:
		h.logServiceError(err, "flashcard request failed")
		respondError(c, http.StatusInternalServerError, "Internal Server Error", fallbackMessage)
	}
}

func (h *httpHandler) logServiceError(err error, message string) {
	var flashcardErr *flashcards.ServiceError
	var generationErr *generations.ServiceError
	switch {
	case errors.As(err, &flashcardErr):
		h.logger.Error(message, zap.String("code", flashcardErr.Code()), zap.Error(err))
	case errors.As(err, &generationErr):
		h.logger.Error(message, zap.String("code", generationErr.Code()), zap.Error(err))
	default:
		h.logger.Error(message, zap.Error(err))
	}
}
