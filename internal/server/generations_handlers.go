package server

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/cardloom/internal/generations"
)

const (
	minSourceTextLength = 1000
	maxSourceTextLength = 10000
)

type generateRequestPayload struct {
	SourceText string `json:"source_text" validate:"has_content,min=1000,max=10000"`
	Model      string `json:"model" validate:"omitempty,max=190"`
}

type sourceTextDetails struct {
	CurrentLength int   `json:"current_length"`
	MinLength     int   `json:"min_length"`
	MaxLength     int   `json:"max_length"`
	Errors        []any `json:"errors"`
}

func (h *httpHandler) handleCreateGeneration(c *gin.Context) {
	var request generateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidJSON(c)
		return
	}
	request.SourceText = strings.TrimSpace(request.SourceText)
	request.Model = strings.TrimSpace(request.Model)

	if issues := h.validator.Struct(request); len(issues) > 0 {
		details := sourceTextDetails{
			CurrentLength: utf8.RuneCountInString(request.SourceText),
			MinLength:     minSourceTextLength,
			MaxLength:     maxSourceTextLength,
			Errors:        make([]any, 0, len(issues)),
		}
		for _, issue := range issues {
			details.Errors = append(details.Errors, issue)
		}
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "Validation Error",
			Message: issues[0].Message,
			Details: details,
		})
		return
	}

	result, err := h.generations.Generate(c.Request.Context(), generations.GenerateRequest{
		SourceText: request.SourceText,
		UserID:     c.GetString(userIDContextKey),
		Model:      request.Model,
	})
	if err != nil {
		h.respondGenerationError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *httpHandler) handleListGenerations(c *gin.Context) {
	result, err := h.generations.List(c.Request.Context(), generations.ListRequest{
		UserID: c.GetString(userIDContextKey),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
		Sort:   c.Query("sort"),
		Order:  c.Query("order"),
	})
	if err != nil {
		h.logServiceError(err, "generation history failed")
		respondError(c, http.StatusInternalServerError, "Internal Server Error", "Failed to retrieve generations")
		return
	}
	c.JSON(http.StatusOK, result)
}

// queryInt returns the integer query parameter, or 0 when it is absent or malformed.
func queryInt(c *gin.Context, name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(name)))
	if err != nil {
		return 0
	}
	return value
}
