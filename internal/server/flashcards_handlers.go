package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/cardloom/internal/flashcards"
)

type batchResponsePayload struct {
	CreatedCount int                    `json:"created_count"`
	Flashcards   []flashcards.Flashcard `json:"flashcards"`
}

type deleteResponsePayload struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

type studyResponsePayload struct {
	Data  []flashcards.Flashcard `json:"data"`
	Total int                    `json:"total"`
}

func (h *httpHandler) handleListFlashcards(c *gin.Context) {
	result, err := h.flashcards.List(c.Request.Context(), flashcards.ListRequest{
		UserID: c.GetString(userIDContextKey),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
		Sort:   c.Query("sort"),
		Order:  c.Query("order"),
		Source: c.Query("source"),
		Search: c.Query("search"),
	})
	if err != nil {
		h.respondFlashcardError(c, err, "Failed to retrieve flashcards")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleCreateFlashcard(c *gin.Context) {
	var input flashcards.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondInvalidJSON(c)
		return
	}
	card, err := h.flashcards.Create(c.Request.Context(), c.GetString(userIDContextKey), input)
	if err != nil {
		h.respondFlashcardError(c, err, "Failed to create flashcard")
		return
	}
	c.JSON(http.StatusCreated, card)
}

func (h *httpHandler) handleUpdateFlashcard(c *gin.Context) {
	id, ok := flashcardID(c)
	if !ok {
		return
	}
	var input flashcards.UpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondInvalidJSON(c)
		return
	}
	card, err := h.flashcards.Update(c.Request.Context(), c.GetString(userIDContextKey), id, input)
	if err != nil {
		h.respondFlashcardError(c, err, "Failed to update flashcard")
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *httpHandler) handleDeleteFlashcard(c *gin.Context) {
	id, ok := flashcardID(c)
	if !ok {
		return
	}
	if err := h.flashcards.Delete(c.Request.Context(), c.GetString(userIDContextKey), id); err != nil {
		h.respondFlashcardError(c, err, "Failed to delete flashcard")
		return
	}
	c.JSON(http.StatusOK, deleteResponsePayload{Message: "Flashcard deleted", ID: id})
}

func (h *httpHandler) handleBatchFlashcards(c *gin.Context) {
	var input flashcards.BatchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondInvalidJSON(c)
		return
	}
	created, err := h.flashcards.AcceptBatch(c.Request.Context(), c.GetString(userIDContextKey), input)
	if err != nil {
		h.respondFlashcardError(c, err, "Failed to create flashcards")
		return
	}
	c.JSON(http.StatusCreated, batchResponsePayload{CreatedCount: len(created), Flashcards: created})
}

func (h *httpHandler) handleStudySession(c *gin.Context) {
	deck, err := h.flashcards.StudyDeck(c.Request.Context(), c.GetString(userIDContextKey), queryInt(c, "limit"))
	if err != nil {
		h.respondFlashcardError(c, err, "Failed to prepare the study session")
		return
	}
	c.JSON(http.StatusOK, studyResponsePayload{Data: deck, Total: len(deck)})
}

func flashcardID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "Bad Request", "Invalid flashcard id")
		return 0, false
	}
	return id, true
}
