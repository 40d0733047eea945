package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// getDeck возвращает колоду вместе с карточками в порядке position.
func (h *TaskHandler) getDeck(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "invalid deck id"})
		return
	}

	deck, err := h.decks.GetByID(c.Request.Context(), deckID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	cards, err := h.decks.GetCards(c.Request.Context(), deckID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, toDeckResponse(deck, cards))
}

// getBalance возвращает текущий баланс пользователя.
func (h *TaskHandler) getBalance(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "invalid user id"})
		return
	}

	balance, err := h.credits.GetBalance(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": userID, "balance": balance})
}
