package retention

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Admsmartfit/academia-sub000/internal/api"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) GetScore(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	score, err := h.svc.GetScore(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No score for user"})
		return
	}

	c.JSON(http.StatusOK, score)
}

func (h *Handler) CalculateScores(c *gin.Context) {
	n, err := h.svc.CalculateScores(c.Request.Context())
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) RunAutomations(c *gin.Context) {
	n, err := h.svc.RunAutomations(c.Request.Context())
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": n})
}
