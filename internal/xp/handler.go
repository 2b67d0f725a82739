package xp

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Admsmartfit/academia-sub000/internal/api"
	"github.com/Admsmartfit/academia-sub000/internal/auth"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// ListRules returns active conversion rules annotated with the caller's
// eligibility.
func (h *Handler) ListRules(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	rules, err := h.svc.ListAvailableRules(c.Request.Context(), userID)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, rules)
}

func (h *Handler) Convert(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ruleID, err := strconv.Atoi(c.Param("ruleID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID"})
		return
	}

	conversion, err := h.svc.Convert(c.Request.Context(), userID, ruleID)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, conversion)
}

func (h *Handler) Summary(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	summary, err := h.svc.Summary(c.Request.Context(), userID)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type grantRequest struct {
	UserID   int    `json:"user_id" binding:"required"`
	Amount   int    `json:"amount" binding:"required,gt=0"`
	SourceID *int   `json:"source_id"`
	Note     string `json:"note"`
}

// Grant is the manual admin grant.
func (h *Handler) Grant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.Grant(c.Request.Context(), req.UserID, req.Amount, SourceManual, req.SourceID); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "XP granted"})
}
