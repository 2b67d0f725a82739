package commission

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

// Statement returns the caller's commission statement for a period.
func (h *Handler) Statement(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	month, year, ok := parsePeriod(c)
	if !ok {
		return
	}

	statement, err := h.svc.GetCollaboratorStatement(c.Request.Context(), userID, month, year)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, statement)
}

// StatementFor is the admin view of any professional's statement.
func (h *Handler) StatementFor(c *gin.Context) {
	professionalID, err := strconv.Atoi(c.Param("professionalID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid professional ID"})
		return
	}

	month, year, ok := parsePeriod(c)
	if !ok {
		return
	}

	statement, err := h.svc.GetCollaboratorStatement(c.Request.Context(), professionalID, month, year)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, statement)
}

func (h *Handler) RecomputeSuggestions(c *gin.Context) {
	stats, err := h.svc.RecomputeSplitSuggestions(c.Request.Context())
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ApplySuggestion(c *gin.Context) {
	adminID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	configID, err := strconv.Atoi(c.Param("configID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config ID"})
		return
	}

	if err := h.svc.ApplySplitSuggestion(c.Request.Context(), configID, adminID); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Suggestion applied"})
}

func (h *Handler) RejectSuggestion(c *gin.Context) {
	adminID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	configID, err := strconv.Atoi(c.Param("configID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config ID"})
		return
	}

	if err := h.svc.RejectSplitSuggestion(c.Request.Context(), configID, adminID); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Suggestion rejected"})
}

func (h *Handler) GeneratePayouts(c *gin.Context) {
	month, year, ok := parsePeriod(c)
	if !ok {
		return
	}

	batches, err := h.svc.GenerateMonthlyPayouts(c.Request.Context(), month, year)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, batches)
}

func (h *Handler) ApprovePayout(c *gin.Context) {
	batchID, err := strconv.Atoi(c.Param("batchID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid batch ID"})
		return
	}

	if err := h.svc.ApprovePayout(c.Request.Context(), batchID); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Payout approved"})
}

func (h *Handler) MarkPayoutPaid(c *gin.Context) {
	batchID, err := strconv.Atoi(c.Param("batchID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid batch ID"})
		return
	}

	var req struct {
		PaymentReference *string `json:"payment_reference"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.svc.MarkPayoutPaid(c.Request.Context(), batchID, req.PaymentReference); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Payout marked paid"})
}

func parsePeriod(c *gin.Context) (month, year int, ok bool) {
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be 1-12"})
		return 0, 0, false
	}
	year, err = strconv.Atoi(c.Query("year"))
	if err != nil || year < 2000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "year is invalid"})
		return 0, 0, false
	}
	return month, year, true
}
