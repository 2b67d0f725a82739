package credits

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Admsmartfit/academia-sub000/internal/api"
	"github.com/Admsmartfit/academia-sub000/internal/auth"
)

type Handler struct {
	svc  Service
	repo *Repository
}

func NewHandler(svc Service, repo *Repository) *Handler {
	return &Handler{svc: svc, repo: repo}
}

// ListMine returns the caller's active credit lots, earliest expiry first.
func (h *Handler) ListMine(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	wallets, err := h.repo.ListActive(c.Request.Context(), userID)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, wallets)
}

// Preview shows which lots a debit would draw from, without debiting.
func (h *Handler) Preview(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	amount, err := strconv.Atoi(c.Query("amount"))
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive integer"})
		return
	}

	plan, err := h.svc.Preview(c.Request.Context(), userID, amount)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

type debitRequest struct {
	UserID int    `json:"user_id" binding:"required"`
	Amount int    `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason" binding:"required"`
}

// Debit is the operator-side debit, e.g. a front-desk sale.
func (h *Handler) Debit(c *gin.Context) {
	var req debitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.svc.Debit(c.Request.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

// Refund mints a 30-day refund lot.
func (h *Handler) Refund(c *gin.Context) {
	var req debitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wallet, err := h.svc.Refund(c.Request.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, wallet)
}

// Expire runs the expiry sweep on demand.
func (h *Handler) Expire(c *gin.Context) {
	n, err := h.svc.ExpireWallets(c.Request.Context())
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"expired": n})
}
