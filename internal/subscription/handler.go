package subscription

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

// ListMine returns the caller's active subscriptions.
func (h *Handler) ListMine(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	subs, err := h.repo.ListActiveForUser(c.Request.Context(), userID)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, subs)
}

// CreateCharge opens a provider Pix charge for an unpaid installment.
func (h *Handler) CreateCharge(c *gin.Context) {
	paymentID, err := strconv.Atoi(c.Param("paymentID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	charge, err := h.svc.CreateCharge(c.Request.Context(), paymentID)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, charge)
}

// RegisterPayment records a settled installment; a suspended subscription
// auto-unblocks when the missing payment arrives.
func (h *Handler) RegisterPayment(c *gin.Context) {
	paymentID, err := strconv.Atoi(c.Param("paymentID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	if err := h.svc.RegisterPayment(c.Request.Context(), paymentID); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Payment registered"})
}

// Unsuspend is the manual admin unblock.
func (h *Handler) Unsuspend(c *gin.Context) {
	subscriptionID, err := strconv.Atoi(c.Param("subscriptionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription ID"})
		return
	}

	if err := h.svc.Unsuspend(c.Request.Context(), subscriptionID); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Subscription unsuspended"})
}

// RunDunning triggers the dunning sweep on demand.
func (h *Handler) RunDunning(c *gin.Context) {
	stats, err := h.svc.RunDunningSweep(c.Request.Context())
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
