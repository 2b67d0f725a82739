package booking

import (
	"net/http"
	"strconv"
	"time"

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

type bookRequest struct {
	ScheduleID     int    `json:"schedule_id" binding:"required"`
	Date           string `json:"date" binding:"required"`
	SubscriptionID *int   `json:"subscription_id"`
}

func (h *Handler) Book(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	b, err := h.svc.BookClass(c.Request.Context(), BookRequest{
		UserID:         userID,
		ScheduleID:     req.ScheduleID,
		Date:           date,
		SubscriptionID: req.SubscriptionID,
	})
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, b)
}

func (h *Handler) Cancel(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	bookingID, err := strconv.Atoi(c.Param("bookingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.svc.CancelBooking(c.Request.Context(), userID, bookingID, req.Reason); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Booking cancelled"})
}

func (h *Handler) Checkin(c *gin.Context) {
	bookingID, err := strconv.Atoi(c.Param("bookingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	if err := h.svc.Checkin(c.Request.Context(), bookingID); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Check-in recorded"})
}

func (h *Handler) MarkNoShow(c *gin.Context) {
	bookingID, err := strconv.Atoi(c.Param("bookingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	if err := h.svc.MarkNoShow(c.Request.Context(), bookingID); err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "No-show recorded"})
}

func (h *Handler) ListMine(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	bookings, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, bookings)
}
