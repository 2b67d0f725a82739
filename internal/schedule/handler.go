package schedule

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/Admsmartfit/academia-sub000/internal/api"
	"github.com/Admsmartfit/academia-sub000/internal/db"
)

type Handler struct {
	db          *sqlx.DB
	repo        *Repository
	distributor *Distributor
}

func NewHandler(database *sqlx.DB, repo *Repository, distributor *Distributor) *Handler {
	return &Handler{db: database, repo: repo, distributor: distributor}
}

func (h *Handler) ListActive(c *gin.Context) {
	schedules, err := h.repo.ListActive(c.Request.Context())
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, schedules)
}

// GenderForDate shows the pinned gender of a segregated slot on a date.
func (h *Handler) GenderForDate(c *gin.Context) {
	scheduleID, err := strconv.Atoi(c.Param("scheduleID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid schedule ID"})
		return
	}
	date, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	day, err := h.repo.GenderForDate(c.Request.Context(), scheduleID, date)
	if err != nil {
		api.Error(c, err)
		return
	}
	if day == nil {
		c.JSON(http.StatusOK, gin.H{"assigned": false})
		return
	}

	c.JSON(http.StatusOK, day)
}

type forceGenderRequest struct {
	Date   string `json:"date" binding:"required"`
	Gender string `json:"gender" binding:"required,oneof=male female"`
}

// ForceGender is the admin override; it wins over history and bookers.
func (h *Handler) ForceGender(c *gin.Context) {
	scheduleID, err := strconv.Atoi(c.Param("scheduleID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid schedule ID"})
		return
	}

	var req forceGenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	err = db.InTx(c.Request.Context(), h.db, func(tx *sqlx.Tx) error {
		return AssignGenderTx(c.Request.Context(), tx, scheduleID, date, req.Gender, true)
	})
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Gender assigned"})
}

// Distribute runs the pre-assignment pass for a date.
func (h *Handler) Distribute(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	n, err := h.distributor.DistributeForDate(c.Request.Context(), date)
	if err != nil {
		api.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"assigned": n})
}
