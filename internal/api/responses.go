package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindInsufficientCredits:      http.StatusUnprocessableEntity,
	apperr.KindInsufficientXP:           http.StatusUnprocessableEntity,
	apperr.KindRuleUnavailable:          http.StatusUnprocessableEntity,
	apperr.KindBookingFull:              http.StatusConflict,
	apperr.KindDuplicateBooking:         http.StatusConflict,
	apperr.KindSubscriptionBlocked:      http.StatusUnprocessableEntity,
	apperr.KindSubscriptionCancelled:    http.StatusUnprocessableEntity,
	apperr.KindHealthScreeningRequired:  http.StatusUnprocessableEntity,
	apperr.KindHealthScreeningBlocked:   http.StatusUnprocessableEntity,
	apperr.KindGenderMismatch:           http.StatusUnprocessableEntity,
	apperr.KindCancellationWindowPassed: http.StatusUnprocessableEntity,
	apperr.KindNotFound:                 http.StatusNotFound,
	apperr.KindForbidden:                http.StatusForbidden,
	apperr.KindConflict:                 http.StatusConflict,
	apperr.KindExternalTimeout:          http.StatusGatewayTimeout,
	apperr.KindExternalRejected:         http.StatusBadGateway,
}

// Error writes the taxonomy error as JSON. Unclassified errors become an
// opaque 500; the detail goes to the log, not the client.
func Error(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.KindInternal {
		status, ok := kindStatus[appErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		c.JSON(status, ErrorResponse{
			Error:  appErr.Msg,
			Kind:   string(appErr.Kind),
			Reason: appErr.Reason,
		})
		return
	}

	logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Kind: string(apperr.KindInternal)})
}
