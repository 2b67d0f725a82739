package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
)

func doRequest(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/test", func(c *gin.Context) {
		Error(c, err)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestError_KindMapping(t *testing.T) {
	cases := []struct {
		kind   apperr.Kind
		status int
	}{
		{apperr.KindInsufficientCredits, http.StatusUnprocessableEntity},
		{apperr.KindInsufficientXP, http.StatusUnprocessableEntity},
		{apperr.KindRuleUnavailable, http.StatusUnprocessableEntity},
		{apperr.KindBookingFull, http.StatusConflict},
		{apperr.KindDuplicateBooking, http.StatusConflict},
		{apperr.KindSubscriptionBlocked, http.StatusUnprocessableEntity},
		{apperr.KindGenderMismatch, http.StatusUnprocessableEntity},
		{apperr.KindCancellationWindowPassed, http.StatusUnprocessableEntity},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindForbidden, http.StatusForbidden},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindExternalTimeout, http.StatusGatewayTimeout},
		{apperr.KindExternalRejected, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			w := doRequest(t, apperr.New(tc.kind, "some detail"))

			assert.Equal(t, tc.status, w.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, string(tc.kind), body.Kind)
			assert.Equal(t, "some detail", body.Error)
		})
	}
}

func TestError_ReasonPassedThrough(t *testing.T) {
	w := doRequest(t, apperr.WithReason(apperr.KindRuleUnavailable, apperr.ReasonCooldown, "rule is cooling down"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperr.ReasonCooldown, body.Reason)
}

func TestError_InternalIsOpaque(t *testing.T) {
	t.Run("Untyped error", func(t *testing.T) {
		w := doRequest(t, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
		assert.Contains(t, w.Body.String(), "Internal server error")
	})

	t.Run("Typed internal error", func(t *testing.T) {
		w := doRequest(t, apperr.Internal("wallet balance changed mid-debit", errors.New("wallet 3")))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "wallet")
	})
}
