package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	to := Recipient{UserID: 1, Email: "ana@example.com", Name: "Ana"}

	t.Run("Substitutes name and variables", func(t *testing.T) {
		subject, body, err := Render(TplBookingConfirmed, to, map[string]string{
			"class": "CrossFit",
			"date":  "15/09/2026 07:00:00",
		})

		require.NoError(t, err)
		assert.Equal(t, "Booking confirmed", subject)
		assert.Contains(t, body, "Hi Ana,")
		assert.Contains(t, body, "Class: CrossFit")
		assert.Contains(t, body, "Date: 15/09/2026 07:00:00")
		assert.NotContains(t, body, "{")
	})

	t.Run("Retention templates carry the inactivity gap", func(t *testing.T) {
		_, body, err := Render(TplWeMissYou, to, map[string]string{"days": "9"})
		require.NoError(t, err)
		assert.Contains(t, body, "9 days")

		_, body, err = Render(TplWinBack, to, map[string]string{"days": "25", "credits": "4"})
		require.NoError(t, err)
		assert.Contains(t, body, "25 days")
		assert.Contains(t, body, "4 credits")
	})

	t.Run("Unknown template errors", func(t *testing.T) {
		_, _, err := Render("no_such_template", to, nil)
		assert.Error(t, err)
	})
}

func TestSendTemplated(t *testing.T) {
	t.Run("Queues the job on redis", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		svc := NewWithClient(client, "noreply@academia.com", "Academia")

		mock.Regexp().ExpectLPush(queueKey, `.*`).SetVal(1)

		err := svc.SendTemplated(context.Background(),
			Recipient{UserID: 3, Email: "joao@example.com", Name: "Joao"},
			TplCreditsExpiring,
			map[string]string{"credits": "5", "expires_at": "01/10/2026"},
		)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown template is rejected before queueing", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		svc := NewWithClient(client, "noreply@academia.com", "Academia")

		err := svc.SendTemplated(context.Background(),
			Recipient{UserID: 3, Email: "joao@example.com"},
			"bogus", nil)

		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJobRoundTrip(t *testing.T) {
	job := Job{
		CorrelationID: "abc-123",
		To:            Recipient{UserID: 9, Email: "x@example.com", Name: "X"},
		TemplateKey:   TplClassReminder2H,
		Vars:          map[string]string{"class": "Pilates", "time": "18:30"},
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.To, decoded.To)
	assert.Equal(t, job.Vars, decoded.Vars)
}
