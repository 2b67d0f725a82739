package retention

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Admsmartfit/academia-sub000/internal/notification"
)

var testNow = time.Date(2026, 9, 16, 11, 0, 0, 0, time.UTC)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendTemplated(ctx context.Context, to notification.Recipient, templateKey string, vars map[string]string) error {
	args := m.Called(ctx, to, templateKey, vars)
	return args.Error(0)
}

func newTestService(t *testing.T, notifier notification.Notifier) (*service, sqlmock.Sqlmock, func()) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	svc := NewService(NewRepository(sqlxDB), notifier).(*service)
	svc.now = func() time.Time { return testNow }

	return svc, dbMock, func() { sqlxDB.Close() }
}

var activityCols = []string{"user_id", "name", "email", "credits_balance", "last_completed", "visits_30d"}

func TestRunAutomations(t *testing.T) {
	t.Run("Tiers pick the strongest applicable message", func(t *testing.T) {
		notifier := new(mockNotifier)
		notifier.On("SendTemplated", mock.Anything,
			notification.Recipient{UserID: 1, Email: "ana@example.com", Name: "Ana"},
			notification.TplWeMissYou,
			map[string]string{"days": "9"}).Return(nil).Once()
		notifier.On("SendTemplated", mock.Anything,
			notification.Recipient{UserID: 2, Email: "bia@example.com", Name: "Bia"},
			notification.TplWinBack,
			map[string]string{"days": "25", "credits": "4"}).Return(nil).Once()

		svc, dbMock, close := newTestService(t, notifier)
		defer close()

		dbMock.ExpectQuery(regexp.QuoteMeta("GROUP BY u.id")).
			WillReturnRows(sqlmock.NewRows(activityCols).
				// 9 days out: nudge tier. 25 days out: win-back tier.
				// 3 days out: nothing. Never attended: nothing.
				AddRow(1, "Ana", "ana@example.com", 8, testNow.AddDate(0, 0, -9), 2).
				AddRow(2, "Bia", "bia@example.com", 4, testNow.AddDate(0, 0, -25), 0).
				AddRow(3, "Caio", "caio@example.com", 5, testNow.AddDate(0, 0, -3), 6).
				AddRow(4, "Duda", "duda@example.com", 0, nil, 0))

		cooloff := testNow.AddDate(0, 0, -OutreachCooldownD)
		dbMock.ExpectQuery(regexp.QuoteMeta("FROM retention_messages")).
			WithArgs(1, "we_miss_you", cooloff).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO retention_messages")).
			WithArgs(1, "we_miss_you").
			WillReturnResult(sqlmock.NewResult(1, 1))

		dbMock.ExpectQuery(regexp.QuoteMeta("FROM retention_messages")).
			WithArgs(2, "win_back", cooloff).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO retention_messages")).
			WithArgs(2, "win_back").
			WillReturnResult(sqlmock.NewResult(2, 1))

		sent, err := svc.RunAutomations(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2, sent)
		notifier.AssertExpectations(t)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("Cooldown suppresses a repeat send", func(t *testing.T) {
		notifier := new(mockNotifier)
		svc, dbMock, close := newTestService(t, notifier)
		defer close()

		dbMock.ExpectQuery(regexp.QuoteMeta("GROUP BY u.id")).
			WillReturnRows(sqlmock.NewRows(activityCols).
				AddRow(1, "Ana", "ana@example.com", 8, testNow.AddDate(0, 0, -9), 2))

		dbMock.ExpectQuery(regexp.QuoteMeta("FROM retention_messages")).
			WithArgs(1, "we_miss_you", testNow.AddDate(0, 0, -OutreachCooldownD)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		sent, err := svc.RunAutomations(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 0, sent)
		notifier.AssertNotCalled(t, "SendTemplated")
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestCalculateScores(t *testing.T) {
	svc, dbMock, close := newTestService(t, nil)
	defer close()

	dbMock.ExpectQuery(regexp.QuoteMeta("GROUP BY u.id")).
		WillReturnRows(sqlmock.NewRows(activityCols).
			AddRow(1, "Ana", "ana@example.com", 8, testNow.AddDate(0, 0, -7), 4).
			AddRow(4, "Duda", "duda@example.com", 0, nil, 0))

	// clamp(100-28)+8 = 80, low risk.
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO engagement_scores")).
		WithArgs(1, 80, 7, 4, RiskLow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Never attended scores zero, high risk.
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO engagement_scores")).
		WithArgs(4, 0, -1, 0, RiskHigh).
		WillReturnResult(sqlmock.NewResult(2, 1))

	updated, err := svc.CalculateScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, updated)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}
