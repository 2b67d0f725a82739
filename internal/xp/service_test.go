package xp

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

	"github.com/Admsmartfit/academia-sub000/internal/credits"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/user"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendTemplated(ctx context.Context, to notification.Recipient, templateKey string, vars map[string]string) error {
	args := m.Called(ctx, to, templateKey, vars)
	return args.Error(0)
}

var ruleCols = []string{
	"id", "name", "xp_required", "credits_granted", "credit_validity_days",
	"is_automatic", "max_uses_per_user", "cooldown_days", "priority", "active", "created_at",
}

var userCols = []string{
	"id", "name", "email", "password_hash", "role", "gender", "tax_id",
	"xp_available", "credits_balance", "active", "created_at", "updated_at",
}

var walletCols = []string{"id", "user_id", "credits_initial", "credits_remaining", "source", "expires_at", "is_expired", "created_at"}

var conversionCols = []string{"id", "user_id", "rule_id", "wallet_id", "xp_spent", "credits_granted", "created_at"}

func newTestService(t *testing.T, notifier notification.Notifier) (Service, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	svc := NewService(sqlxDB, NewRepository(sqlxDB), user.NewRepository(sqlxDB), credits.NewRepository(sqlxDB), notifier)

	return svc, mock, func() { sqlxDB.Close() }
}

func userRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userCols).
		AddRow(7, "Ana", "ana@example.com", "hash", "student", nil, "12345678900", 210, 0, true, now, now)
}

func ruleRow(ruleID int, xpRequired, creditsGranted, priority int) *sqlmock.Rows {
	return sqlmock.NewRows(ruleCols).
		AddRow(ruleID, "rule", xpRequired, creditsGranted, 90, true, nil, nil, priority, true, time.Now())
}

// expectConvert scripts one successful Convert transaction plus its
// post-commit notification load.
func expectConvert(dbMock sqlmock.Sqlmock, ruleID, xpReq, granted, available, alreadyConverted, walletID int) {
	now := time.Now()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(7).
		WillReturnRows(userRow())
	dbMock.ExpectQuery(regexp.QuoteMeta("FROM conversion_rules WHERE id = $1")).
		WithArgs(ruleID).
		WillReturnRows(ruleRow(ruleID, xpReq, granted, 1))
	expectAvailable(dbMock, 7, available)
	expectAvailable(dbMock, 7, available)
	dbMock.ExpectQuery(regexp.QuoteMeta("converted_amount < xp_amount")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow(1, 7, 210, alreadyConverted, "booking", nil, now, now.AddDate(0, 0, 60)))
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE xp_ledger")).
		WithArgs(xpReq, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectQuery(regexp.QuoteMeta("INSERT INTO credit_wallets")).
		WithArgs(7, granted, credits.SourceConversion, 90).
		WillReturnRows(sqlmock.NewRows(walletCols).
			AddRow(walletID, 7, granted, granted, "conversion", now.AddDate(0, 0, 90), false, now))
	dbMock.ExpectQuery(regexp.QuoteMeta("INSERT INTO xp_conversions")).
		WithArgs(7, ruleID, walletID, xpReq, granted).
		WillReturnRows(sqlmock.NewRows(conversionCols).
			AddRow(walletID, 7, ruleID, walletID, xpReq, granted, now))
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE users SET")).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	dbMock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs(7).
		WillReturnRows(userRow())
}

// expectConvertShort scripts a Convert attempt that fails the XP check and
// rolls back.
func expectConvertShort(dbMock sqlmock.Sqlmock, ruleID, xpReq, available int) {
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(7).
		WillReturnRows(userRow())
	dbMock.ExpectQuery(regexp.QuoteMeta("FROM conversion_rules WHERE id = $1")).
		WithArgs(ruleID).
		WillReturnRows(ruleRow(ruleID, xpReq, 2, 2))
	expectAvailable(dbMock, 7, available)
	dbMock.ExpectRollback()
}

func TestCheckAutomaticConversions_ChainsUntilExhausted(t *testing.T) {
	notifier := new(mockNotifier)
	notifier.On("SendTemplated", mock.Anything, mock.Anything, notification.TplXPConverted, mock.Anything).
		Return(nil).Twice()

	svc, dbMock, close := newTestService(t, notifier)
	defer close()

	// R1 {100 XP -> 5 credits, priority 1}, R2 {50 -> 2, priority 2}.
	dbMock.ExpectQuery(regexp.QuoteMeta("is_automatic = true")).
		WillReturnRows(sqlmock.NewRows(ruleCols).
			AddRow(1, "R1", 100, 5, 90, true, nil, nil, 1, true, time.Now()).
			AddRow(2, "R2", 50, 2, 90, true, nil, nil, 2, true, time.Now()))

	// 210 available: R1 fires, then R1 again, then 10 left fits nothing.
	expectConvert(dbMock, 1, 100, 5, 210, 0, 31)
	expectConvert(dbMock, 1, 100, 5, 110, 100, 32)
	expectConvertShort(dbMock, 1, 100, 10)
	expectConvertShort(dbMock, 2, 50, 10)

	converted, err := svc.CheckAutomaticConversions(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 2, converted)
	notifier.AssertExpectations(t)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestConvert_InactiveRule(t *testing.T) {
	svc, dbMock, close := newTestService(t, new(mockNotifier))
	defer close()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(7).
		WillReturnRows(userRow())
	dbMock.ExpectQuery(regexp.QuoteMeta("FROM conversion_rules WHERE id = $1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows(ruleCols).
			AddRow(3, "retired", 100, 5, 90, false, nil, nil, 100, false, time.Now()))
	dbMock.ExpectRollback()

	_, err := svc.Convert(context.Background(), 7, 3)
	assert.Error(t, err)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}
