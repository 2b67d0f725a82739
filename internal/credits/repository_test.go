package credits

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
)

var walletCols = []string{"id", "user_id", "credits_initial", "credits_remaining", "source", "expires_at", "is_expired", "created_at"}

func setupTxMock(t *testing.T) (*sqlx.Tx, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	mock.ExpectBegin()
	tx, err := sqlxDB.Beginx()
	require.NoError(t, err)

	return tx, mock, func() { sqlxDB.Close() }
}

func TestDebitTx_FIFOAcrossLots(t *testing.T) {
	tx, mock, close := setupTxMock(t)
	defer close()

	now := time.Now()
	soon := now.AddDate(0, 0, 10)
	later := now.AddDate(0, 0, 40)

	// Lots come back first-to-expire first; the debit must drain them in
	// that order.
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_wallets")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(walletCols).
			AddRow(1, 7, 5, 5, "purchase", soon, false, now).
			AddRow(2, 7, 10, 5, "conversion", later, false, now))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE credit_wallets")).
		WithArgs(5, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credit_debits")).
		WithArgs(sqlmock.AnyArg(), 7, 1, 5, "booking schedule 3").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE credit_wallets")).
		WithArgs(2, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credit_debits")).
		WithArgs(sqlmock.AnyArg(), 7, 2, 2, "booking schedule 3").
		WillReturnResult(sqlmock.NewResult(2, 1))

	receipt, err := DebitTx(context.Background(), tx, 7, 7, "booking schedule 3")
	require.NoError(t, err)

	assert.Equal(t, 7, receipt.Total)
	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, DebitLine{WalletID: 1, Amount: 5}, receipt.Lines[0])
	assert.Equal(t, DebitLine{WalletID: 2, Amount: 2}, receipt.Lines[1])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitTx_InsufficientIsAllOrNothing(t *testing.T) {
	tx, mock, close := setupTxMock(t)
	defer close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_wallets")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(walletCols).
			AddRow(1, 7, 5, 3, "purchase", now.AddDate(0, 0, 10), false, now))

	// No UPDATE or INSERT may run when the live total is short.
	_, err := DebitTx(context.Background(), tx, 7, 5, "booking")

	assert.True(t, apperr.IsKind(err, apperr.KindInsufficientCredits), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitTx_RejectsNonPositiveAmount(t *testing.T) {
	tx, mock, close := setupTxMock(t)
	defer close()

	_, err := DebitTx(context.Background(), tx, 7, 0, "booking")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMintTx(t *testing.T) {
	tx, mock, close := setupTxMock(t)
	defer close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO credit_wallets")).
		WithArgs(7, 4, SourceRefund, 30).
		WillReturnRows(sqlmock.NewRows(walletCols).
			AddRow(9, 7, 4, 4, "refund", now.AddDate(0, 0, 30), false, now))

	w, err := MintTx(context.Background(), tx, 7, 4, SourceRefund, 30)
	require.NoError(t, err)

	assert.Equal(t, 9, w.ID)
	assert.Equal(t, 4, w.CreditsRemaining)
	assert.Equal(t, SourceRefund, w.Source)

	assert.NoError(t, mock.ExpectationsWereMet())
}
