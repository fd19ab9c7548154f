package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vestpay/backend/internal/models"
)

func pendingWithdrawalRow(amount int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "amount", "bank_name", "account_number", "account_name", "bank_code", "status"}).
		AddRow("wr-1", "user-1", amount, "First Bank", "0123456789", "Ada Obi", "011", models.RequestStatusPending)
}

func TestWithdrawalService_Approve(t *testing.T) {
	t.Run("debits wallet, approves request and records transaction in one commit", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, amount, bank_name, account_number, account_name, bank_code, status").
			WithArgs("wr-1").
			WillReturnRows(pendingWithdrawalRow(150000))
		dbMock.ExpectQuery("SELECT wallet_balance FROM users").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(500000))
		dbMock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance -").
			WithArgs(int64(150000), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE withdrawal_requests SET status").
			WithArgs(models.RequestStatusApproved, "wr-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", models.TxTypeWithdrawal, int64(150000),
				models.TxStatusCompleted, "Withdrawal approved, request wr-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		settlement := new(MockPayoutSender)
		settlement.On("SendPayout", mock.Anything, mock.MatchedBy(func(req *models.WithdrawalRequest) bool {
			return req.ID == "wr-1" && req.Amount == int64(150000) && req.Status == models.RequestStatusApproved
		})).Return(nil)

		service := NewWithdrawalService(db, settlement)

		status, err := service.Approve(context.Background(), "wr-1")
		assert.NoError(t, err)
		assert.Equal(t, models.RequestStatusApproved, status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		settlement.AssertExpectations(t)
	})

	t.Run("insufficient funds marks request failed and never debits", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, amount, bank_name, account_number, account_name, bank_code, status").
			WithArgs("wr-1").
			WillReturnRows(pendingWithdrawalRow(150000))
		dbMock.ExpectQuery("SELECT wallet_balance FROM users").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(100000))
		dbMock.ExpectExec("UPDATE withdrawal_requests SET status").
			WithArgs(models.RequestStatusFailed,
				"Insufficient funds: balance 100000, requested 150000", "wr-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		settlement := new(MockPayoutSender)
		service := NewWithdrawalService(db, settlement)

		status, err := service.Approve(context.Background(), "wr-1")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, models.RequestStatusFailed, status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		settlement.AssertNotCalled(t, "SendPayout", mock.Anything, mock.Anything)
	})

	t.Run("unknown request returns not found", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, amount, bank_name, account_number, account_name, bank_code, status").
			WithArgs("wr-missing").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectRollback()

		service := NewWithdrawalService(db, nil)

		_, err = service.Approve(context.Background(), "wr-missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("already decided request conflicts", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, amount, bank_name, account_number, account_name, bank_code, status").
			WithArgs("wr-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "bank_name", "account_number", "account_name", "bank_code", "status"}).
				AddRow("wr-1", "user-1", 150000, "First Bank", "0123456789", "Ada Obi", "011", models.RequestStatusApproved))
		dbMock.ExpectRollback()

		service := NewWithdrawalService(db, nil)

		_, err = service.Approve(context.Background(), "wr-1")
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("ledger write failure rolls everything back", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, amount, bank_name, account_number, account_name, bank_code, status").
			WithArgs("wr-1").
			WillReturnRows(pendingWithdrawalRow(150000))
		dbMock.ExpectQuery("SELECT wallet_balance FROM users").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(500000))
		dbMock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance -").
			WithArgs(int64(150000), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE withdrawal_requests SET status").
			WithArgs(models.RequestStatusApproved, "wr-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("INSERT INTO transactions").
			WillReturnError(sql.ErrConnDone)
		dbMock.ExpectRollback()

		settlement := new(MockPayoutSender)
		service := NewWithdrawalService(db, settlement)

		_, err = service.Approve(context.Background(), "wr-1")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		settlement.AssertNotCalled(t, "SendPayout", mock.Anything, mock.Anything)
	})

	t.Run("payout dispatch failure does not undo the approval", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, amount, bank_name, account_number, account_name, bank_code, status").
			WithArgs("wr-1").
			WillReturnRows(pendingWithdrawalRow(150000))
		dbMock.ExpectQuery("SELECT wallet_balance FROM users").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(500000))
		dbMock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance -").
			WithArgs(int64(150000), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE withdrawal_requests SET status").
			WithArgs(models.RequestStatusApproved, "wr-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", models.TxTypeWithdrawal, int64(150000),
				models.TxStatusCompleted, "Withdrawal approved, request wr-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		settlement := new(MockPayoutSender)
		settlement.On("SendPayout", mock.Anything, mock.Anything).Return(sql.ErrConnDone)

		service := NewWithdrawalService(db, settlement)

		status, err := service.Approve(context.Background(), "wr-1")
		assert.NoError(t, err)
		assert.Equal(t, models.RequestStatusApproved, status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("empty request id is a validation error", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewWithdrawalService(db, nil)

		_, err = service.Approve(context.Background(), "")
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_Reject(t *testing.T) {
	t.Run("flips a pending request to rejected", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectExec("UPDATE withdrawal_requests SET status").
			WithArgs(models.RequestStatusRejected, "wr-1", models.RequestStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		service := NewWithdrawalService(db, nil)

		assert.NoError(t, service.Reject(context.Background(), "wr-1"))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("already decided request conflicts instead of double-rejecting", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectExec("UPDATE withdrawal_requests SET status").
			WithArgs(models.RequestStatusRejected, "wr-1", models.RequestStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectQuery("SELECT status FROM withdrawal_requests").
			WithArgs("wr-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.RequestStatusApproved))

		service := NewWithdrawalService(db, nil)

		err = service.Reject(context.Background(), "wr-1")
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unknown request returns not found", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectExec("UPDATE withdrawal_requests SET status").
			WithArgs(models.RequestStatusRejected, "wr-missing", models.RequestStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectQuery("SELECT status FROM withdrawal_requests").
			WithArgs("wr-missing").
			WillReturnError(sql.ErrNoRows)

		service := NewWithdrawalService(db, nil)

		err = service.Reject(context.Background(), "wr-missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
