package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vestpay/backend/internal/gateway"
	"github.com/vestpay/backend/internal/models"
)

func TestWalletService_InitiateDeposit(t *testing.T) {
	t.Run("creates exactly one pending transaction with the exact amount", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockPaymentGateway)
		gw.On("Initiate", mock.Anything, mock.MatchedBy(func(req gateway.InitiateRequest) bool {
			return req.Email == "funder@example.com" && req.Amount == int64(500000)
		})).Return(&gateway.InitiateResponse{
			AuthorizationURL: "https://checkout.example.com/abc",
			Reference:        "DEP-x",
		}, nil)

		dbMock.ExpectQuery("SELECT id FROM users WHERE email").
			WithArgs("funder@example.com").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "funder@example.com",
				models.TxTypeDeposit, int64(500000), models.TxStatusPending,
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		service := NewWalletService(db, nil, gw)

		body := bytes.NewBufferString(`{"email":"funder@example.com","amount":5000}`)
		req := httptest.NewRequest(http.MethodPost, "/deposits/initiate", body)
		rec := httptest.NewRecorder()

		service.InitiateDeposit(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "https://checkout.example.com/abc")
		assert.Contains(t, rec.Body.String(), "DEP-")
		assert.NoError(t, dbMock.ExpectationsWereMet())
		gw.AssertExpectations(t)
	})

	t.Run("gateway failure leaves no partial state", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockPaymentGateway)
		gw.On("Initiate", mock.Anything, mock.Anything).
			Return(nil, errors.New("connection refused"))

		service := NewWalletService(db, nil, gw)

		body := bytes.NewBufferString(`{"email":"funder@example.com","amount":5000}`)
		req := httptest.NewRequest(http.MethodPost, "/deposits/initiate", body)
		rec := httptest.NewRecorder()

		service.InitiateDeposit(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("rejects invalid input before any store access", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		body := bytes.NewBufferString(`{"email":"not-an-email","amount":-5}`)
		req := httptest.NewRequest(http.MethodPost, "/deposits/initiate", body)
		rec := httptest.NewRecorder()

		service.InitiateDeposit(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestWalletService_ReconcileWebhook(t *testing.T) {
	event := func(status string, amount int64) *gateway.WebhookEvent {
		return &gateway.WebhookEvent{
			Event:     "charge." + status,
			Reference: "DEP-abc",
			Status:    status,
			Amount:    amount,
		}
	}

	t.Run("success credits wallet and completes transaction atomically", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, email, amount, status FROM transactions").
			WithArgs("DEP-abc").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "amount", "status"}).
				AddRow("tx-1", "user-1", "funder@example.com", 500000, models.TxStatusPending))
		dbMock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance \\+").
			WithArgs(int64(500000), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE transactions SET status").
			WithArgs(models.TxStatusCompleted, "user-1", "Gateway deposit confirmed", "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		result, err := service.ReconcileWebhook(context.Background(), event("success", 500000))
		assert.NoError(t, err)
		assert.True(t, result.Handled)
		assert.True(t, result.Applied)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("duplicate delivery is a no-op", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, email, amount, status FROM transactions").
			WithArgs("DEP-abc").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "amount", "status"}).
				AddRow("tx-1", "user-1", "funder@example.com", 500000, models.TxStatusCompleted))
		dbMock.ExpectRollback()

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		result, err := service.ReconcileWebhook(context.Background(), event("success", 500000))
		assert.NoError(t, err)
		assert.True(t, result.Handled)
		assert.False(t, result.Applied)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("failure outcome marks transaction failed without wallet mutation", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, email, amount, status FROM transactions").
			WithArgs("DEP-abc").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "amount", "status"}).
				AddRow("tx-1", "user-1", "funder@example.com", 500000, models.TxStatusPending))
		dbMock.ExpectExec("UPDATE transactions SET status").
			WithArgs(models.TxStatusFailed, "Gateway reported failed", "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		result, err := service.ReconcileWebhook(context.Background(), &gateway.WebhookEvent{
			Event: "charge.failed", Reference: "DEP-abc", Status: "failed", Amount: 500000,
		})
		assert.NoError(t, err)
		assert.True(t, result.Handled)
		assert.False(t, result.Applied)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unknown reference is acknowledged without effect", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, email, amount, status FROM transactions").
			WithArgs("DEP-abc").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectRollback()

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		result, err := service.ReconcileWebhook(context.Background(), event("success", 500000))
		assert.NoError(t, err)
		assert.True(t, result.Handled)
		assert.False(t, result.Applied)
		assert.Equal(t, "unknown reference", result.Note)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("resolves user by email when transaction has none", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, email, amount, status FROM transactions").
			WithArgs("DEP-abc").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "amount", "status"}).
				AddRow("tx-1", nil, "funder@example.com", 500000, models.TxStatusPending))
		dbMock.ExpectQuery("SELECT id FROM users WHERE email").
			WithArgs("funder@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
		dbMock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance \\+").
			WithArgs(int64(500000), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE transactions SET status").
			WithArgs(models.TxStatusCompleted, "user-1", "Gateway deposit confirmed", "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		result, err := service.ReconcileWebhook(context.Background(), event("success", 500000))
		assert.NoError(t, err)
		assert.True(t, result.Applied)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unresolvable user flags transaction and acknowledges", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, email, amount, status FROM transactions").
			WithArgs("DEP-abc").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "amount", "status"}).
				AddRow("tx-1", nil, "ghost@example.com", 500000, models.TxStatusPending))
		dbMock.ExpectQuery("SELECT id FROM users WHERE email").
			WithArgs("ghost@example.com").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec("UPDATE transactions SET status").
			WithArgs(models.TxStatusFailed, "User resolution failed for ghost@example.com", "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		result, err := service.ReconcileWebhook(context.Background(), event("success", 500000))
		assert.NoError(t, err)
		assert.True(t, result.Handled)
		assert.False(t, result.Applied)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("transient store failure surfaces as retryable error", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectBegin().WillReturnError(errors.New("connection reset"))

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		_, err = service.ReconcileWebhook(context.Background(), event("success", 500000))
		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestWalletService_HandleWebhook(t *testing.T) {
	t.Run("returns 400 on invalid signature", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockPaymentGateway)
		gw.On("ParseWebhookEvent", mock.Anything, mock.Anything).
			Return(nil, gateway.ErrInvalidSignature)

		service := NewWalletService(db, nil, gw)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack",
			bytes.NewBufferString(`{"event":"charge.success"}`))
		rec := httptest.NewRecorder()

		service.HandleWebhook(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 200 on idempotent no-op so the gateway stops retrying", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockPaymentGateway)
		gw.On("ParseWebhookEvent", mock.Anything, mock.Anything).
			Return(&gateway.WebhookEvent{Event: "charge.success", Reference: "DEP-abc", Status: "success"}, nil)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("SELECT id, user_id, email, amount, status FROM transactions").
			WithArgs("DEP-abc").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "amount", "status"}).
				AddRow("tx-1", "user-1", "funder@example.com", 500000, models.TxStatusCompleted))
		dbMock.ExpectRollback()

		service := NewWalletService(db, nil, gw)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack",
			bytes.NewBufferString(`{"event":"charge.success"}`))
		rec := httptest.NewRecorder()

		service.HandleWebhook(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestWalletService_lookupAuthorizationURL(t *testing.T) {
	t.Run("served from cache when present", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		rdb, redisMock := redismock.NewClientMock()
		redisMock.ExpectGet("deposit_url:DEP-x").SetVal("https://checkout.example.com/abc")

		service := NewWalletService(db, rdb, new(MockPaymentGateway))

		url, err := service.lookupAuthorizationURL(context.Background(), "DEP-x")
		assert.NoError(t, err)
		assert.Equal(t, "https://checkout.example.com/abc", url)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("not found when deposit missing", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectQuery("SELECT status, metadata FROM transactions").
			WithArgs("DEP-missing").
			WillReturnError(sql.ErrNoRows)

		service := NewWalletService(db, nil, new(MockPaymentGateway))

		_, err = service.lookupAuthorizationURL(context.Background(), "DEP-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
