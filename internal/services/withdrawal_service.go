package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vestpay/backend/internal/models"
)

// PayoutSender delivers an approved withdrawal to the settlement rail.
// Failures here never roll back the ledger; the debit already happened.
type PayoutSender interface {
	SendPayout(ctx context.Context, req *models.WithdrawalRequest) error
}

// WithdrawalService owns the admin approval state machine for withdrawal
// requests: pending -> approved | rejected | failed, exactly once.
type WithdrawalService struct {
	db         *sql.DB
	settlement PayoutSender
	validator  *ValidationHelper
}

func NewWithdrawalService(db *sql.DB, settlement PayoutSender) *WithdrawalService {
	return &WithdrawalService{
		db:         db,
		settlement: settlement,
		validator:  NewValidationHelper(),
	}
}

// RequestWithdrawal files a pending withdrawal for the authenticated user
// @Summary Request a withdrawal
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param withdrawal body object{amount=number,bankName=string,accountNumber=string,accountName=string,bankCode=string} true "Withdrawal details"
// @Success 201 {object} models.WithdrawalRequest
// @Failure 400 {object} ErrorResponse
// @Router /withdrawals [post]
func (s *WithdrawalService) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount        float64 `json:"amount" validate:"required,gt=0"`
		BankName      string  `json:"bankName" validate:"required"`
		AccountNumber string  `json:"accountNumber" validate:"required,min=10,max=20"`
		AccountName   string  `json:"accountName" validate:"required"`
		BankCode      string  `json:"bankCode" validate:"omitempty,max=6"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	wr := models.WithdrawalRequest{
		ID:            uuid.New().String(),
		UserID:        userID,
		Amount:        models.FromMajorUnits(req.Amount),
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		BankCode:      req.BankCode,
		Status:        models.RequestStatusPending,
	}

	err := s.db.QueryRowContext(r.Context(), `
		INSERT INTO withdrawal_requests (id, user_id, amount, bank_name, account_number, account_name, bank_code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`, wr.ID, wr.UserID, wr.Amount, wr.BankName, wr.AccountNumber, wr.AccountName, wr.BankCode, wr.Status).Scan(&wr.CreatedAt)
	if err != nil {
		log.Printf("[WITHDRAWAL] Failed to file request for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to file withdrawal request", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WITHDRAWAL] Request %s filed by user %s for %d", wr.ID, userID, wr.Amount)
	SendJSON(w, http.StatusCreated, wr)
}

// ApproveWithdrawal approves a pending withdrawal
// @Summary Approve a withdrawal request
// @Description Debit the wallet and mark the request approved atomically
// @Tags admin
// @Produce json
// @Param requestId path string true "Withdrawal request ID"
// @Success 200 {object} object{requestId=string,status=string}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /admin/withdrawals/{requestId}/approve [post]
func (s *WithdrawalService) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	status, err := s.Approve(r.Context(), requestID)
	if err != nil {
		log.Printf("[WITHDRAWAL] Approval of %s failed: %v", requestID, err)
		SendErrorResponse(w, err.Error(), StatusCodeFor(err), nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{"requestId": requestID, "status": status})
}

// Approve runs the whole approval as one database transaction: lock the
// request, lock the user row, verify the freshly read balance, debit, flip
// the request status, and append a completed withdrawal transaction. Two
// concurrent approvals cannot both pass the balance check because the second
// blocks on the user row lock and re-reads the debited balance.
//
// Returns the request's resulting status. ErrInsufficientFunds still commits
// the failed-status transition so the decision is durable.
func (s *WithdrawalService) Approve(ctx context.Context, requestID string) (string, error) {
	if requestID == "" {
		return "", fmt.Errorf("%w: requestId is required", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var req models.WithdrawalRequest
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, amount, bank_name, account_number, account_name, bank_code, status
		FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE
	`, requestID).Scan(&req.ID, &req.UserID, &req.Amount, &req.BankName,
		&req.AccountNumber, &req.AccountName, &req.BankCode, &req.Status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: withdrawal request %s", ErrNotFound, requestID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if req.Status != models.RequestStatusPending {
		return "", fmt.Errorf("%w: request is %s", ErrConflict, req.Status)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT wallet_balance FROM users WHERE id = $1 FOR UPDATE
	`, req.UserID).Scan(&balance)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: user %s", ErrNotFound, req.UserID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if balance < req.Amount {
		_, err = tx.ExecContext(ctx, `
			UPDATE withdrawal_requests SET status = $1, notes = $2, processed_at = NOW() WHERE id = $3
		`, models.RequestStatusFailed,
			fmt.Sprintf("Insufficient funds: balance %d, requested %d", balance, req.Amount), requestID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		log.Printf("[WITHDRAWAL] Request %s failed: balance %d < amount %d", requestID, balance, req.Amount)
		return models.RequestStatusFailed, ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET wallet_balance = wallet_balance - $1, updated_at = NOW() WHERE id = $2
	`, req.Amount, req.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $1, processed_at = NOW() WHERE id = $2
	`, models.RequestStatusApproved, requestID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, status, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, uuid.New().String(), req.UserID, models.TxTypeWithdrawal, req.Amount,
		models.TxStatusCompleted, "Withdrawal approved, request "+requestID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[WITHDRAWAL] Approved %s: debited %d from user %s", requestID, req.Amount, req.UserID)

	if s.settlement != nil {
		req.Status = models.RequestStatusApproved
		if err := s.settlement.SendPayout(ctx, &req); err != nil {
			log.Printf("[WITHDRAWAL] Payout dispatch for %s failed, flagging for retry: %v", requestID, err)
		}
	}

	return models.RequestStatusApproved, nil
}

// RejectWithdrawal rejects a pending withdrawal
// @Summary Reject a withdrawal request
// @Tags admin
// @Produce json
// @Param requestId path string true "Withdrawal request ID"
// @Success 200 {object} object{requestId=string,status=string}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{requestId}/reject [post]
func (s *WithdrawalService) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	if err := s.Reject(r.Context(), requestID); err != nil {
		log.Printf("[WITHDRAWAL] Rejection of %s failed: %v", requestID, err)
		SendErrorResponse(w, err.Error(), StatusCodeFor(err), nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{"requestId": requestID, "status": models.RequestStatusRejected})
}

// Reject flips a pending request to rejected without touching the wallet.
// The status guard in the WHERE clause makes the transition race-free.
func (s *WithdrawalService) Reject(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("%w: requestId is required", ErrValidation)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $1, processed_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.RequestStatusRejected, requestID, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM withdrawal_requests WHERE id = $1`, requestID).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: withdrawal request %s", ErrNotFound, requestID)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%w: request is %s", ErrConflict, status)
	}

	log.Printf("[WITHDRAWAL] Rejected %s", requestID)
	return nil
}
