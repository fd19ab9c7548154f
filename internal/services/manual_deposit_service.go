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

// ManualDepositService handles admin approval of deposits reported outside
// the gateway flow, e.g. direct bank transfers.
type ManualDepositService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewManualDepositService(db *sql.DB) *ManualDepositService {
	return &ManualDepositService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// ReportDeposit files a manual deposit claim
// @Summary Report an out-of-band deposit
// @Tags deposits
// @Accept json
// @Produce json
// @Param deposit body object{amount=number,details=string} true "Deposit claim"
// @Success 201 {object} models.ManualDepositRequest
// @Failure 400 {object} ErrorResponse
// @Router /deposits/manual [post]
func (s *ManualDepositService) ReportDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount  float64 `json:"amount" validate:"required,gt=0"`
		Details string  `json:"details" validate:"max=500"`
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

	md := models.ManualDepositRequest{
		ID:      uuid.New().String(),
		UserID:  userID,
		Amount:  models.FromMajorUnits(req.Amount),
		Details: req.Details,
		Status:  models.RequestStatusPending,
	}

	err := s.db.QueryRowContext(r.Context(), `
		INSERT INTO manual_deposit_requests (id, user_id, amount, details, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, md.ID, md.UserID, md.Amount, md.Details, md.Status).Scan(&md.CreatedAt)
	if err != nil {
		log.Printf("[MANUAL_DEPOSIT] Failed to file claim for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to file deposit claim", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[MANUAL_DEPOSIT] Claim %s filed by user %s for %d", md.ID, userID, md.Amount)
	SendJSON(w, http.StatusCreated, md)
}

// ApproveManualDeposit approves a pending manual deposit
// @Summary Approve a manual deposit
// @Description Credit the wallet, append the transaction, and mark the claim approved atomically
// @Tags admin
// @Accept json
// @Produce json
// @Param requestId path string true "Manual deposit request ID"
// @Param approval body object{userId=string,amount=number} true "Approval details"
// @Success 200 {object} object{requestId=string,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/deposits/manual/{requestId}/approve [post]
func (s *ManualDepositService) ApproveManualDeposit(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	var req struct {
		UserID string  `json:"userId" validate:"required"`
		Amount float64 `json:"amount" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.Approve(r.Context(), requestID, req.UserID, models.FromMajorUnits(req.Amount)); err != nil {
		log.Printf("[MANUAL_DEPOSIT] Approval of %s failed: %v", requestID, err)
		SendErrorResponse(w, err.Error(), StatusCodeFor(err), nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{"requestId": requestID, "status": models.RequestStatusApproved})
}

// Approve credits the wallet, appends a completed deposit transaction and
// marks the claim approved inside one database transaction. The pending
// status guard on the claim row fails the whole unit on a duplicate approval.
func (s *ManualDepositService) Approve(ctx context.Context, requestID, userID string, amount int64) error {
	if requestID == "" || userID == "" {
		return fmt.Errorf("%w: requestId and userId are required", ErrValidation)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM manual_deposit_requests WHERE id = $1 FOR UPDATE
	`, requestID).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: manual deposit request %s", ErrNotFound, requestID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if status != models.RequestStatusPending {
		return fmt.Errorf("%w: request is %s", ErrConflict, status)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET wallet_balance = wallet_balance + $1, updated_at = NOW() WHERE id = $2
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, status, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, uuid.New().String(), userID, models.TxTypeDeposit, amount,
		models.TxStatusCompleted, "Manual deposit approved, request "+requestID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE manual_deposit_requests SET status = $1 WHERE id = $2
	`, models.RequestStatusApproved, requestID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[MANUAL_DEPOSIT] Approved %s: credited %d to user %s", requestID, amount, userID)
	return nil
}

// RejectManualDeposit rejects a pending manual deposit
// @Summary Reject a manual deposit
// @Tags admin
// @Produce json
// @Param requestId path string true "Manual deposit request ID"
// @Success 200 {object} object{requestId=string,status=string}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/deposits/manual/{requestId}/reject [post]
func (s *ManualDepositService) RejectManualDeposit(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	if err := s.Reject(r.Context(), requestID); err != nil {
		log.Printf("[MANUAL_DEPOSIT] Rejection of %s failed: %v", requestID, err)
		SendErrorResponse(w, err.Error(), StatusCodeFor(err), nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{"requestId": requestID, "status": models.RequestStatusRejected})
}

// Reject flips a pending claim to rejected; no wallet effect.
func (s *ManualDepositService) Reject(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("%w: requestId is required", ErrValidation)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE manual_deposit_requests SET status = $1
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
		err := s.db.QueryRowContext(ctx, `SELECT status FROM manual_deposit_requests WHERE id = $1`, requestID).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: manual deposit request %s", ErrNotFound, requestID)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%w: request is %s", ErrConflict, status)
	}

	log.Printf("[MANUAL_DEPOSIT] Rejected %s", requestID)
	return nil
}
