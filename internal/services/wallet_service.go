package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/vestpay/backend/internal/gateway"
	"github.com/vestpay/backend/internal/models"
)

const (
	webhookAuditQueue = "webhook_audit_queue"
	depositURLKey     = "deposit_url:%s"
	depositURLExpiry  = 30 * time.Minute
)

// WalletService owns wallet balance mutation for gateway-driven deposits:
// it creates pending transactions when a hosted payment is initiated and
// reconciles webhook confirmations against them exactly once.
type WalletService struct {
	db        *sql.DB
	redis     *redis.Client
	gateway   gateway.PaymentGateway
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, redisClient *redis.Client, gw gateway.PaymentGateway) *WalletService {
	return &WalletService{
		db:        db,
		redis:     redisClient,
		gateway:   gw,
		validator: NewValidationHelper(),
	}
}

// DepositIntent is the outcome of a successful deposit initiation.
type DepositIntent struct {
	AuthorizationURL string `json:"authorizationUrl"`
	ReferenceID      string `json:"referenceId"`
}

// ReconcileResult distinguishes "the event was dealt with" from "the wallet
// was actually credited". Handled=true means the gateway must not retry.
type ReconcileResult struct {
	Handled   bool
	Applied   bool
	Reference string
	Note      string
}

// InitiateDeposit starts a hosted gateway payment
// @Summary Initiate a wallet deposit
// @Description Create a pending deposit and return the hosted payment URL
// @Tags deposits
// @Accept json
// @Produce json
// @Param deposit body object{email=string,amount=number,callbackUrl=string} true "Deposit details"
// @Success 200 {object} DepositIntent
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /deposits/initiate [post]
func (s *WalletService) InitiateDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string  `json:"email" validate:"required,email"`
		Amount      float64 `json:"amount" validate:"required,gt=0"`
		CallbackURL string  `json:"callbackUrl" validate:"omitempty,url"`
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

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

	intent, err := s.initiateDeposit(r.Context(), req.Email, models.FromMajorUnits(req.Amount), req.CallbackURL)
	if err != nil {
		log.Printf("[DEPOSIT] Initiation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to initiate deposit", StatusCodeFor(err), nil)
		return
	}

	SendJSON(w, http.StatusOK, intent)
}

// initiateDeposit calls the gateway first, then persists the pending
// transaction before the redirect URL is handed back, so a webhook racing the
// caller always finds a record to reconcile against. A gateway failure leaves
// no partial state behind.
func (s *WalletService) initiateDeposit(ctx context.Context, email string, amount int64, callbackURL string) (*DepositIntent, error) {
	reference := "DEP-" + uuid.New().String()

	resp, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		Reference:   reference,
		Email:       email,
		Amount:      amount,
		CallbackURL: callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	// Resolve the user up front when possible; the webhook falls back to
	// email resolution when this misses.
	var userID sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&userID.String)
	if err == nil {
		userID.Valid = true
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	metadata := models.Metadata{"authorization_url": resp.AuthorizationURL}
	metadataJSON, _ := json.Marshal(metadata)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, email, type, amount, status, reference_id, details, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, uuid.New().String(), userID, email, models.TxTypeDeposit, amount,
		models.TxStatusPending, reference, "Gateway deposit initiated", metadataJSON)
	if err != nil {
		log.Printf("[DEPOSIT] Failed to persist pending transaction %s after gateway init: %v", reference, err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if s.redis != nil {
		key := fmt.Sprintf(depositURLKey, reference)
		if err := s.redis.Set(ctx, key, resp.AuthorizationURL, depositURLExpiry).Err(); err != nil {
			log.Printf("[DEPOSIT] Failed to cache authorization URL for %s: %v", reference, err)
		}
	}

	log.Printf("[DEPOSIT] Initiated %s for %s, amount %d", reference, email, amount)
	return &DepositIntent{AuthorizationURL: resp.AuthorizationURL, ReferenceID: reference}, nil
}

// HandleWebhook receives gateway payment confirmations
// @Summary Receive gateway webhook
// @Description Reconcile an asynchronous gateway event against its pending transaction
// @Tags deposits
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /webhooks/paystack [post]
func (s *WalletService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	event, err := s.gateway.ParseWebhookEvent(r.Header.Get("x-paystack-signature"), body)
	if err != nil {
		log.Printf("[WEBHOOK] Rejected event: %v", err)
		SendErrorResponse(w, "Invalid payload", http.StatusBadRequest, nil)
		return
	}

	result, err := s.ReconcileWebhook(r.Context(), event)
	if err != nil {
		// Transient failure: non-200 so the gateway retries.
		log.Printf("[WEBHOOK] Reconciliation failed for %s: %v", event.Reference, err)
		SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"handled":   result.Handled,
		"applied":   result.Applied,
		"reference": result.Reference,
	})
}

// ReconcileWebhook applies a verified gateway event to the ledger. The wallet
// credit and the transaction status change happen inside one database
// transaction under a row lock on the transaction record, so a duplicate
// delivery observes a terminal status and becomes a no-op. Only transient
// store failures return an error; permanent mismatches are acknowledged as
// handled and queued for audit instead, to stop the gateway retrying forever.
func (s *WalletService) ReconcileWebhook(ctx context.Context, event *gateway.WebhookEvent) (*ReconcileResult, error) {
	if event.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrInvalidPayload)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var (
		txID   string
		userID sql.NullString
		email  sql.NullString
		amount int64
		status string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, email, amount, status FROM transactions
		WHERE reference_id = $1
		FOR UPDATE
	`, event.Reference).Scan(&txID, &userID, &email, &amount, &status)

	if err == sql.ErrNoRows {
		// Replay for an expired reference or an out-of-band payment. Record
		// it for audit; crediting on a guess would corrupt the ledger.
		s.auditUnknownEvent(ctx, event)
		return &ReconcileResult{Handled: true, Reference: event.Reference, Note: "unknown reference"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Idempotency guard: a terminal transaction means this delivery is a
	// duplicate and must change nothing.
	if status != models.TxStatusPending {
		log.Printf("[WEBHOOK] Duplicate delivery for %s, status already %s", event.Reference, status)
		return &ReconcileResult{Handled: true, Reference: event.Reference, Note: "already " + status}, nil
	}

	if !event.Success() {
		_, err = tx.ExecContext(ctx, `
			UPDATE transactions SET status = $1, details = $2, updated_at = NOW() WHERE id = $3
		`, models.TxStatusFailed, "Gateway reported "+event.Status, txID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		log.Printf("[WEBHOOK] Marked %s failed, gateway status %s", event.Reference, event.Status)
		return &ReconcileResult{Handled: true, Reference: event.Reference, Note: "marked failed"}, nil
	}

	resolvedUserID := userID.String
	if !userID.Valid {
		err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email.String).Scan(&resolvedUserID)
		if err == sql.ErrNoRows {
			// Permanent: nobody to credit. Flag the record and acknowledge.
			_, uerr := tx.ExecContext(ctx, `
				UPDATE transactions SET status = $1, details = $2, updated_at = NOW() WHERE id = $3
			`, models.TxStatusFailed, "User resolution failed for "+email.String, txID)
			if uerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, uerr)
			}
			if cerr := tx.Commit(); cerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, cerr)
			}
			log.Printf("[WEBHOOK] No user for %s on %s, flagged for audit", email.String, event.Reference)
			return &ReconcileResult{Handled: true, Reference: event.Reference, Note: "user resolution failed"}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if event.Amount != 0 && event.Amount != amount {
		log.Printf("[WEBHOOK] Amount mismatch on %s: recorded %d, gateway reported %d; crediting recorded amount",
			event.Reference, amount, event.Amount)
	}

	// Credit and complete together or not at all.
	result, err := tx.ExecContext(ctx, `
		UPDATE users SET wallet_balance = wallet_balance + $1, updated_at = NOW() WHERE id = $2
	`, amount, resolvedUserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: resolved user %s vanished mid-reconcile", ErrStoreUnavailable, resolvedUserID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1, user_id = $2, details = $3, updated_at = NOW() WHERE id = $4
	`, models.TxStatusCompleted, resolvedUserID, "Gateway deposit confirmed", txID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[WEBHOOK] Credited %d to user %s for %s", amount, resolvedUserID, event.Reference)
	return &ReconcileResult{Handled: true, Applied: true, Reference: event.Reference}, nil
}

func (s *WalletService) auditUnknownEvent(ctx context.Context, event *gateway.WebhookEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if s.redis == nil {
		log.Printf("[WEBHOOK] Unmatched event (no audit queue): %s", payload)
		return
	}
	if err := s.redis.RPush(ctx, webhookAuditQueue, payload).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to queue unmatched event %s: %v", event.Reference, err)
	}
}

// GetDepositQR renders a pending deposit's payment URL as a QR code
// @Summary Deposit QR code
// @Description Return a QR code PNG of the hosted payment URL for a pending deposit
// @Tags deposits
// @Produce png
// @Param reference path string true "Deposit reference"
// @Success 200 {string} binary
// @Failure 404 {object} ErrorResponse
// @Router /deposits/{reference}/qr [get]
func (s *WalletService) GetDepositQR(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	authURL, err := s.lookupAuthorizationURL(r.Context(), reference)
	if err != nil {
		SendErrorResponse(w, "Deposit not found or no longer pending", StatusCodeFor(err), nil)
		return
	}

	png, err := qrcode.Encode(authURL, qrcode.Medium, 256)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *WalletService) lookupAuthorizationURL(ctx context.Context, reference string) (string, error) {
	if s.redis != nil {
		key := fmt.Sprintf(depositURLKey, reference)
		url, err := s.redis.Get(ctx, key).Result()
		if err == nil && url != "" {
			return url, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Printf("[DEPOSIT] QR cache lookup failed for %s: %v", reference, err)
		}
	}

	var status string
	var metadata models.Metadata
	err := s.db.QueryRowContext(ctx, `
		SELECT status, metadata FROM transactions WHERE reference_id = $1
	`, reference).Scan(&status, &metadata)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if status != models.TxStatusPending {
		return "", ErrConflict
	}

	url, _ := metadata["authorization_url"].(string)
	if url == "" {
		return "", ErrNotFound
	}
	return url, nil
}

// ListTransactions returns the caller's transaction history
// @Summary List transactions
// @Description Get the authenticated user's transactions, newest first
// @Tags transactions
// @Produce json
// @Param limit query int false "Number of transactions (default 50, max 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /transactions [get]
func (s *WalletService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, COALESCE(user_id, ''), COALESCE(email, ''), type, amount, status,
		       COALESCE(reference_id, ''), COALESCE(details, ''), created_at, updated_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Email, &t.Type, &t.Amount, &t.Status,
			&t.ReferenceID, &t.Details, &t.CreatedAt, &t.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions = append(transactions, t)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction retrieves one of the caller's transactions
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (s *WalletService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID := chi.URLParam(r, "txId")

	var t models.Transaction
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, COALESCE(user_id, ''), COALESCE(email, ''), type, amount, status,
		       COALESCE(reference_id, ''), COALESCE(details, ''), created_at, updated_at
		FROM transactions
		WHERE id = $1 AND user_id = $2
	`, txID, userID).Scan(&t.ID, &t.UserID, &t.Email, &t.Type, &t.Amount, &t.Status,
		&t.ReferenceID, &t.Details, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, t)
}
