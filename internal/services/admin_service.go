package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vestpay/backend/internal/models"
)

// AdminService serves the user directory and approval queue listings.
// Pass-through queries only; wallet mutation lives in the engines.
type AdminService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewAdminService(db *sql.DB) *AdminService {
	return &AdminService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// ListUsers lists all users
// @Summary List users
// @Tags admin
// @Produce json
// @Success 200 {object} object{users=[]models.User,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /admin/users [get]
func (s *AdminService) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
		       COALESCE(phone_number, ''), wallet_balance, role, created_at, updated_at
		FROM users
		ORDER BY created_at DESC
	`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName,
			&u.PhoneNumber, &u.WalletBalance, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}

	SendJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

// DeleteUser removes a user
// @Summary Delete a user
// @Tags admin
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} object{userId=string,deleted=bool}
// @Failure 404 {object} ErrorResponse
// @Router /admin/users/{userId} [delete]
func (s *AdminService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	result, err := s.db.ExecContext(r.Context(), `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		log.Printf("[ADMIN] Failed to delete user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ADMIN] Deleted user %s", userID)
	SendJSON(w, http.StatusOK, map[string]any{"userId": userID, "deleted": true})
}

// SetUserRole updates a user's role
// @Summary Set user role
// @Tags admin
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param role body object{role=string} true "New role"
// @Success 200 {object} object{userId=string,role=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/users/{userId}/role [put]
func (s *AdminService) SetUserRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req struct {
		Role string `json:"role" validate:"required,oneof=user admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.db.ExecContext(r.Context(), `
		UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2
	`, req.Role, userID)
	if err != nil {
		SendErrorResponse(w, "Failed to update role", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ADMIN] User %s role set to %s", userID, req.Role)
	SendJSON(w, http.StatusOK, map[string]string{"userId": userID, "role": req.Role})
}

// ListWithdrawalRequests lists withdrawal requests by status
// @Summary List withdrawal requests
// @Tags admin
// @Produce json
// @Param status query string false "Filter by status (default pending)"
// @Success 200 {object} object{requests=[]models.WithdrawalRequest,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /admin/withdrawals [get]
func (s *AdminService) ListWithdrawalRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.RequestStatusPending
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, user_id, amount, bank_name, account_number, account_name,
		       COALESCE(bank_code, ''), status, COALESCE(notes, ''), created_at, processed_at
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch withdrawal requests", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	requests := []models.WithdrawalRequest{}
	for rows.Next() {
		var wr models.WithdrawalRequest
		if err := rows.Scan(&wr.ID, &wr.UserID, &wr.Amount, &wr.BankName, &wr.AccountNumber,
			&wr.AccountName, &wr.BankCode, &wr.Status, &wr.Notes, &wr.CreatedAt, &wr.ProcessedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch withdrawal requests", http.StatusInternalServerError, nil)
			return
		}
		requests = append(requests, wr)
	}

	SendJSON(w, http.StatusOK, map[string]any{"requests": requests, "count": len(requests)})
}

// ListManualDepositRequests lists manual deposit claims by status
// @Summary List manual deposit requests
// @Tags admin
// @Produce json
// @Param status query string false "Filter by status (default pending)"
// @Success 200 {object} object{requests=[]models.ManualDepositRequest,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /admin/deposits/manual [get]
func (s *AdminService) ListManualDepositRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.RequestStatusPending
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, user_id, amount, COALESCE(details, ''), status, created_at
		FROM manual_deposit_requests
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch manual deposit requests", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	requests := []models.ManualDepositRequest{}
	for rows.Next() {
		var md models.ManualDepositRequest
		if err := rows.Scan(&md.ID, &md.UserID, &md.Amount, &md.Details, &md.Status, &md.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch manual deposit requests", http.StatusInternalServerError, nil)
			return
		}
		requests = append(requests, md)
	}

	SendJSON(w, http.StatusOK, map[string]any{"requests": requests, "count": len(requests)})
}
