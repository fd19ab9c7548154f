package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vestpay/backend/internal/models"
)

// InvestmentService places investments against projects and runs the
// maturity sweep that pays them out.
type InvestmentService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewInvestmentService(db *sql.DB) *InvestmentService {
	return &InvestmentService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// SweepResult summarizes one maturity sweep run.
type SweepResult struct {
	ProcessedCount int `json:"processedCount"`
	SkippedCount   int `json:"skippedCount"`
}

// Invest places an investment for the authenticated user
// @Summary Invest into a project
// @Description Debit the wallet and open an active investment atomically
// @Tags investments
// @Accept json
// @Produce json
// @Param investment body object{projectId=string,amount=number} true "Investment details"
// @Success 201 {object} models.Investment
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /investments [post]
func (s *InvestmentService) Invest(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		ProjectID string  `json:"projectId" validate:"required"`
		Amount    float64 `json:"amount" validate:"required,gt=0"`
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

	inv, err := s.invest(r.Context(), userID, req.ProjectID, models.FromMajorUnits(req.Amount))
	if err != nil {
		log.Printf("[INVEST] Placement failed for user %s: %v", userID, err)
		SendErrorResponse(w, err.Error(), StatusCodeFor(err), nil)
		return
	}

	SendJSON(w, http.StatusCreated, inv)
}

func (s *InvestmentService) invest(ctx context.Context, userID, projectID string, amount int64) (*models.Investment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var minAmount int64
	err = tx.QueryRowContext(ctx, `SELECT min_amount FROM projects WHERE id = $1`, projectID).Scan(&minAmount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if amount < minAmount {
		return nil, fmt.Errorf("%w: amount below project minimum %d", ErrValidation, minAmount)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `SELECT wallet_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if balance < amount {
		return nil, ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET wallet_balance = wallet_balance - $1, updated_at = NOW() WHERE id = $2
	`, amount, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	inv := &models.Investment{
		ID:        uuid.New().String(),
		UserID:    userID,
		ProjectID: projectID,
		Amount:    amount,
		Status:    models.InvestmentStatusActive,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO investments (id, user_id, project_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, inv.ID, inv.UserID, inv.ProjectID, inv.Amount, inv.Status).Scan(&inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[INVEST] User %s invested %d into project %s", userID, amount, projectID)
	return inv, nil
}

// TriggerMaturitySweep runs the sweep on demand
// @Summary Run the investment maturity sweep
// @Description Pay out matured active investments idempotently
// @Tags admin
// @Produce json
// @Success 200 {object} SweepResult
// @Failure 500 {object} ErrorResponse
// @Router /admin/investments/sweep [post]
func (s *InvestmentService) TriggerMaturitySweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.RunMaturitySweep(r.Context(), time.Now())
	if err != nil {
		log.Printf("[SWEEP] Sweep failed: %v", err)
		SendErrorResponse(w, "Failed to run maturity sweep", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, result)
}

// RunMaturitySweep scans active investments and pays out the matured ones.
// Each payout is its own database transaction whose first statement flips
// status from active to completed with a rows-affected guard; a concurrent
// sweep that lost the race sees zero rows and skips, so no investment is
// ever paid twice. An investment whose project is gone is skipped and
// logged, never paid with guessed parameters. Per-item failures do not
// abort the remainder of the sweep.
func (s *InvestmentService) RunMaturitySweep(ctx context.Context, asOf time.Time) (*SweepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.user_id, i.amount, i.created_at, p.duration_days, p.return_percentage
		FROM investments i
		LEFT JOIN projects p ON p.id = i.project_id
		WHERE i.status = $1
		ORDER BY i.created_at ASC
	`, models.InvestmentStatusActive)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	type candidate struct {
		id        string
		userID    string
		amount    int64
		createdAt time.Time
		duration  sql.NullInt64
		returnPct sql.NullInt64
	}

	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.userID, &c.amount, &c.createdAt, &c.duration, &c.returnPct); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	result := &SweepResult{}
	for _, c := range candidates {
		if !c.duration.Valid || !c.returnPct.Valid {
			log.Printf("[SWEEP] Investment %s has no project, skipping", c.id)
			result.SkippedCount++
			continue
		}

		maturity := c.createdAt.AddDate(0, 0, int(c.duration.Int64))
		if asOf.Before(maturity) {
			continue
		}

		payout := models.Payout(c.amount, c.returnPct.Int64)
		applied, err := s.payOut(ctx, c.id, c.userID, payout)
		if err != nil {
			log.Printf("[SWEEP] Payout of investment %s failed, will retry next run: %v", c.id, err)
			result.SkippedCount++
			continue
		}
		if !applied {
			// Another sweep completed it between the scan and the lock.
			continue
		}

		log.Printf("[SWEEP] Investment %s matured, credited %d to user %s", c.id, payout, c.userID)
		result.ProcessedCount++
	}

	log.Printf("[SWEEP] Completed: %d paid, %d skipped", result.ProcessedCount, result.SkippedCount)
	return result, nil
}

func (s *InvestmentService) payOut(ctx context.Context, investmentID, userID string, payout int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE investments SET status = $1, completed_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.InvestmentStatusCompleted, investmentID, models.InvestmentStatusActive)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another sweep got here first.
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE users SET wallet_balance = wallet_balance + $1, updated_at = NOW() WHERE id = $2
	`, payout, userID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("user %s not found for investment %s", userID, investmentID)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// StartSweepScheduler runs the maturity sweep on a fixed interval until the
// context is cancelled.
func (s *InvestmentService) StartSweepScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Printf("[SWEEP] Scheduler started, interval %s", interval)
		for {
			select {
			case <-ctx.Done():
				log.Println("[SWEEP] Scheduler stopped")
				return
			case now := <-ticker.C:
				if _, err := s.RunMaturitySweep(ctx, now); err != nil {
					log.Printf("[SWEEP] Scheduled run failed: %v", err)
				}
			}
		}
	}()
}

// ListProjects lists investable projects
// @Summary List projects
// @Tags investments
// @Produce json
// @Success 200 {object} object{projects=[]models.Project,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /projects [get]
func (s *InvestmentService) ListProjects(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, name, duration_days, return_percentage, min_amount, created_at
		FROM projects
		ORDER BY created_at DESC
	`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch projects", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.DurationDays, &p.ReturnPercentage, &p.MinAmount, &p.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch projects", http.StatusInternalServerError, nil)
			return
		}
		projects = append(projects, p)
	}

	SendJSON(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

// CreateProject registers a new investment project
// @Summary Create a project
// @Tags admin
// @Accept json
// @Produce json
// @Param project body object{name=string,durationDays=int,returnPercentage=int,minAmount=number} true "Project details"
// @Success 201 {object} models.Project
// @Failure 400 {object} ErrorResponse
// @Router /admin/projects [post]
func (s *InvestmentService) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string  `json:"name" validate:"required,min=3"`
		DurationDays     int     `json:"durationDays" validate:"required,gt=0"`
		ReturnPercentage int64   `json:"returnPercentage" validate:"required,gte=0,lte=100"`
		MinAmount        float64 `json:"minAmount" validate:"gte=0"`
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

	p := models.Project{
		ID:               uuid.New().String(),
		Name:             req.Name,
		DurationDays:     req.DurationDays,
		ReturnPercentage: req.ReturnPercentage,
		MinAmount:        models.FromMajorUnits(req.MinAmount),
	}

	err := s.db.QueryRowContext(r.Context(), `
		INSERT INTO projects (id, name, duration_days, return_percentage, min_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, p.ID, p.Name, p.DurationDays, p.ReturnPercentage, p.MinAmount).Scan(&p.CreatedAt)
	if err != nil {
		log.Printf("[PROJECT] Failed to create project %s: %v", req.Name, err)
		SendErrorResponse(w, "Failed to create project", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusCreated, p)
}
