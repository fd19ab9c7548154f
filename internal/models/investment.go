package models

import "time"

// Project is an investment offering with a fixed holding period and return.
type Project struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	DurationDays     int       `json:"durationDays" db:"duration_days"`
	ReturnPercentage int64     `json:"returnPercentage" db:"return_percentage"` // whole percent
	MinAmount        int64     `json:"minAmount" db:"min_amount"`               // minor units
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
}

type Investment struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"userId" db:"user_id"`
	ProjectID   string     `json:"projectId" db:"project_id"`
	Amount      int64      `json:"amount" db:"amount"` // minor units
	Status      string     `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

const (
	InvestmentStatusActive    = "active"
	InvestmentStatusCompleted = "completed"
)

// MaturityDate is the instant the holding period elapses.
func (i *Investment) MaturityDate(durationDays int) time.Time {
	return i.CreatedAt.AddDate(0, 0, durationDays)
}

// Payout computes principal plus return in minor units using integer
// arithmetic only. A 10% return on 1000000 kobo yields 1100000 kobo.
func Payout(amount, returnPercentage int64) int64 {
	return amount * (100 + returnPercentage) / 100
}
