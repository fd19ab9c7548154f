package models

import "time"

// WithdrawalRequest is a user-initiated cash-out awaiting admin review.
type WithdrawalRequest struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"userId" db:"user_id"`
	Amount        int64      `json:"amount" db:"amount"` // minor units
	BankName      string     `json:"bankName" db:"bank_name"`
	AccountNumber string     `json:"accountNumber" db:"account_number"`
	AccountName   string     `json:"accountName" db:"account_name"`
	BankCode      string     `json:"bankCode" db:"bank_code"`
	Status        string     `json:"status" db:"status"`
	Notes         string     `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty" db:"processed_at"`
}

const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
	RequestStatusFailed   = "failed"
)

// ManualDepositRequest is an out-of-band deposit claim awaiting admin review.
type ManualDepositRequest struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Amount    int64     `json:"amount" db:"amount"` // minor units
	Details   string    `json:"details,omitempty" db:"details"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
