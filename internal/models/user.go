package models

import "time"

type User struct {
	ID                  string     `json:"id" example:"9d7f1f0e-1d2b-4c5a-9f7e-0c1d2b3a4f5e"` // User ID
	Email               string     `json:"email" example:"user@example.com"`                  // User email
	FirstName           string     `json:"firstName" example:"John"`                          // User first name
	LastName            string     `json:"lastName" example:"Doe"`                            // User last name
	PhoneNumber         string     `json:"phoneNumber" example:"+2348012345678"`              // User phone number
	WalletBalance       int64      `json:"walletBalance"`                                     // Balance in minor units (kobo)
	Role                string     `json:"role" example:"user"`                               // user or admin
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLogin           *time.Time `json:"lastLogin,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
