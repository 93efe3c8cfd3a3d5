package models

import (
	"time"
)

// PendingRegistration holds a sign-up waiting for its emailed code.
// At most one per email; removed once the account is created.
type PendingRegistration struct {
	Handle       string    `gorm:"primaryKey;size:36" json:"handle"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	FullName     string    `gorm:"size:100;not null" json:"full_name"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CodeHash     string    `gorm:"size:64;not null" json:"-"`
	ExpiresAt    time.Time `gorm:"not null;index" json:"expires_at"`
	Attempts     int       `gorm:"not null;default:0" json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
