package pendinglogin

import (
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// PendingLoginRequest correlates a magic-link send with the browsing
// context that requested it. The id doubles as the polling key and is
// embedded in the signed login token.
type PendingLoginRequest struct {
	ID           string    `json:"id" gorm:"primarykey"`
	UserID       string    `json:"user_id" gorm:"index;not null"`
	SessionToken *string   `json:"-"`
	Status       string    `json:"status" gorm:"default:pending;not null"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (PendingLoginRequest) TableName() string {
	return "pending_login_requests"
}
