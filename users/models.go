package users

import (
	"time"
)

// GuestNickname is the reserved sentinel marking an unclaimed identity.
const GuestNickname = "guest"

type User struct {
	ID        string     `json:"id" gorm:"primarykey"`
	Nickname  string     `json:"nickname" gorm:"not null"`
	FullName  *string    `json:"full_name,omitempty"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	CreatedBy *string    `json:"created_by,omitempty"`
	UpdatedBy *string    `json:"updated_by,omitempty"`

	Emails []UserEmail `json:"emails" gorm:"foreignKey:UserID"`
}

func (User) TableName() string {
	return "users"
}

// IsGuest reports whether the identity has not yet been claimed.
func (u *User) IsGuest() bool {
	return u.Nickname == GuestNickname
}

type UserEmail struct {
	ID               string    `json:"id" gorm:"primarykey"`
	Email            string    `json:"email" gorm:"uniqueIndex;not null"`
	SelectedForLogin bool      `json:"selected_for_login" gorm:"default:false"`
	UserID           string    `json:"user_id" gorm:"index;not null"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (UserEmail) TableName() string {
	return "user_emails"
}
