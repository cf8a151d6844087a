package models

import (
	"time"

	"github.com/google/uuid"
)

// SignupBonusCredits is granted once, when a user row is first created.
const SignupBonusCredits = 2

const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Alias     string    `json:"alias"`
	AvatarID  string    `json:"avatar_id"`
	Role      string    `json:"role"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user may use the admin endpoints.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
