package models

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleMember UserRole = "member"
)

// User is the account that owns bots and stored provider keys.
type User struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Email       string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255)"`
	Role        UserRole  `json:"role" gorm:"type:varchar(50);not null;default:'member'"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (User) TableName() string {
	return "rag_engine.users"
}

func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
