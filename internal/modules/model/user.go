package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a persisted editor identity, keyed by email. A record is created on
// the first identity assertion; later assertions for the same email return it
// unchanged (name, picture and expiry are not refreshed).
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Picture   string    `gorm:"type:text" json:"picture"`
	ExpiresAt time.Time `json:"expiresAt"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (User) TableName() string { return "users" }
