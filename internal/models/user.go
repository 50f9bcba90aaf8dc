package models

import "time"

const (
	UserStatusActive    = "ACTIVE"
	UserStatusSuspended = "SUSPENDED"
	UserStatusBanned    = "BANNED"
)

// User is the slice of the profile the wallet needs. It is owned by the
// account service and read-only here.
type User struct {
	ID            string `json:"id" db:"id"`
	Email         string `json:"email" db:"email"`
	FirstName     string `json:"firstName" db:"first_name"`
	EmailVerified bool   `json:"emailVerified" db:"email_verified"`
	NinVerified   bool   `json:"ninVerified" db:"nin_verified"`
	Status        string `json:"status" db:"status"`
}

type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"receiverId" db:"receiver_id"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Data      Metadata  `json:"data,omitempty" db:"data"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
