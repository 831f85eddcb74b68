package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	Credits      int64     `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
}
