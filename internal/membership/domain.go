// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"

	"libris/internal/fault"
)

// User is a registered library user. Users are never edited or removed.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	PasswordSalt string    `json:"-" db:"password_salt"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Password is a salted argon2id hash, both parts base64 encoded.
type Password struct {
	Hash string
	Salt string
}

var (
	ErrUserNotFound  = fault.New(fault.NotFound, "user not found")
	ErrUsernameTaken = fault.New(fault.Conflict, "username already exists")
	ErrInvalidLogin  = fault.New(fault.Unauthorized, "invalid credentials")
	ErrRateLimited   = fault.New(fault.RateLimited, "rate limit exceeded")
)
