// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, username, email string, password Password) (*User, error)

	Register(ctx context.Context, username, password, email string) (*User, error)
	Authenticate(ctx context.Context, email, username, password string) (string, error)
}

// TokenIssuer signs the credential handed out on login.
type TokenIssuer interface {
	Issue(subject string) (string, error)
}
