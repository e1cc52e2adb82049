// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"libris/internal/fault"
	"libris/internal/storage"
)

var userColumns = []interface{}{"id", "username", "email", "password_hash", "password_salt", "created_at"}

// service implements the Service interface.
type service struct {
	db          *storage.DB
	tokens      TokenIssuer
	logger      zerolog.Logger
	rateLimiter *rate.Limiter
}

// Option configures the membership service.
type Option func(*service)

// WithRateLimit replaces the default limiter shared by Register and Authenticate.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *service) {
		s.rateLimiter = rate.NewLimiter(limit, burst)
	}
}

// NewService creates a new membership service instance.
func NewService(db *storage.DB, tokens TokenIssuer, logger zerolog.Logger, opts ...Option) Service {
	s := &service{
		db:          db,
		tokens:      tokens,
		logger:      logger.With().Str("component", "membership").Logger(),
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindByEmail returns the earliest registered user with the given email.
func (s *service) FindByEmail(ctx context.Context, email string) (*User, error) {
	q := s.db.Builder().From("users").Select(userColumns...).
		Where(goqu.C("email").Eq(email)).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Limit(1).Prepared(true)
	return s.getUser(ctx, "find user by email", q, email)
}

func (s *service) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	q := s.db.Builder().From("users").Select(userColumns...).
		Where(goqu.C("id").Eq(id)).Prepared(true)
	return s.getUser(ctx, "find user by id", q, id.String())
}

func (s *service) findByUsername(ctx context.Context, username string) (*User, error) {
	q := s.db.Builder().From("users").Select(userColumns...).
		Where(goqu.C("username").Eq(username)).Prepared(true)
	return s.getUser(ctx, "find user by username", q, username)
}

func (s *service) getUser(ctx context.Context, op string, q storage.Statement, key string) (*User, error) {
	user := &User{}
	if err := s.db.Get(ctx, op, user, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", key, ErrUserNotFound)
		}
		return nil, err
	}
	return user, nil
}

// Create stores a user whose password is already hashed. Usernames are
// compared exactly, case included.
func (s *service) Create(ctx context.Context, username, email string, password Password) (*User, error) {
	user := &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: password.Hash,
		PasswordSalt: password.Salt,
		CreatedAt:    time.Now().UTC(),
	}

	err := s.db.InTx(ctx, "create user", func(ctx context.Context) error {
		_, err := s.findByUsername(ctx, username)
		switch {
		case err == nil:
			return ErrUsernameTaken
		case !errors.Is(err, ErrUserNotFound):
			return err
		}

		q := s.db.Builder().Insert("users").Rows(goqu.Record{
			"id":            user.ID,
			"username":      user.Username,
			"email":         user.Email,
			"password_hash": user.PasswordHash,
			"password_salt": user.PasswordSalt,
			"created_at":    user.CreatedAt,
		}).Prepared(true)
		_, err = s.db.Exec(ctx, "insert user", q)
		// Two registrations can pass the lookup together; the unique index decides.
		if fault.Is(err, fault.Conflict) {
			return ErrUsernameTaken
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Register hashes password and creates the user.
func (s *service) Register(ctx context.Context, username, password, email string) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.Create(ctx, username, email, hashed)
	if err != nil {
		s.logger.Warn().Err(err).Str("username", username).Msg("registration rejected")
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID.String()).Str("username", username).Msg("user registered")
	return user, nil
}

// Authenticate checks that email, username and password all belong to the
// same user and returns a signed token for them.
func (s *service) Authenticate(ctx context.Context, email, username, password string) (string, error) {
	if !s.rateLimiter.Allow() {
		return "", ErrRateLimited
	}

	user, err := s.findByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger.Warn().Str("username", username).Msg("login for unknown user")
			return "", ErrInvalidLogin
		}
		return "", fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, Password{Hash: user.PasswordHash, Salt: user.PasswordSalt})
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	if !ok || user.Email != email {
		s.logger.Warn().Str("user_id", user.ID.String()).Msg("login with wrong credentials")
		return "", ErrInvalidLogin
	}

	token, err := s.tokens.Issue(user.ID.String())
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID.String()).Msg("user logged in")
	return token, nil
}
