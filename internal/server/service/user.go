package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"satchel/internal/server/auth"
	"satchel/internal/server/database"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrWeakCredentials    = errors.New("username must be 3-64 chars and password at least 8")
)

// UserStore is the slice of the user repository the user service uses.
type UserStore interface {
	Create(ctx context.Context, user *database.User) error
	GetByUsername(ctx context.Context, username string) (*database.User, error)
}

// UserService handles account registration and login. Tokens issued here are
// the only credential the file endpoints accept.
type UserService struct {
	users  UserStore
	tokens *auth.TokenManager
}

// NewUserService creates a new user service.
func NewUserService(users UserStore, tokens *auth.TokenManager) *UserService {
	return &UserService{users: users, tokens: tokens}
}

// Register creates an account with a bcrypt-hashed password.
func (s *UserService) Register(ctx context.Context, username, password string) (*database.User, error) {
	if len(username) < 3 || len(username) > 64 || len(password) < 8 {
		return nil, ErrWeakCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

// Login verifies the password and issues a bearer token.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return token, nil
}
