// Package users implements account registration, login and lookup.
package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kjstillabower/weather-records-service/internal/apperror"
	"github.com/kjstillabower/weather-records-service/internal/auth"
	"github.com/kjstillabower/weather-records-service/internal/models"
	"github.com/kjstillabower/weather-records-service/internal/observability"
)

// ErrInvalidCredentials is returned by Login for an unknown email or wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service registers and authenticates users.
type Service struct {
	repo   Repository
	tokens *auth.TokenManager
	cost   int
	logger *zap.Logger
}

// NewService creates a Service. bcryptCost of zero uses bcrypt.DefaultCost.
func NewService(repo Repository, tokens *auth.TokenManager, bcryptCost int, logger *zap.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, tokens: tokens, cost: bcryptCost, logger: logger}
}

// Register creates an account. A taken email is a ValidationError.
func (s *Service) Register(ctx context.Context, email, password string) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return models.User{}, apperror.Validation("password", "must be at most 72 bytes")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.repo.Create(ctx, email, string(hash))
	if errors.Is(err, ErrEmailTaken) {
		return models.User{}, apperror.Validation("email", "Email already in use")
	}
	if err != nil {
		return models.User{}, apperror.Store("create_user", err)
	}
	observability.LoggerFromContext(ctx, s.logger).Info("user registered", zap.String("user_id", u.ID))
	return u, nil
}

// Login checks credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	u, ok, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", apperror.Store("find_user", err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.tokens.Issue(u.ID)
}

// Get returns the user with id.
func (s *Service) Get(ctx context.Context, id string) (models.User, error) {
	u, ok, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return models.User{}, apperror.Store("find_user", err)
	}
	if !ok {
		return models.User{}, apperror.NotFound("User not found")
	}
	return u, nil
}
