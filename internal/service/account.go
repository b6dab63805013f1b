package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pneumoscan/pneumoscan/internal/auth"
	"github.com/pneumoscan/pneumoscan/internal/model"
	"github.com/pneumoscan/pneumoscan/internal/repository"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	maxEmailLength    = 254
)

// TokenIssuer signs access tokens for local accounts.
type TokenIssuer interface {
	Issue(user *model.User) (string, time.Time, error)
}

// AccountService handles local signup and login.
type AccountService struct {
	users  repository.UserStore
	issuer TokenIssuer
	logger *slog.Logger
	now    func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(users repository.UserStore, issuer TokenIssuer, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		users:  users,
		issuer: issuer,
		logger: logger.With("component", "account_service"),
		now:    time.Now,
	}
}

// SignupInput defines input for creating an account.
type SignupInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput defines input for logging in.
type LoginInput struct {
	Username string
	Password string
}

// AuthResult is a freshly issued token with its account.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Signup creates an account and returns a token for it. An existing
// username is never overwritten.
func (s *AccountService) Signup(ctx context.Context, input SignupInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)

	if err := validateSignup(username, email, input.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Sub:          uuid.NewString(),
		CreatedAt:    s.now().UTC(),
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.InfoContext(ctx, "account created", "username", user.Username)
	return s.issue(user)
}

// Login checks credentials and returns a token.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			auth.BurnPasswordCheck(input.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	// Accounts mirrored from the identity provider have no local password.
	if user.PasswordHash == "" {
		auth.BurnPasswordCheck(input.Password)
		return nil, ErrInvalidCredentials
	}

	ok, err := auth.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *AccountService) issue(user *model.User) (*AuthResult, error) {
	token, expiresAt, err := s.issuer.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func validateSignup(username, email, password string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}

	if email == "" || len(email) > maxEmailLength {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}

	if n := len([]rune(password)); n < minPasswordLength || n > maxPasswordLength {
		return ErrWeakPassword
	}
	return nil
}
