package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pneumoscan/pneumoscan/internal/auth"
	"github.com/pneumoscan/pneumoscan/internal/model"
	"github.com/pneumoscan/pneumoscan/internal/repository"
)

type fakeIssuer struct {
	err error
}

func (f *fakeIssuer) Issue(user *model.User) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return "token-for-" + user.Username, time.Unix(1_800_000_000, 0), nil
}

func newAccountService(t *testing.T) (*AccountService, *repository.Memory) {
	t.Helper()
	store := repository.NewMemory()
	return NewAccountService(store, &fakeIssuer{}, nil), store
}

func TestSignup_Success(t *testing.T) {
	t.Parallel()
	svc, store := newAccountService(t)

	res, err := svc.Signup(context.Background(), SignupInput{
		Username: "  alice  ",
		Email:    "alice@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.Equal(t, "token-for-alice", res.Token)
	require.Equal(t, "alice", res.User.Username)
	require.NotEmpty(t, res.User.Sub)

	stored, err := store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse", stored.PasswordHash)
	ok, err := auth.VerifyPassword("correct horse", stored.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignup_DuplicateNeverOverwrites(t *testing.T) {
	t.Parallel()
	svc, store := newAccountService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, SignupInput{Username: "alice", Email: "alice@example.com", Password: "password-one"})
	require.NoError(t, err)

	_, err = svc.Signup(ctx, SignupInput{Username: "alice", Email: "mallory@example.com", Password: "password-two"})
	require.ErrorIs(t, err, ErrUsernameTaken)

	stored, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", stored.Email)
}

func TestSignup_Validation(t *testing.T) {
	t.Parallel()
	svc, _ := newAccountService(t)

	tests := []struct {
		name    string
		input   SignupInput
		wantErr error
	}{
		{"short username", SignupInput{Username: "al", Email: "a@example.com", Password: "password1"}, ErrInvalidUsername},
		{"username with space", SignupInput{Username: "al ice", Email: "a@example.com", Password: "password1"}, ErrInvalidUsername},
		{"long username", SignupInput{Username: strings.Repeat("a", 65), Email: "a@example.com", Password: "password1"}, ErrInvalidUsername},
		{"missing email", SignupInput{Username: "alice", Password: "password1"}, ErrInvalidEmail},
		{"bad email", SignupInput{Username: "alice", Email: "not-an-email", Password: "password1"}, ErrInvalidEmail},
		{"display name email", SignupInput{Username: "alice", Email: "Alice <a@example.com>", Password: "password1"}, ErrInvalidEmail},
		{"short password", SignupInput{Username: "alice", Email: "a@example.com", Password: "short"}, ErrWeakPassword},
		{"long password", SignupInput{Username: "alice", Email: "a@example.com", Password: strings.Repeat("p", 129)}, ErrWeakPassword},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Signup(context.Background(), tt.input)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignup_IssuerFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("signing failed")
	svc := NewAccountService(repository.NewMemory(), &fakeIssuer{err: boom}, nil)

	_, err := svc.Signup(context.Background(), SignupInput{Username: "alice", Email: "a@example.com", Password: "password1"})
	require.ErrorIs(t, err, boom)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	svc, store := newAccountService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, SignupInput{Username: "alice", Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)

	require.NoError(t, store.CreateUser(ctx, &model.User{Username: "federated", Email: "f@example.com", Sub: "cognito-sub"}))

	res, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	require.Equal(t, "token-for-alice", res.Token)
	require.Equal(t, "alice@example.com", res.User.Email)

	tests := []struct {
		name  string
		input LoginInput
	}{
		{"wrong password", LoginInput{Username: "alice", Password: "wrong horse"}},
		{"unknown user", LoginInput{Username: "bob", Password: "correct horse"}},
		{"no local password", LoginInput{Username: "federated", Password: "anything1"}},
		{"empty password", LoginInput{Username: "alice"}},
		{"empty username", LoginInput{Password: "correct horse"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.input)
			require.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}
