package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pneumoscan/pneumoscan/internal/auth"
	"github.com/pneumoscan/pneumoscan/internal/repository"
	"github.com/pneumoscan/pneumoscan/internal/service"
)

type output struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	KeyID     string    `json:"key_id"`
	KeyFile   string    `json:"key_file"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		keyFile     = flag.String("key-file", os.Getenv("TOKEN_SIGNING_KEY_FILE"), "PEM signing key; created when missing")
		issuerName  = flag.String("issuer", envOr("TOKEN_ISSUER", "pneumoscan"), "Token issuer")
		ttl         = flag.Duration("ttl", time.Hour, "Token lifetime")
		username    = flag.String("username", "", "Account username")
		email       = flag.String("email", "", "Account email")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	password := os.Getenv("BOOTSTRAP_PASSWORD")
	switch {
	case *databaseURL == "":
		fail("DATABASE_URL is required")
	case *keyFile == "":
		fail("TOKEN_SIGNING_KEY_FILE is required")
	case *username == "" || *email == "":
		fail("-username and -email are required")
	case password == "":
		fail("BOOTSTRAP_PASSWORD is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, err := loadOrCreateKey(*keyFile)
	if err != nil {
		fail("signing key:", err)
	}
	issuer, err := auth.NewIssuer(key, *issuerName, *ttl)
	if err != nil {
		fail("issuer:", err)
	}

	store, err := repository.NewPostgres(ctx, *databaseURL)
	if err != nil {
		fail("connect database:", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		fail("migrate database:", err)
	}

	accounts := service.NewAccountService(store, issuer, nil)
	res, err := accounts.Signup(ctx, service.SignupInput{
		Username: *username,
		Email:    *email,
		Password: password,
	})
	if errors.Is(err, service.ErrUsernameTaken) {
		res, err = accounts.Login(ctx, service.LoginInput{Username: *username, Password: password})
	}
	if err != nil {
		fail("bootstrap account:", err)
	}

	out := output{
		Username:  res.User.Username,
		Email:     res.User.Email,
		KeyID:     issuer.KeyID(),
		KeyFile:   *keyFile,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Token)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fail("invalid format; use plain or json")
	}
}

// loadOrCreateKey reads the PEM key at path, writing a new PKCS#8 key there
// first if the file does not exist.
func loadOrCreateKey(path string) (*rsa.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return auth.LoadKeyFile(path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err := auth.GenerateKey()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close key file: %w", err)
	}
	return key, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(1)
}
