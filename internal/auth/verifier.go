package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

var (
	// ErrMissingToken indicates the request carried no bearer token.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken indicates the token failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// usernameClaims lists the claims that may carry the username, in priority
// order. Cognito ID tokens use cognito:username, access tokens use username.
var usernameClaims = []string{"cognito:username", "username", "email", "sub"}

// LocalNamespace prefixes the history key of accounts signed up through
// this service.
const LocalNamespace = "local:"

// Verifier validates RS256 bearer tokens and extracts the caller identity.
type Verifier struct {
	keys       jwt.Keyfunc
	parser     *jwt.Parser
	issuers    map[string]struct{}
	namespaces map[string]string
	logger     *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithNamespace keys callers of issuer by prefix+username. Tokens from any
// other issuer whose username starts with prefix are rejected.
func WithNamespace(issuer, prefix string) VerifierOption {
	return func(v *Verifier) {
		v.namespaces[issuer] = prefix
	}
}

// NewVerifier creates a Verifier that accepts tokens signed by keys and
// issued by one of issuers. An empty issuers list accepts any issuer.
func NewVerifier(keys *KeySet, issuers []string, logger *slog.Logger, opts ...VerifierOption) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(issuers))
	for _, iss := range issuers {
		allowed[iss] = struct{}{}
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	v := &Verifier{
		keys:       keys.Keyfunc,
		parser:     parser,
		issuers:    allowed,
		namespaces: make(map[string]string),
		logger:     logger.With("component", "auth"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks signature, algorithm, expiry and issuer, then resolves the
// username. It holds no per-request state.
func (v *Verifier) Verify(ctx context.Context, raw string) (*model.Identity, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	iss, _ := claims.GetIssuer()
	if len(v.issuers) > 0 {
		if _, ok := v.issuers[iss]; !ok {
			return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, iss)
		}
	}

	username := UsernameFromClaims(claims)
	if username == "" {
		return nil, fmt.Errorf("%w: no username claim", ErrInvalidToken)
	}

	key, err := v.storeKey(iss, username)
	if err != nil {
		return nil, err
	}

	id := &model.Identity{
		Username: username,
		Email:    stringClaim(claims, "email"),
		Sub:      stringClaim(claims, "sub"),
		Key:      key,
	}
	v.logger.DebugContext(ctx, "token verified", "username", id.Username, "key", id.Key)
	return id, nil
}

// storeKey places username in the namespace of iss. A username that would
// land in another issuer's namespace is refused.
func (v *Verifier) storeKey(iss, username string) (string, error) {
	if prefix, ok := v.namespaces[iss]; ok {
		return prefix + username, nil
	}
	for other, prefix := range v.namespaces {
		if strings.HasPrefix(username, prefix) {
			return "", fmt.Errorf("%w: username reserved for issuer %q", ErrInvalidToken, other)
		}
	}
	return username, nil
}

// UsernameFromClaims returns the first non-empty username claim.
func UsernameFromClaims(claims jwt.MapClaims) string {
	for _, name := range usernameClaims {
		if s := stringClaim(claims, name); s != "" {
			return s
		}
	}
	return ""
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}
