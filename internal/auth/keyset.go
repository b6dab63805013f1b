package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Key resolution errors.
var (
	ErrMissingKeyID = errors.New("token header has no kid")
	ErrUnknownKeyID = errors.New("no key for kid")
)

// CognitoIssuer returns the iss claim of tokens minted by a user pool.
func CognitoIssuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// CognitoJWKSURL returns the JWKS location of a user pool.
func CognitoJWKSURL(region, userPoolID string) string {
	return CognitoIssuer(region, userPoolID) + "/.well-known/jwks.json"
}

// RemoteKeys resolves keys from a published JWKS. keyfunc.Keyfunc
// satisfies it.
type RemoteKeys interface {
	Keyfunc(token *jwt.Token) (any, error)
}

// KeySet resolves verification keys by kid: local issuer keys first, then
// the remote JWKS.
type KeySet struct {
	local  map[string]*rsa.PublicKey
	remote RemoteKeys
}

// NewKeySet creates a KeySet. remote may be nil when only local tokens are
// accepted.
func NewKeySet(remote RemoteKeys, issuers ...*Issuer) *KeySet {
	local := make(map[string]*rsa.PublicKey, len(issuers))
	for _, iss := range issuers {
		local[iss.KeyID()] = iss.PublicKey()
	}
	return &KeySet{local: local, remote: remote}
}

// Keyfunc implements jwt.Keyfunc.
func (k *KeySet) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, ErrMissingKeyID
	}
	if key, ok := k.local[kid]; ok {
		return key, nil
	}
	if k.remote == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownKeyID, kid)
	}
	return k.remote.Keyfunc(token)
}
