package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

const (
	testRegion   = "us-east-1"
	testUserPool = "us-east-1_TestPool"
	testLocalIss = "pneumoscan"
	cognitoKeyID = "cognito-key-1"
)

var (
	keysOnce   sync.Once
	localKey   *rsa.PrivateKey
	cognitoKey *rsa.PrivateKey
	strayKey   *rsa.PrivateKey
)

func testKeys(t *testing.T) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		if localKey, err = GenerateKey(); err != nil {
			panic(err)
		}
		if cognitoKey, err = GenerateKey(); err != nil {
			panic(err)
		}
		if strayKey, err = GenerateKey(); err != nil {
			panic(err)
		}
	})
}

func jwksJSON(t *testing.T, kid string, pub *rsa.PublicKey) json.RawMessage {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

type verifierFixture struct {
	verifier *Verifier
	issuer   *Issuer
}

func newVerifierFixture(t *testing.T) verifierFixture {
	t.Helper()
	testKeys(t)

	remote, err := keyfunc.NewJWKSetJSON(jwksJSON(t, cognitoKeyID, &cognitoKey.PublicKey))
	require.NoError(t, err)

	issuer, err := NewIssuer(localKey, testLocalIss, time.Hour)
	require.NoError(t, err)

	keys := NewKeySet(remote, issuer)
	v := NewVerifier(keys, []string{CognitoIssuer(testRegion, testUserPool), testLocalIss}, nil,
		WithNamespace(testLocalIss, LocalNamespace))
	return verifierFixture{verifier: v, issuer: issuer}
}

func cognitoToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	testKeys(t)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = cognitoKeyID
	signed, err := token.SignedString(cognitoKey)
	require.NoError(t, err)
	return signed
}

func cognitoClaims(extra jwt.MapClaims) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": CognitoIssuer(testRegion, testUserPool),
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return claims
}

func TestVerifier_LocalToken(t *testing.T) {
	t.Parallel()
	f := newVerifierFixture(t)

	token, _, err := f.issuer.Issue(&model.User{Username: "alice", Email: "alice@example.com", Sub: "sub-1"})
	require.NoError(t, err)

	id, err := f.verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, &model.Identity{
		Username: "alice",
		Email:    "alice@example.com",
		Sub:      "sub-1",
		Key:      "local:alice",
	}, id)
}

func TestVerifier_CognitoToken(t *testing.T) {
	t.Parallel()
	f := newVerifierFixture(t)

	token := cognitoToken(t, cognitoClaims(jwt.MapClaims{
		"cognito:username": "bob",
		"email":            "bob@example.com",
		"sub":              "c0ffee",
	}))

	id, err := f.verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "bob", id.Username)
	require.Equal(t, "bob@example.com", id.Email)
	require.Equal(t, "c0ffee", id.Sub)
	require.Equal(t, "bob", id.Key)
}

func TestVerifier_NamespacesDoNotOverlap(t *testing.T) {
	t.Parallel()
	f := newVerifierFixture(t)

	local, _, err := f.issuer.Issue(&model.User{Username: "alice"})
	require.NoError(t, err)
	localID, err := f.verifier.Verify(context.Background(), local)
	require.NoError(t, err)

	remoteID, err := f.verifier.Verify(context.Background(), cognitoToken(t, cognitoClaims(jwt.MapClaims{"cognito:username": "alice"})))
	require.NoError(t, err)

	require.Equal(t, localID.Username, remoteID.Username)
	require.NotEqual(t, localID.StoreKey(), remoteID.StoreKey())

	// A provider username must not reach into the local namespace.
	_, err = f.verifier.Verify(context.Background(), cognitoToken(t, cognitoClaims(jwt.MapClaims{"cognito:username": "local:alice"})))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_UsernamePriority(t *testing.T) {
	t.Parallel()
	f := newVerifierFixture(t)

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{
			name:   "cognito username wins",
			claims: jwt.MapClaims{"cognito:username": "c", "username": "u", "email": "e@x", "sub": "s"},
			want:   "c",
		},
		{
			name:   "username before email",
			claims: jwt.MapClaims{"username": "u", "email": "e@x", "sub": "s"},
			want:   "u",
		},
		{
			name:   "email before sub",
			claims: jwt.MapClaims{"email": "e@x", "sub": "s"},
			want:   "e@x",
		},
		{
			name:   "sub last",
			claims: jwt.MapClaims{"sub": "s"},
			want:   "s",
		},
		{
			name:   "empty values are skipped",
			claims: jwt.MapClaims{"cognito:username": "", "username": "u"},
			want:   "u",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, UsernameFromClaims(tt.claims))

			id, err := f.verifier.Verify(context.Background(), cognitoToken(t, cognitoClaims(tt.claims)))
			require.NoError(t, err)
			require.Equal(t, tt.want, id.Username)
		})
	}
}

func TestVerifier_MissingToken(t *testing.T) {
	t.Parallel()
	f := newVerifierFixture(t)

	_, err := f.verifier.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestVerifier_Rejects(t *testing.T) {
	t.Parallel()
	f := newVerifierFixture(t)
	testKeys(t)

	hs256 := func() string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, cognitoClaims(jwt.MapClaims{"username": "mallory"}))
		token.Header["kid"] = f.issuer.KeyID()
		signed, err := token.SignedString([]byte("shared-secret"))
		require.NoError(t, err)
		return signed
	}

	none := func() string {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, cognitoClaims(jwt.MapClaims{"username": "mallory"}))
		token.Header["kid"] = cognitoKeyID
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		return signed
	}

	signedBy := func(key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		if kid != "" {
			token.Header["kid"] = kid
		}
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	expired := cognitoClaims(jwt.MapClaims{"username": "u"})
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	noExp := cognitoClaims(jwt.MapClaims{"username": "u"})
	delete(noExp, "exp")

	wrongIss := cognitoClaims(jwt.MapClaims{"username": "u"})
	wrongIss["iss"] = "https://evil.example.com"

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not.a.jwt"},
		{name: "hs256", token: hs256()},
		{name: "alg none", token: none()},
		{name: "expired", token: cognitoToken(t, expired)},
		{name: "missing exp", token: cognitoToken(t, noExp)},
		{name: "wrong issuer", token: cognitoToken(t, wrongIss)},
		{name: "no username claims", token: cognitoToken(t, cognitoClaims(nil))},
		{name: "unknown kid", token: signedBy(strayKey, "stray", cognitoClaims(jwt.MapClaims{"username": "u"}))},
		{name: "missing kid", token: signedBy(cognitoKey, "", cognitoClaims(jwt.MapClaims{"username": "u"}))},
		{name: "wrong key for kid", token: signedBy(strayKey, cognitoKeyID, cognitoClaims(jwt.MapClaims{"username": "u"}))},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, err := f.verifier.Verify(context.Background(), tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
			require.Nil(t, id)
		})
	}
}

func TestVerifier_LocalOnlyKeySet(t *testing.T) {
	t.Parallel()
	testKeys(t)

	issuer, err := NewIssuer(localKey, testLocalIss, time.Hour)
	require.NoError(t, err)
	v := NewVerifier(NewKeySet(nil, issuer), []string{testLocalIss}, nil)

	_, err = v.Verify(context.Background(), cognitoToken(t, cognitoClaims(jwt.MapClaims{"username": "u"})))
	require.ErrorIs(t, err, ErrInvalidToken)
}
