package model

import "time"

// User is an account known to the identity store.
// Local accounts carry a password hash; accounts mirrored from the
// identity provider carry its subject identifier instead.
type User struct {
	Username     string    `json:"username" dynamodbav:"username"`
	Email        string    `json:"email" dynamodbav:"email"`
	PasswordHash string    `json:"-" dynamodbav:"passwordHash,omitempty"`
	Sub          string    `json:"sub,omitempty" dynamodbav:"sub,omitempty"`
	CreatedAt    time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	Username string
	Email    string
	Sub      string

	// Key names the caller's prediction history. It is Username for the
	// identity provider and carries a prefix for locally issued tokens.
	Key string
}

// StoreKey returns Key, falling back to Username when no key was assigned.
func (id *Identity) StoreKey() string {
	if id.Key != "" {
		return id.Key
	}
	return id.Username
}
