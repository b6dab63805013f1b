// Package service provides business logic for the application.
package service

import "errors"

// Service errors.
var (
	// Upload errors
	ErrNoFile       = errors.New("no image file uploaded")
	ErrInvalidImage = errors.New("image could not be processed")

	// Account errors
	ErrInvalidUsername    = errors.New("username must be 3-64 characters of letters, digits, '.', '_' or '-'")
	ErrInvalidEmail       = errors.New("email address is invalid")
	ErrWeakPassword       = errors.New("password must be 8-128 characters")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)
