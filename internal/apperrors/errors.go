package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Login failures are uniform on purpose: the caller must not be able
	// to tell an unknown user from a wrong password
	ErrInvalidCredentials = errors.New("invalid credentials")

	// User has no role assigned, so access token can't be issued
	ErrNoRoleAssigned = errors.New("no role assigned to user")

	ErrMalformedToken = errors.New("malformed token")
	ErrSigningFailed  = errors.New("token signing failed")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenIsUsed   = errors.New("refresh token is used")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")

	// Uniform refresh rejection
	// The coordinator never reveals which check failed
	ErrRefreshFailed = errors.New("refresh failed")
)
