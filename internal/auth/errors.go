package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrInvalidCredentials is the only login failure callers ever see.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is matched by every TokenError.
	ErrInvalidToken = errors.New("invalid token")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrInvalidTokenPayload  = errors.New("invalid token payload")
	ErrUserNotFound         = errors.New("user not found")
)

// FailureReason explains why a credential verifier rejected a login.
type FailureReason string

const (
	FailureNotFound       FailureReason = "not_found"
	FailureBadCredentials FailureReason = "bad_credentials"
)

// AuthFailure is returned by credential verifiers. It is flattened into
// ErrInvalidCredentials before leaving the auth service.
type AuthFailure struct {
	Reason FailureReason
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthFailure) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// TokenReason classifies token verification failures.
type TokenReason string

const (
	TokenExpired           TokenReason = "expired"
	TokenMalformed         TokenReason = "malformed"
	TokenSignatureMismatch TokenReason = "signature_mismatch"
	TokenRevoked           TokenReason = "revoked"
)

// TokenError reports a failed token verification.
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid token (%s)", e.Reason)
}

func (e *TokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

func (e *TokenError) Unwrap() error { return e.Err }

func tokenError(reason TokenReason, err error) error {
	return &TokenError{Reason: reason, Err: err}
}

// FailureReasonOf extracts the verifier failure reason, if any.
func FailureReasonOf(err error) (FailureReason, bool) {
	var af *AuthFailure
	if errors.As(err, &af) {
		return af.Reason, true
	}
	return "", false
}

// TokenReasonOf extracts the token failure reason, if any.
func TokenReasonOf(err error) (TokenReason, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Reason, true
	}
	return "", false
}
