package services

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrSessionExpired         = errors.New("registration session expired")
	ErrChallengeExpired       = errors.New("verification code expired")
	ErrInvalidCode            = errors.New("invalid verification code")
	ErrTooManyAttempts        = errors.New("too many wrong verification codes")
	ErrInvalidOrExpiredToken  = errors.New("invalid or expired token")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrValidation             = errors.New("validation failed")
)

// ValidationError carries per-field messages. errors.Is(err, ErrValidation) holds.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
