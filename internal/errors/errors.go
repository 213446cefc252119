package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Session errors
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")
	ErrNoRefreshToken = errors.New("no refresh token")

	// Backend errors
	ErrRefreshFailed  = errors.New("refresh failed")
	ErrSignOutFailed  = errors.New("sign out failed")
	ErrInvalidIDToken = errors.New("invalid id token")
	ErrInvalidState   = errors.New("invalid state")

	// Lifecycle errors
	ErrUnmounted = errors.New("store unmounted")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
