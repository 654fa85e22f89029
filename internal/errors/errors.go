package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session core
var (
	// Transport errors
	ErrNetwork        = errors.New("network error")
	ErrRequestTimeout = errors.New("request timed out")

	// Authorization errors
	ErrAuthorizationExpired = errors.New("authorization expired")
	ErrAuthorizationRevoked = errors.New("authorization revoked")
	ErrNoCredentials        = errors.New("no credentials available")

	// Second-factor errors
	ErrChallengeRejected = errors.New("challenge code rejected")
	ErrChallengeExpired  = errors.New("challenge ticket expired")

	// Session errors
	ErrNotAnonymous     = errors.New("session is not anonymous")
	ErrNoPendingFactor  = errors.New("no second-factor challenge pending")
	ErrNotAuthenticated = errors.New("session is not authenticated")

	// Tenant errors
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrUnauthorizedTenant = errors.New("unauthorized for tenant")

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
