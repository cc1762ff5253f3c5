package session

import (
	"errors"
	"fmt"
)

// TransportError is returned when the channel to the server cannot be established.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError is returned when credential acquisition failed. The session
// still connects, anonymously.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("failed to acquire credential, continuing anonymously: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when a local argument is rejected. Nothing is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotConnectedError is returned by mutating calls made while offline.
// The operation is not queued or retried.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("cannot %s: not connected", e.Op)
}

func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotConnectedError(err error) bool {
	var target *NotConnectedError
	return errors.As(err, &target)
}
