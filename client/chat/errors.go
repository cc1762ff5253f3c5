package chat

import "errors"

// MalformedMessageError is reported when an incoming chat payload lacks a
// required field or carries one of the wrong type. The message is still
// normalized and stored.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return "malformed chat message: " + e.Reason
}

func IsMalformedMessageError(err error) bool {
	var target *MalformedMessageError
	return errors.As(err, &target)
}
