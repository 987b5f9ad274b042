// Package errs holds the error categories shared by services and the HTTP layer.
package errs

import "errors"

var (
	// ErrNotFound means the entity does not exist for the requesting principal.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a unique constraint would be violated.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput means a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized means authentication failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Error carries a client-facing message and the category it belongs to.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Message returns the client-facing text of err when it is (or wraps) an *Error.
func Message(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}
