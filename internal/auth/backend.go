package auth

import (
	"context"
	"errors"
	"fmt"
)

// Backend is the external users API as seen by the login state machine.
// Implementations must return *BackendError for every failure so the machine
// can tell rejections from transport problems.
type Backend interface {
	// VerifyCredentials checks the password and asks the backend to email a
	// one-time code.
	VerifyCredentials(ctx context.Context, email, password string) error
	// ConfirmCode exchanges the one-time code for a grant carrying the
	// authoritative principal, role flags included. The grant is not yet
	// bound to the browser session.
	ConfirmCode(ctx context.Context, email, code string) (*Grant, error)
	// Commit binds a grant to the browser session.
	Commit(ctx context.Context, grant *Grant) error
	// Discard revokes a grant that will never be committed.
	Discard(ctx context.Context, grant *Grant) error
	ResendCode(ctx context.Context, email string) error
	// CurrentSession returns the principal of the existing remote session,
	// or nil when there is none.
	CurrentSession(ctx context.Context) (*Principal, error)
	Logout(ctx context.Context) error
}

// Grant is a confirmed sign-in that has not been committed yet.
type Grant struct {
	Principal *Principal
	Token     string
}

type FailureKind int

const (
	// FailureRejected means the backend answered and refused the request.
	FailureRejected FailureKind = iota
	// FailureTransport means no usable answer arrived: network error,
	// timeout, 5xx or an undecodable body.
	FailureTransport
)

func (k FailureKind) String() string {
	if k == FailureTransport {
		return "transport"
	}
	return "rejected"
}

type BackendError struct {
	Kind       FailureKind
	StatusCode int
	// Message is the backend's own explanation, safe to show to the user.
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func Rejected(status int, message string) *BackendError {
	return &BackendError{Kind: FailureRejected, StatusCode: status, Message: message}
}

func Transport(err error) *BackendError {
	return &BackendError{Kind: FailureTransport, Err: err}
}

// failureOf classifies err; anything that is not a *BackendError counts as a
// transport failure.
func failureOf(err error) (FailureKind, string) {
	var be *BackendError
	if errors.As(err, &be) {
		if be.Kind == FailureRejected {
			return FailureRejected, be.Message
		}
		return FailureTransport, ""
	}
	return FailureTransport, ""
}
