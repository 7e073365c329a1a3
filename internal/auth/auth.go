package auth

import (
	"errors"
	"time"

	"github.com/frahmantamala/payment-dashboard/internal/permission"
)

// State is the logical step of the two-factor login.
type State int

const (
	StateLoggedOut State = iota
	StateAwaitingCode
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Principal is the authenticated identity as reported by the users API.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	IsActive    bool   `json:"is_active"`
	IsVerified  bool   `json:"is_verified"`
	IsBlocked   bool   `json:"is_blocked"`
}

// Role derives the dashboard role; a nil principal is a visitor.
func (p *Principal) Role() permission.Role {
	if p == nil {
		return permission.RoleVisitor
	}
	return permission.RoleFromFlags(p.IsSuperuser, p.IsStaff)
}

func (p *Principal) clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// DefaultResendCooldown is the wait between one-time-code dispatches.
const DefaultResendCooldown = 60 * time.Second

// CodeLength is the number of digits of a one-time code.
const CodeLength = 6

// User-facing messages. Backend rejections replace the generic ones when the
// backend supplies its own text.
const (
	MsgLoginFailed        = "Unable to sign in. Please check your email and password."
	MsgConfirmFailed      = "Unable to verify the code. Please try again."
	MsgResendFailed       = "Unable to send a new code. Please try again."
	MsgCodeIncomplete     = "Please enter all 6 digits"
	MsgCodeNotNumeric     = "The code must contain digits only"
	MsgNoPendingLogin     = "There is no sign-in waiting for a code"
	MsgAlreadySignedIn    = "You are already signed in"
	MsgEmailMismatch      = "The email does not match the pending sign-in"
	MsgResendCoolingDown  = "Please wait before requesting a new code"
	MsgCodePending        = "A sign-in is already waiting for a code"
	MsgEmailRequired      = "email is required"
	MsgPasswordRequired   = "password is required"
	MsgInvalidEmailFormat = "email is not a valid address"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
