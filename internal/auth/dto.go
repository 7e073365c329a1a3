package auth

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// LoginDTO is the first-step payload: credentials.
type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ConfirmLoginDTO is the second-step payload: the emailed one-time code.
type ConfirmLoginDTO struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type ResendCodeDTO struct {
	Email string `json:"email"`
}

// ValidationError represents a local validation failure. It never reaches
// the backend.
type ValidationError struct {
	Msg string
}

func (v ValidationError) Error() string { return v.Msg }

// Validate checks required fields and returns a ValidationError on failure.
func (d LoginDTO) Validate() error {
	if err := validateEmail(d.Email); err != nil {
		return err
	}
	if d.Password == "" {
		return ValidationError{Msg: MsgPasswordRequired}
	}
	return nil
}

func (d ConfirmLoginDTO) Validate() error {
	return ValidateCode(d.Code)
}

func (d ResendCodeDTO) Validate() error {
	if strings.TrimSpace(d.Email) == "" {
		return nil
	}
	return validateEmail(d.Email)
}

// ValidateCode accepts exactly six ASCII digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ValidationError{Msg: MsgCodeIncomplete}
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ValidationError{Msg: MsgCodeNotNumeric}
		}
	}
	return nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Msg: MsgEmailRequired}
	}
	if err := validate.Var(email, "email"); err != nil {
		return ValidationError{Msg: MsgInvalidEmailFormat}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
