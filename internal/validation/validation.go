// Package validation checks the shape of sign-in, sign-up and profile update
// payloads. Expected failures are returned as FieldErrors, never as panics.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
)

// Field names as they appear in FieldErrors.
const (
	FieldName            = "name"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
	FieldGeneral         = "general"
)

const (
	msgEmail    = "Please enter a valid email address"
	msgMismatch = "Passwords don't match"
	msgPhone    = "Please enter a valid phone number"
	msgURL      = "Please enter a valid URL"
)

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// Mode selects which form is being validated.
type Mode int

const (
	ModeSignIn Mode = iota
	ModeSignUp
)

func (m Mode) String() string {
	if m == ModeSignUp {
		return "signup"
	}
	return "signin"
}

// Form is the raw payload as typed by the user.
type Form struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Credentials is implemented only by SignInCredentials and SignUpCredentials.
type Credentials interface {
	Mode() Mode
	isCredentials()
}

type SignInCredentials struct {
	Email    string `json:"email" validate:"email"`
	Password string `json:"password" validate:"min=6"`
}

func (SignInCredentials) Mode() Mode { return ModeSignIn }
func (SignInCredentials) isCredentials() {}

// SignUpCredentials checks the password match before the length so that a
// mismatch is the message reported on confirmPassword.
type SignUpCredentials struct {
	Name            string `json:"name" validate:"min=2"`
	Email           string `json:"email" validate:"email"`
	Password        string `json:"password" validate:"min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password,min=6"`
}

func (SignUpCredentials) Mode() Mode { return ModeSignUp }
func (SignUpCredentials) isCredentials() {}

// FieldErrors maps a field name to a human readable message. An empty
// message means the field has no error.
type FieldErrors map[string]string

// HasErrors reports whether any field carries a non-empty message.
func (f FieldErrors) HasErrors() bool {
	for _, msg := range f {
		if msg != "" {
			return true
		}
	}
	return false
}

// Clone returns an independent copy; nil stays nil.
func (f FieldErrors) Clone() FieldErrors {
	if f == nil {
		return nil
	}
	out := make(FieldErrors, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Validate runs the full-form pass for mode. On success the returned
// FieldErrors is nil; on failure Credentials is nil.
func Validate(mode Mode, form Form) (Credentials, FieldErrors) {
	if mode == ModeSignUp {
		creds, errs := ValidateSignUp(form)
		if errs != nil {
			return nil, errs
		}
		return creds, nil
	}
	creds, errs := ValidateSignIn(form)
	if errs != nil {
		return nil, errs
	}
	return creds, nil
}

func ValidateSignIn(form Form) (SignInCredentials, FieldErrors) {
	creds := SignInCredentials{
		Email:    strings.TrimSpace(form.Email),
		Password: form.Password,
	}
	return creds, check(creds)
}

func ValidateSignUp(form Form) (SignUpCredentials, FieldErrors) {
	creds := SignUpCredentials{
		Name:            strings.TrimSpace(form.Name),
		Email:           strings.TrimSpace(form.Email),
		Password:        form.Password,
		ConfirmPassword: form.ConfirmPassword,
	}
	return creds, check(creds)
}

// PasswordResetRequest names the account a reset link is sent to.
type PasswordResetRequest struct {
	Email string `json:"email" validate:"email"`
}

// NewPassword is the password chosen when completing a reset.
type NewPassword struct {
	Password        string `json:"password" validate:"min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password,min=6"`
}

// ValidatePasswordReset checks only the email of form.
func ValidatePasswordReset(form Form) (PasswordResetRequest, FieldErrors) {
	req := PasswordResetRequest{Email: strings.TrimSpace(form.Email)}
	return req, check(req)
}

func ValidateNewPassword(form Form) (NewPassword, FieldErrors) {
	pw := NewPassword{Password: form.Password, ConfirmPassword: form.ConfirmPassword}
	return pw, check(pw)
}

// ValidateProfileUpdate checks a partial profile update. Nil fields are
// skipped; an empty phone number or image URL is allowed and clears it.
func ValidateProfileUpdate(u models.ProfileUpdate) FieldErrors {
	return check(u)
}

func check(v any) FieldErrors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{FieldGeneral: err.Error()}
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "email":
		return msgEmail
	case "eqfield":
		return msgMismatch
	case "phone":
		return msgPhone
	case "url":
		return msgURL
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label(fe.Field()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", label(fe.Field()), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", label(fe.Field()), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s is invalid", label(fe.Field()))
	}
}

func label(field string) string {
	switch field {
	case FieldPassword, FieldConfirmPassword:
		return "Password"
	case FieldName:
		return "Name"
	case FieldEmail:
		return "Email"
	case "phone_number":
		return "Phone number"
	case "profile_image":
		return "Profile image"
	case "role":
		return "Role"
	case "status":
		return "Status"
	default:
		return field
	}
}
