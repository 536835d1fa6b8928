package gateway

import (
	"errors"
	"fmt"
)

// Code is a provider error code. The auth/ codes follow the identity
// platform's naming so provider messages map one to one.
type Code string

const (
	CodeInvalidCredential Code = "auth/invalid-credential"
	CodeUserNotFound      Code = "auth/user-not-found"
	CodeWrongPassword     Code = "auth/wrong-password"
	CodeEmailInUse        Code = "auth/email-already-in-use"
	CodeWeakPassword      Code = "auth/weak-password"
	CodeInvalidEmail      Code = "auth/invalid-email"
	CodeUserDisabled      Code = "auth/user-disabled"
	CodeTooManyRequests   Code = "auth/too-many-requests"
	CodePopupClosed       Code = "auth/popup-closed-by-user"
	CodePopupCancelled    Code = "auth/cancelled-popup-request"
	CodeInvalidToken      Code = "auth/invalid-refresh-token"
	CodeInvalidResetLink  Code = "auth/invalid-action-code"
	CodeProfileNotFound   Code = "profile/not-found"
	CodeProfileExists     Code = "profile/already-exists"
	CodeForbidden         Code = "profile/forbidden"
	CodeInvalidArgument   Code = "request/invalid-argument"
	CodeProviderError     Code = "provider/error"
)

// ErrNotFound matches an *Error reporting a missing profile record. A
// missing account (CodeUserNotFound) does not match.
var ErrNotFound = errors.New("gateway: not found")

// Error is a failure reported by a gateway.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) match a missing profile.
func (e *Error) Is(target error) bool {
	if target == ErrNotFound {
		return e.Code == CodeProfileNotFound
	}
	return false
}

// NewError builds an *Error with an optional message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code to an underlying failure.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the code carried by err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return ""
}

const defaultMessage = "An error occurred during authentication"

var userMessages = map[Code]string{
	CodeInvalidCredential: "Invalid email or password",
	CodeUserNotFound:      "No account found with this email address",
	CodeWrongPassword:     "Incorrect password",
	CodeEmailInUse:        "An account with this email already exists",
	CodeWeakPassword:      "Password should be at least 6 characters",
	CodeInvalidEmail:      "Invalid email address",
	CodeUserDisabled:      "This account has been disabled",
	CodeTooManyRequests:   "Too many attempts. Please try again later",
	CodePopupClosed:       "Sign-in popup was closed",
	CodePopupCancelled:    "Sign-in was cancelled",
	CodeInvalidToken:      "Your session has expired. Please sign in again",
	CodeInvalidResetLink:  "This password reset link is invalid or has expired",
}

// UserMessage turns a gateway failure into the single general message shown
// to the user. Known codes use a fixed phrase; unknown ones fall back to the
// provider message, then to a generic phrase.
func UserMessage(err error) string {
	var gerr *Error
	if !errors.As(err, &gerr) {
		return defaultMessage
	}
	if msg, ok := userMessages[gerr.Code]; ok {
		return msg
	}
	if gerr.Message != "" {
		return gerr.Message
	}
	return defaultMessage
}
