package auth

import (
	"errors"
	"sort"
	"strings"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/validation"
)

// Phase is the position of the orchestrator in an authentication attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseSubmitting
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseValidating:
		return "validating"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// State is a snapshot of the form and UI state. Errors maps a field name to
// its message; the "general" key carries flow-level failures.
type State struct {
	Phase               Phase
	Mode                validation.Mode
	Form                validation.Form
	Errors              validation.FieldErrors
	IsLoading           bool
	IsAuthenticated     bool
	ShowPassword        bool
	ShowConfirmPassword bool
	User                *models.Profile
}

func (s State) clone() State {
	s.Errors = s.Errors.Clone()
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// ModeFromQuery maps the mode query parameter of the auth page to a form
// mode. Only "signup" selects sign-up.
func ModeFromQuery(value string) validation.Mode {
	if strings.EqualFold(strings.TrimSpace(value), "signup") {
		return validation.ModeSignUp
	}
	return validation.ModeSignIn
}

var (
	// ErrSubmitInProgress is returned when a flow starts while another one is
	// still waiting on a gateway.
	ErrSubmitInProgress = errors.New("auth: a sign-in attempt is already in progress")
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("auth: not signed in")
)

// ValidationError carries the field errors of a rejected form.
type ValidationError struct {
	Fields validation.FieldErrors
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name, msg := range e.Fields {
		if msg != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return "auth: invalid fields: " + strings.Join(names, ", ")
}

// FlowError is a failed flow. Message is safe to show to the user.
type FlowError struct {
	Message string
	Cause   error
}

func (e *FlowError) Error() string {
	if e.Cause != nil {
		return "auth: " + e.Message + ": " + e.Cause.Error()
	}
	return "auth: " + e.Message
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}
