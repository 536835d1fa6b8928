// Package auth drives sign-in, sign-up and third-party sign-in: it validates
// the form, calls the identity provider, resolves the profile and commits the
// merged session. Password reset flows run through the same form without
// touching the session.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/logging"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/session"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/validation"
)

// User-facing messages for failures that do not come from the identity
// provider.
const (
	msgUnexpected          = "An unexpected error occurred"
	msgProfileLoad         = "Could not load your profile"
	msgProfileCreate       = "Could not create your profile"
	msgSessionSave         = "Could not save your session"
	msgInterrupted         = "Sign-in was interrupted by sign-out"
	msgUnsupportedProvider = "Unsupported sign-in provider"
	msgRefresh             = "Could not refresh your session"
	msgProfileUpdate       = "Failed to update profile"
	msgDeleteAccount       = "Failed to delete account"
	msgPasswordReset       = "Failed to send password reset email"
	msgPasswordResetSet    = "Failed to reset password"
)

const defaultProfileName = "User"

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Identity gateway.IdentityProvider
	Profiles gateway.ProfileStore
	Session  *session.Store
	Logger   *slog.Logger
}

type Option func(*Orchestrator)

// WithMode sets the initial form mode.
func WithMode(m validation.Mode) Option {
	return func(o *Orchestrator) { o.state.Mode = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithCorrelationIDs replaces the per-attempt correlation id generator.
func WithCorrelationIDs(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// Orchestrator owns the auth form and runs one flow at a time. It is safe for
// concurrent use; gateway calls are made without holding its lock.
type Orchestrator struct {
	identity gateway.IdentityProvider
	profiles gateway.ProfileStore
	session  *session.Store
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	state    State
	inFlight bool

	// commitMu orders session commits against sign-out. epoch is bumped on
	// every sign-out so flows started before it never commit.
	commitMu sync.Mutex
	epoch    uint64

	unsubscribe func()
}

func New(deps Deps, opts ...Option) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		identity: deps.Identity,
		profiles: deps.Profiles,
		session:  deps.Session,
		logger:   logger.With(logging.KeyCategory, logging.CategoryAuth),
		now:      time.Now,
		newID:    uuid.NewString,
		state:    State{Errors: validation.FieldErrors{}},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.unsubscribe = o.session.Subscribe(o.onSession)
	return o
}

// Close detaches the orchestrator from the session store.
func (o *Orchestrator) Close() {
	o.unsubscribe()
}

// onSession mirrors session changes made elsewhere. While a flow is running
// the flow itself publishes the outcome.
func (o *Orchestrator) onSession(r *session.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return
	}
	if r == nil {
		o.state.User = nil
		o.state.IsAuthenticated = false
		return
	}
	p := r.Profile
	o.state.User = &p
	o.state.IsAuthenticated = true
}

// State returns a copy of the current form and UI state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// UpdateField stores a form value and clears the error on that field.
func (o *Orchestrator) UpdateField(field, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch field {
	case validation.FieldName:
		o.state.Form.Name = value
	case validation.FieldEmail:
		o.state.Form.Email = value
	case validation.FieldPassword:
		o.state.Form.Password = value
	case validation.FieldConfirmPassword:
		o.state.Form.ConfirmPassword = value
	default:
		return fmt.Errorf("auth: unknown form field %q", field)
	}
	if o.state.Errors[field] != "" {
		o.state.Errors[field] = ""
	}
	o.settle()
	return nil
}

// ToggleMode switches between sign-in and sign-up, keeping typed values.
func (o *Orchestrator) ToggleMode() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Mode == validation.ModeSignUp {
		o.state.Mode = validation.ModeSignIn
	} else {
		o.state.Mode = validation.ModeSignUp
	}
	o.state.Errors = validation.FieldErrors{}
	o.settle()
}

func (o *Orchestrator) TogglePasswordVisibility() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.ShowPassword = !o.state.ShowPassword
}

func (o *Orchestrator) ToggleConfirmPasswordVisibility() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.ShowConfirmPassword = !o.state.ShowConfirmPassword
}

// settle returns a finished flow to Idle. Callers hold o.mu.
func (o *Orchestrator) settle() {
	if !o.inFlight && (o.state.Phase == PhaseSucceeded || o.state.Phase == PhaseFailed) {
		o.state.Phase = PhaseIdle
	}
}

// Submit runs SignIn or SignUp according to the current mode.
func (o *Orchestrator) Submit(ctx context.Context) error {
	o.mu.Lock()
	mode := o.state.Mode
	o.mu.Unlock()
	if mode == validation.ModeSignUp {
		return o.SignUp(ctx)
	}
	return o.SignIn(ctx)
}

// flow describes one kind of authentication attempt.
type flow struct {
	action           string
	validationAction string
	method           string
	label            string
	fallback         string
	subject          string
	seedName         string
}

func (o *Orchestrator) SignIn(ctx context.Context) error {
	a, err := o.begin(PhaseValidating)
	if err != nil {
		return err
	}
	creds, fieldErrs := validation.ValidateSignIn(a.form)
	f := flow{
		action:           "login",
		validationAction: "login_validation_failed",
		method:           "email_password",
		label:            "Sign in",
		fallback:         "Sign in failed",
		subject:          Fingerprint(creds.Email),
	}
	if fieldErrs.HasErrors() {
		return o.reject(ctx, a, f, fieldErrs)
	}
	return o.submit(ctx, a, f, func(ctx context.Context) (*gateway.AuthResult, error) {
		return o.identity.SignIn(ctx, creds.Email, creds.Password)
	})
}

func (o *Orchestrator) SignUp(ctx context.Context) error {
	a, err := o.begin(PhaseValidating)
	if err != nil {
		return err
	}
	creds, fieldErrs := validation.ValidateSignUp(a.form)
	f := flow{
		action:           "registration",
		validationAction: "registration_validation_failed",
		method:           "email_password",
		label:            "Sign up",
		fallback:         "Sign up failed",
		subject:          Fingerprint(creds.Email),
		seedName:         creds.Name,
	}
	if fieldErrs.HasErrors() {
		return o.reject(ctx, a, f, fieldErrs)
	}
	return o.submit(ctx, a, f, func(ctx context.Context) (*gateway.AuthResult, error) {
		return o.identity.SignUp(ctx, creds.Name, creds.Email, creds.Password)
	})
}

// SignInWithThirdParty runs the provider's own flow; there is no form to
// validate.
func (o *Orchestrator) SignInWithThirdParty(ctx context.Context, kind gateway.ProviderKind) error {
	a, err := o.begin(PhaseSubmitting)
	if err != nil {
		return err
	}
	label := providerLabel(kind)
	f := flow{
		action:   "login",
		method:   string(kind) + "_oauth",
		label:    label + " sign in",
		fallback: label + " sign in failed",
	}
	if !kind.Valid() {
		a.log.WarnContext(ctx, "Auth login",
			"success", false,
			"reason", "unsupported_provider",
			"method", f.method,
		)
		return o.fail(&FlowError{Message: msgUnsupportedProvider})
	}
	return o.submit(ctx, a, f, func(ctx context.Context) (*gateway.AuthResult, error) {
		return o.identity.SignInWithThirdParty(ctx, kind)
	})
}

// SendPasswordReset asks the identity provider to mail a reset link to the
// email in the form. The session is not touched.
func (o *Orchestrator) SendPasswordReset(ctx context.Context) error {
	a, err := o.begin(PhaseValidating)
	if err != nil {
		return err
	}
	req, fieldErrs := validation.ValidatePasswordReset(a.form)
	f := flow{
		action:           "password_reset",
		validationAction: "password_reset_validation_failed",
		method:           "email_password",
		label:            "Password reset",
		fallback:         msgPasswordReset,
		subject:          Fingerprint(req.Email),
	}
	if fieldErrs.HasErrors() {
		return o.reject(ctx, a, f, fieldErrs)
	}
	return o.request(ctx, a, f, func(ctx context.Context) error {
		return o.identity.SendPasswordReset(ctx, req.Email)
	}, nil)
}

// ConfirmPasswordReset sets the password typed in the form using the token
// from a reset link. On success the password fields are cleared and the form
// returns to sign-in.
func (o *Orchestrator) ConfirmPasswordReset(ctx context.Context, token string) error {
	a, err := o.begin(PhaseValidating)
	if err != nil {
		return err
	}
	pw, fieldErrs := validation.ValidateNewPassword(a.form)
	f := flow{
		action:           "password_reset_confirm",
		validationAction: "password_reset_confirm_validation_failed",
		method:           "email_password",
		label:            "Password reset confirmation",
		fallback:         msgPasswordResetSet,
		subject:          Fingerprint(a.form.Email),
	}
	if fieldErrs.HasErrors() {
		return o.reject(ctx, a, f, fieldErrs)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return o.identityFailed(ctx, a, f, gateway.NewError(gateway.CodeInvalidResetLink, "missing reset token"))
	}
	return o.request(ctx, a, f, func(ctx context.Context) error {
		return o.identity.ConfirmPasswordReset(ctx, token, pw.Password)
	}, func(st *State) {
		st.Mode = validation.ModeSignIn
		st.Form.Password = ""
		st.Form.ConfirmPassword = ""
	})
}

func providerLabel(kind gateway.ProviderKind) string {
	switch kind {
	case gateway.ProviderGoogle:
		return "Google"
	case gateway.ProviderGitHub:
		return "GitHub"
	case gateway.ProviderApple:
		return "Apple"
	default:
		return "Third-party"
	}
}

type attempt struct {
	form  validation.Form
	epoch uint64
	log   *slog.Logger
}

// begin claims the single flow slot and clears the error map.
func (o *Orchestrator) begin(phase Phase) (attempt, error) {
	o.commitMu.Lock()
	epoch := o.epoch
	o.commitMu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return attempt{}, ErrSubmitInProgress
	}
	o.inFlight = true
	o.state.Phase = phase
	o.state.Errors = validation.FieldErrors{}
	o.state.IsLoading = phase == PhaseSubmitting
	return attempt{
		form:  o.state.Form,
		epoch: epoch,
		log:   o.logger.With(logging.KeyCorrelationID, o.newID()),
	}, nil
}

func (o *Orchestrator) reject(ctx context.Context, a attempt, f flow, fieldErrs validation.FieldErrors) error {
	fields := make([]string, 0, len(fieldErrs))
	for name := range fieldErrs {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	a.log.WarnContext(ctx, "Auth "+f.validationAction,
		logging.KeySubjectID, f.subject,
		"success", false,
		"reason", "form_validation_error",
		"fields", strings.Join(fields, ","),
	)

	o.mu.Lock()
	o.state.Errors = fieldErrs.Clone()
	o.state.Phase = PhaseIdle
	o.state.IsLoading = false
	o.inFlight = false
	o.mu.Unlock()
	return &ValidationError{Fields: fieldErrs}
}

func (o *Orchestrator) submit(ctx context.Context, a attempt, f flow, call func(context.Context) (*gateway.AuthResult, error)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &panicError{value: r}
			a.log.ErrorContext(ctx, f.label+" error occurred",
				logging.KeySubjectID, f.subject,
				"method", f.method,
				"error", perr.Error(),
			)
			err = o.fail(&FlowError{Message: msgUnexpected, Cause: perr})
		}
	}()
	defer o.forgetIssuedTokens()

	o.mu.Lock()
	o.state.Phase = PhaseSubmitting
	o.state.IsLoading = true
	o.mu.Unlock()

	a.log.InfoContext(ctx, f.label+" attempt started",
		logging.KeySubjectID, f.subject,
		"method", f.method,
	)

	result, err := guarded(func() (*gateway.AuthResult, error) { return call(ctx) })
	if err != nil {
		return o.identityFailed(ctx, a, f, err)
	}
	if result == nil || result.Identity.ID == "" || result.Token == "" {
		return o.identityFailed(ctx, a, f, gateway.NewError(gateway.CodeProviderError, ""))
	}
	subject := result.Identity.ID

	profile, err := guarded(func() (*models.Profile, error) {
		return o.resolveProfile(ctx, a.log, result, f.seedName)
	})
	if err != nil {
		var ferr *FlowError
		if !errors.As(err, &ferr) {
			ferr = &FlowError{Message: msgUnexpected, Cause: err}
		}
		a.log.ErrorContext(ctx, "Auth "+f.action,
			logging.KeySubjectID, subject,
			"success", false,
			"reason", "profile_unavailable",
			"method", f.method,
			"error", err.Error(),
		)
		return o.fail(ferr)
	}

	record := session.Record{
		Profile:      *profile,
		Token:        result.Token,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.ExpiresAt,
	}
	if err := o.commit(ctx, a.epoch, record); err != nil {
		if errors.Is(err, errSignedOut) {
			a.log.WarnContext(ctx, "Auth "+f.action,
				logging.KeySubjectID, subject,
				"success", false,
				"reason", "signed_out_during_attempt",
				"method", f.method,
			)
			return o.abandon(&FlowError{Message: msgInterrupted, Cause: err})
		}
		a.log.ErrorContext(ctx, "Auth "+f.action,
			logging.KeySubjectID, subject,
			"success", false,
			"reason", "session_persist_failed",
			"method", f.method,
			"error", err.Error(),
		)
		var perr *panicError
		if errors.As(err, &perr) {
			return o.fail(&FlowError{Message: msgUnexpected, Cause: err})
		}
		return o.fail(&FlowError{Message: msgSessionSave, Cause: err})
	}

	a.log.InfoContext(ctx, "Auth "+f.action,
		logging.KeySubjectID, subject,
		"success", true,
		"method", f.method,
		"email_verified", result.Identity.EmailVerified,
	)
	o.succeed(profile)
	return nil
}

// request runs a flow that calls the identity provider without issuing a
// session. done, when set, edits the state under the lock on success.
func (o *Orchestrator) request(ctx context.Context, a attempt, f flow, call func(context.Context) error, done func(*State)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &panicError{value: r}
			a.log.ErrorContext(ctx, f.label+" error occurred",
				logging.KeySubjectID, f.subject,
				"method", f.method,
				"error", perr.Error(),
			)
			err = o.fail(&FlowError{Message: msgUnexpected, Cause: perr})
		}
	}()

	o.mu.Lock()
	o.state.Phase = PhaseSubmitting
	o.state.IsLoading = true
	o.mu.Unlock()

	a.log.InfoContext(ctx, f.label+" attempt started",
		logging.KeySubjectID, f.subject,
		"method", f.method,
	)
	if _, err := guarded(func() (struct{}, error) { return struct{}{}, call(ctx) }); err != nil {
		return o.identityFailed(ctx, a, f, err)
	}
	a.log.InfoContext(ctx, "Auth "+f.action,
		logging.KeySubjectID, f.subject,
		"success", true,
		"method", f.method,
	)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Phase = PhaseSucceeded
	o.state.IsLoading = false
	o.state.Errors = validation.FieldErrors{}
	o.inFlight = false
	if done != nil {
		done(&o.state)
	}
	return nil
}

func (o *Orchestrator) identityFailed(ctx context.Context, a attempt, f flow, err error) error {
	var perr *panicError
	if errors.As(err, &perr) {
		a.log.ErrorContext(ctx, f.label+" error occurred",
			logging.KeySubjectID, f.subject,
			"method", f.method,
			"error", err.Error(),
		)
		return o.fail(&FlowError{Message: msgUnexpected, Cause: err})
	}

	message := f.fallback
	reason := f.action + "_failed"
	if code := gateway.CodeOf(err); code != "" {
		message = gateway.UserMessage(err)
		reason = string(code)
	}
	a.log.WarnContext(ctx, "Auth "+f.action,
		logging.KeySubjectID, f.subject,
		"success", false,
		"reason", reason,
		"method", f.method,
		"error", err.Error(),
	)
	return o.fail(&FlowError{Message: message, Cause: err})
}

// resolveProfile fetches the profile for the identity, creating it when the
// store has none. Existing profiles get their last login recorded.
func (o *Orchestrator) resolveProfile(ctx context.Context, log *slog.Logger, result *gateway.AuthResult, seedName string) (*models.Profile, error) {
	id := result.Identity.ID
	profile, err := o.profiles.GetProfile(ctx, id)
	switch {
	case err == nil:
		if profile == nil || profile.ID != id {
			return nil, &FlowError{Message: msgProfileLoad, Cause: fmt.Errorf("profile store returned a different record for %s", id)}
		}
		return o.touchLastLogin(ctx, log, profile), nil
	case errors.Is(err, gateway.ErrNotFound):
	default:
		return nil, &FlowError{Message: msgProfileLoad, Cause: err}
	}

	seed := models.ProfileSeed{
		Name:            firstNonEmpty(seedName, result.Identity.DisplayName, defaultProfileName),
		Email:           result.Identity.Email,
		IsEmailVerified: result.Identity.EmailVerified,
	}
	log.InfoContext(ctx, "Creating profile for new identity", logging.KeySubjectID, id)
	created, err := o.profiles.CreateProfile(ctx, id, seed)
	if err != nil {
		return nil, &FlowError{Message: msgProfileCreate, Cause: err}
	}
	if created == nil || created.ID != id {
		return nil, &FlowError{Message: msgProfileCreate, Cause: fmt.Errorf("created profile does not match identity %s", id)}
	}
	return created, nil
}

// touchLastLogin is best effort; a failure keeps the fetched profile.
func (o *Orchestrator) touchLastLogin(ctx context.Context, log *slog.Logger, profile *models.Profile) *models.Profile {
	now := o.now().UTC()
	updated, err := o.profiles.UpdateProfile(ctx, profile.ID, models.ProfileUpdate{LastLoginAt: &now})
	if err != nil || updated == nil {
		reason := "empty response"
		if err != nil {
			reason = err.Error()
		}
		log.WarnContext(ctx, "Could not record last login",
			logging.KeySubjectID, profile.ID,
			"error", reason,
		)
		return profile
	}
	return updated
}

var errSignedOut = errors.New("session was signed out during the attempt")

// commit persists record unless a sign-out happened since epoch. A panic in
// the storage backend is returned as a *panicError.
func (o *Orchestrator) commit(ctx context.Context, epoch uint64, record session.Record) error {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	if o.epoch != epoch {
		return errSignedOut
	}
	_, err := guarded(func() (struct{}, error) { return struct{}{}, o.session.Persist(ctx, record) })
	return err
}

// clearSession invalidates running flows and clears the session store. The
// in-memory record is dropped before storage is touched, so it is gone even
// when the backend fails or panics.
func (o *Orchestrator) clearSession(ctx context.Context) error {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	o.epoch++
	_, err := guarded(func() (struct{}, error) { return struct{}{}, o.session.Clear(ctx) })
	return err
}

// forgetIssuedTokens drops tokens the identity provider cached during a
// flow. After a flow ends the session store is the only token source.
func (o *Orchestrator) forgetIssuedTokens() {
	if c, ok := o.identity.(gateway.TokenCache); ok {
		c.ForgetTokens()
	}
}

func (o *Orchestrator) succeed(profile *models.Profile) {
	p := *profile
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Phase = PhaseSucceeded
	o.state.IsLoading = false
	o.state.IsAuthenticated = true
	o.state.User = &p
	o.state.Errors = validation.FieldErrors{}
	o.inFlight = false
}

func (o *Orchestrator) fail(err *FlowError) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Phase = PhaseFailed
	o.state.IsLoading = false
	o.state.Errors = validation.FieldErrors{validation.FieldGeneral: err.Message}
	o.inFlight = false
	return err
}

// abandon releases the flow slot without touching the state a sign-out reset.
func (o *Orchestrator) abandon(err *FlowError) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Phase = PhaseIdle
	o.state.IsLoading = false
	o.inFlight = false
	return err
}

// SignOut signs out at the identity provider, then clears the session, the
// durable keys and the form. Local state is cleared even when the provider
// call fails; only a failure to clear durable storage is returned.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	log := o.logger.With(logging.KeyCorrelationID, o.newID())
	subject := ""
	if r := o.session.Identity(); r != nil {
		subject = r.Profile.ID
	}
	log.InfoContext(ctx, "Sign out attempt started", logging.KeySubjectID, subject)

	if _, err := guarded(func() (struct{}, error) { return struct{}{}, o.identity.SignOut(ctx) }); err != nil {
		log.ErrorContext(ctx, "Sign out error occurred",
			logging.KeySubjectID, subject,
			"error", err.Error(),
		)
	}

	clearErr := o.clearSession(ctx)
	o.resetForm()

	if clearErr != nil {
		log.ErrorContext(ctx, "Auth logout",
			logging.KeySubjectID, subject,
			"success", false,
			"reason", "storage_clear_failed",
			"error", clearErr.Error(),
		)
		return fmt.Errorf("auth: clear session: %w", clearErr)
	}
	log.InfoContext(ctx, "Auth logout", logging.KeySubjectID, subject, "success", true)
	return nil
}

// resetForm discards form values, errors, toggles and the signed-in user. A
// flow still waiting on a gateway keeps its loading flag until it returns.
func (o *Orchestrator) resetForm() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = State{
		Mode:      o.state.Mode,
		Errors:    validation.FieldErrors{},
		Phase:     PhaseIdle,
		IsLoading: o.inFlight && o.state.IsLoading,
	}
	if o.inFlight {
		o.state.Phase = PhaseSubmitting
	}
}

// RefreshSession exchanges the refresh token for a new pair and persists it.
// A rejected refresh token signs the user out locally.
func (o *Orchestrator) RefreshSession(ctx context.Context) error {
	current := o.session.Identity()
	if current == nil {
		return ErrNotAuthenticated
	}
	log := o.logger.With(logging.KeyCorrelationID, o.newID())
	subject := current.Profile.ID

	o.commitMu.Lock()
	epoch := o.epoch
	o.commitMu.Unlock()

	defer o.forgetIssuedTokens()
	result, err := guarded(func() (*gateway.AuthResult, error) { return o.identity.RefreshToken(ctx) })
	if err == nil && (result == nil || result.Token == "") {
		err = gateway.NewError(gateway.CodeProviderError, "")
	}
	if err == nil && result.Identity.ID != "" && result.Identity.ID != subject {
		err = fmt.Errorf("refreshed identity %s does not match session %s", result.Identity.ID, subject)
	}
	if err != nil {
		log.WarnContext(ctx, "Auth token_refresh",
			logging.KeySubjectID, subject,
			"success", false,
			"reason", string(gateway.CodeOf(err)),
			"error", err.Error(),
		)
		if gateway.CodeOf(err) == gateway.CodeInvalidToken || gateway.CodeOf(err) == gateway.CodeUserDisabled {
			if clearErr := o.clearLocal(ctx); clearErr != nil {
				log.ErrorContext(ctx, "Could not clear expired session", "error", clearErr.Error())
			}
			return &FlowError{Message: gateway.UserMessage(err), Cause: err}
		}
		return &FlowError{Message: msgRefresh, Cause: err}
	}

	record := *current
	record.Token = result.Token
	record.ExpiresAt = result.ExpiresAt
	if result.RefreshToken != "" {
		record.RefreshToken = result.RefreshToken
	}
	if err := o.commit(ctx, epoch, record); err != nil {
		return &FlowError{Message: msgRefresh, Cause: err}
	}
	log.InfoContext(ctx, "Auth token_refresh", logging.KeySubjectID, subject, "success", true)
	return nil
}

func (o *Orchestrator) clearLocal(ctx context.Context) error {
	err := o.clearSession(ctx)
	o.resetForm()
	return err
}

// UpdateProfile applies a partial update to the signed-in user's profile and
// refreshes the stored session with the result.
func (o *Orchestrator) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.Profile, error) {
	current := o.session.Identity()
	if current == nil {
		return nil, ErrNotAuthenticated
	}
	if update.Empty() {
		p := current.Profile
		return &p, nil
	}
	if fieldErrs := validation.ValidateProfileUpdate(update); fieldErrs.HasErrors() {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	log := o.logger.With(logging.KeyCorrelationID, o.newID())
	subject := current.Profile.ID

	o.commitMu.Lock()
	epoch := o.epoch
	o.commitMu.Unlock()

	profile, err := guarded(func() (*models.Profile, error) {
		return o.profiles.UpdateProfile(ctx, subject, update)
	})
	if err == nil && profile == nil {
		err = gateway.NewError(gateway.CodeProviderError, "empty profile response")
	}
	if err != nil {
		log.WarnContext(ctx, "Profile update failed", logging.KeySubjectID, subject, "error", err.Error())
		return nil, &FlowError{Message: msgProfileUpdate, Cause: err}
	}

	record := *current
	record.Profile = *profile
	if err := o.commit(ctx, epoch, record); err != nil {
		return nil, &FlowError{Message: msgSessionSave, Cause: err}
	}

	fields := make([]string, 0)
	for col := range update.Columns() {
		fields = append(fields, col)
	}
	sort.Strings(fields)
	log.InfoContext(ctx, "Profile updated",
		logging.KeySubjectID, subject,
		"fields", strings.Join(fields, ","),
	)
	return profile, nil
}

// DeleteAccount soft-deletes the signed-in user's profile and signs out.
func (o *Orchestrator) DeleteAccount(ctx context.Context) error {
	current := o.session.Identity()
	if current == nil {
		return ErrNotAuthenticated
	}
	log := o.logger.With(logging.KeyCorrelationID, o.newID())
	subject := current.Profile.ID

	if _, err := guarded(func() (struct{}, error) {
		return struct{}{}, o.profiles.SoftDeleteProfile(ctx, subject)
	}); err != nil {
		log.ErrorContext(ctx, "Auth account_deleted",
			logging.KeySubjectID, subject,
			"success", false,
			"error", err.Error(),
		)
		return &FlowError{Message: msgDeleteAccount, Cause: err}
	}
	log.InfoContext(ctx, "Auth account_deleted", logging.KeySubjectID, subject, "success", true)
	return o.SignOut(ctx)
}

// Restore hydrates the session store and reflects it in the form state. An
// expired session with a refresh token is refreshed; if that fails the user
// stays signed in with the stale token.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if err := o.session.Hydrate(ctx); err != nil {
		return fmt.Errorf("auth: restore session: %w", err)
	}
	record := o.session.Identity()
	o.onSession(record)
	if record == nil || !record.Expired(o.now()) || record.RefreshToken == "" {
		return nil
	}
	if err := o.RefreshSession(ctx); err != nil {
		o.logger.WarnContext(ctx, "Session refresh on restore failed",
			logging.KeySubjectID, record.Profile.ID,
			"error", err.Error(),
		)
	}
	return nil
}

// Fingerprint is a stable, non-reversible subject id for an email address.
func Fingerprint(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(email))
	return "email:" + hex.EncodeToString(sum[:8])
}

// panicError is a recovered panic from a collaborator.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func guarded[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
