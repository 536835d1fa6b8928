package auth

import (
	"context"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
)

type fakeIdentity struct {
	mu sync.Mutex

	result     *gateway.AuthResult
	err        error
	signOutErr error
	refresh    *gateway.AuthResult
	refreshErr error
	resetErr   error

	// before runs inside every credential or third-party call.
	before func()

	signInCalls     int
	signUpCalls     int
	thirdPartyCalls int
	signOutCalls    int
	forgets         int
	resetEmails     []string
	resetTokens     []string
	lastEmail       string
	lastPassword    string
	lastName        string
	lastProvider    gateway.ProviderKind
}

func newFakeIdentity(id, email, name string) *fakeIdentity {
	return &fakeIdentity{
		result: &gateway.AuthResult{
			Identity: gateway.Identity{
				ID:          id,
				Email:       email,
				DisplayName: name,
			},
			Token:        "tok-" + id,
			RefreshToken: "refresh-" + id,
			ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (f *fakeIdentity) respond() (*gateway.AuthResult, error) {
	if f.before != nil {
		f.before()
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func (f *fakeIdentity) SignIn(_ context.Context, email, password string) (*gateway.AuthResult, error) {
	f.mu.Lock()
	f.signInCalls++
	f.lastEmail, f.lastPassword = email, password
	f.mu.Unlock()
	return f.respond()
}

func (f *fakeIdentity) SignUp(_ context.Context, name, email, password string) (*gateway.AuthResult, error) {
	f.mu.Lock()
	f.signUpCalls++
	f.lastName, f.lastEmail, f.lastPassword = name, email, password
	f.mu.Unlock()
	return f.respond()
}

func (f *fakeIdentity) SignInWithThirdParty(_ context.Context, kind gateway.ProviderKind) (*gateway.AuthResult, error) {
	f.mu.Lock()
	f.thirdPartyCalls++
	f.lastProvider = kind
	f.mu.Unlock()
	return f.respond()
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeIdentity) RefreshToken(context.Context) (*gateway.AuthResult, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	r := *f.refresh
	return &r, nil
}

func (f *fakeIdentity) SendPasswordReset(_ context.Context, email string) error {
	if f.before != nil {
		f.before()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetEmails = append(f.resetEmails, email)
	return f.resetErr
}

func (f *fakeIdentity) ConfirmPasswordReset(_ context.Context, token, password string) error {
	if f.before != nil {
		f.before()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetTokens = append(f.resetTokens, token)
	f.lastPassword = password
	return f.resetErr
}

func (f *fakeIdentity) ForgetTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets++
}

func (f *fakeIdentity) forgotten() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forgets
}

func (f *fakeIdentity) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signInCalls + f.signUpCalls + f.thirdPartyCalls
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile

	getErr    error
	createErr error
	updateErr error
	deleteErr error

	creates     []models.ProfileSeed
	updates     []models.ProfileUpdate
	softDeleted []string
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]*models.Profile)}
}

func (f *fakeProfiles) put(p models.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = &p
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, gateway.NewError(gateway.CodeProfileNotFound, "profile not found")
	}
	c := *p
	return &c, nil
}

func (f *fakeProfiles) CreateProfile(_ context.Context, id string, seed models.ProfileSeed) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, seed)
	if f.createErr != nil {
		return nil, f.createErr
	}
	p := &models.Profile{
		ID:              id,
		Name:            seed.Name,
		Email:           seed.Email,
		IsEmailVerified: seed.IsEmailVerified,
		Role:            models.RoleUser,
		Status:          models.StatusActive,
	}
	f.profiles[id] = p
	c := *p
	return &c, nil
}

func (f *fakeProfiles) UpdateProfile(_ context.Context, id string, u models.ProfileUpdate) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, gateway.NewError(gateway.CodeProfileNotFound, "profile not found")
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.PhoneNumber != nil {
		p.PhoneNumber = *u.PhoneNumber
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		p.LastLoginAt = &t
	}
	c := *p
	return &c, nil
}

func (f *fakeProfiles) SoftDeleteProfile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.softDeleted = append(f.softDeleted, id)
	if p, ok := f.profiles[id]; ok {
		p.Status = models.StatusInactive
	}
	return nil
}

func (f *fakeProfiles) HardDeleteProfile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, id)
	return nil
}
