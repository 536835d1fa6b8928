package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/database"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/oauth"
)

const testSecret = "test-secret-with-enough-length-0123456789"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestIdentity(t *testing.T) (*IdentityService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	cfg := &config.Config{
		JWTSecret:        testSecret,
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: time.Hour,

		PasswordResetExpiry: time.Hour,
	}
	return NewIdentityService(db, cfg), db
}

func TestSignUpAndSignIn(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, &dto.SignUpRequest{Name: "Ada", Email: " Ada@Example.com ", Password: "secret1"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if resp.Identity.Email != "ada@example.com" {
		t.Errorf("email = %q, want normalized", resp.Identity.Email)
	}
	if resp.Identity.Provider != models.ProviderPassword {
		t.Errorf("provider = %q", resp.Identity.Provider)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(resp.AccessToken, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}); err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims["sub"] != resp.Identity.ID {
		t.Errorf("sub = %v, want %s", claims["sub"], resp.Identity.ID)
	}

	in, err := svc.SignIn(ctx, &dto.SignInRequest{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if in.Identity.ID != resp.Identity.ID {
		t.Errorf("sign-in id = %s, want %s", in.Identity.ID, resp.Identity.ID)
	}
}

func TestSignUpErrors(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "taken@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name string
		req  dto.SignUpRequest
		want error
	}{
		{"duplicate", dto.SignUpRequest{Email: "TAKEN@example.com", Password: "secret1"}, ErrEmailTaken},
		{"weak password", dto.SignUpRequest{Email: "new@example.com", Password: "12345"}, ErrWeakPassword},
		{"bad email", dto.SignUpRequest{Email: "nope", Password: "secret1"}, ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignUp(ctx, &tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSignInRejectsUnknownAndWrongPasswordAlike(t *testing.T) {
	svc, db := newTestIdentity(t)
	ctx := context.Background()
	resp, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.SignIn(ctx, &dto.SignInRequest{Email: "ghost@example.com", Password: "secret1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: err = %v", err)
	}
	if _, err := svc.SignIn(ctx, &dto.SignInRequest{Email: "ada@example.com", Password: "wrong-one"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v", err)
	}

	db.Model(&models.Account{}).Where("id = ?", resp.Identity.ID).Update("disabled", true)
	if _, err := svc.SignIn(ctx, &dto.SignInRequest{Email: "ada@example.com", Password: "secret1"}); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("disabled: err = %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()
	first, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	second, err := svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: first.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if _, err := svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: first.RefreshToken}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("reused token: err = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()
	resp, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: resp.RefreshToken}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestSignOutRevokesRefreshToken(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()
	resp, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := svc.SignOut(ctx, &dto.SignOutRequest{RefreshToken: resp.RefreshToken}); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: resp.RefreshToken}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
	if err := svc.SignOut(ctx, &dto.SignOutRequest{RefreshToken: "unknown"}); err != nil {
		t.Errorf("unknown token: %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	svc, db := newTestIdentity(t)
	ctx := context.Background()
	resp, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, " ADA@example.com ")
	if err != nil || token == "" {
		t.Fatalf("RequestPasswordReset = %q, %v", token, err)
	}
	var stored models.PasswordResetToken
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load token: %v", err)
	}
	if stored.TokenHash == token {
		t.Error("reset token stored in clear text")
	}

	if err := svc.ResetPassword(ctx, &dto.PasswordResetConfirmRequest{Token: token, Password: "abc"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak password: err = %v", err)
	}
	if err := svc.ResetPassword(ctx, &dto.PasswordResetConfirmRequest{Token: token, Password: "brand-new"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := svc.SignIn(ctx, &dto.SignInRequest{Email: "ada@example.com", Password: "secret1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password: err = %v", err)
	}
	if _, err := svc.SignIn(ctx, &dto.SignInRequest{Email: "ada@example.com", Password: "brand-new"}); err != nil {
		t.Errorf("new password: %v", err)
	}
	if _, err := svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: resp.RefreshToken}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh after reset: err = %v, want ErrInvalidToken", err)
	}
	if err := svc.ResetPassword(ctx, &dto.PasswordResetConfirmRequest{Token: token, Password: "another1"}); !errors.Is(err, ErrInvalidResetToken) {
		t.Errorf("reused link: err = %v, want ErrInvalidResetToken", err)
	}
}

func TestPasswordResetRequestHidesAccounts(t *testing.T) {
	svc, db := newTestIdentity(t)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "off@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Model(&models.Account{}).Where("email = ?", "off@example.com").Update("disabled", true).Error; err != nil {
		t.Fatalf("disable: %v", err)
	}

	for _, email := range []string{"nobody@example.com", "off@example.com"} {
		token, err := svc.RequestPasswordReset(ctx, email)
		if err != nil || token != "" {
			t.Errorf("%s: got %q, %v, want no token and no error", email, token, err)
		}
	}
	if _, err := svc.RequestPasswordReset(ctx, "not-an-email"); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("malformed email: err = %v", err)
	}
}

func TestPasswordResetRejectsExpiredLink(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "ada@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	token, err := svc.RequestPasswordReset(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	for _, tok := range []string{token, "", "forged"} {
		err := svc.ResetPassword(ctx, &dto.PasswordResetConfirmRequest{Token: tok, Password: "brand-new"})
		if !errors.Is(err, ErrInvalidResetToken) {
			t.Errorf("token %q: err = %v, want ErrInvalidResetToken", tok, err)
		}
	}
}

func TestSignInWithProvider(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()

	existing, err := svc.SignUp(ctx, &dto.SignUpRequest{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	linked, err := svc.SignInWithProvider(ctx, &oauth.Identity{
		Provider: models.ProviderGitHub, Subject: "42", Email: "Ada@example.com", EmailVerified: true, Name: "Ada",
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if linked.Identity.ID != existing.Identity.ID {
		t.Errorf("linked id = %s, want existing %s", linked.Identity.ID, existing.Identity.ID)
	}
	if !linked.Identity.EmailVerified {
		t.Error("expected email verified after provider link")
	}

	again, err := svc.SignInWithProvider(ctx, &oauth.Identity{
		Provider: models.ProviderGitHub, Subject: "42", Email: "changed@example.com",
	})
	if err != nil {
		t.Fatalf("by subject: %v", err)
	}
	if again.Identity.ID != existing.Identity.ID {
		t.Error("subject lookup should win over email")
	}

	fresh, err := svc.SignInWithProvider(ctx, &oauth.Identity{
		Provider: models.ProviderGoogle, Subject: "g-1", Email: "grace@example.com", Name: "Grace",
	})
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if fresh.Identity.ID == existing.Identity.ID || fresh.Identity.DisplayName != "Grace" {
		t.Errorf("unexpected new identity %+v", fresh.Identity)
	}

	// Provider-only accounts cannot sign in with a password.
	if _, err := svc.SignIn(ctx, &dto.SignInRequest{Email: "grace@example.com", Password: "anything"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestProfileLifecycle(t *testing.T) {
	idSvc, db := newTestIdentity(t)
	profiles := NewProfileService(db)
	ctx := context.Background()

	acct, err := idSvc.SignUp(ctx, &dto.SignUpRequest{Name: "Ada", Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := acct.Identity.ID

	if _, err := profiles.Get(ctx, id); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("Get before create: err = %v", err)
	}
	if _, err := profiles.Create(ctx, "missing", models.ProfileSeed{Name: "X"}); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("create without account: err = %v", err)
	}

	created, err := profiles.Create(ctx, id, models.ProfileSeed{Name: "Ada Lovelace"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != id || created.Email != "ada@example.com" || created.Role != models.RoleUser || created.Status != models.StatusActive {
		t.Errorf("unexpected profile %+v", created)
	}
	if _, err := profiles.Create(ctx, id, models.ProfileSeed{}); !errors.Is(err, ErrProfileExists) {
		t.Errorf("duplicate create: err = %v", err)
	}

	name := "Ada King"
	updated, err := profiles.Update(ctx, id, models.ProfileUpdate{Name: &name}, false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != name {
		t.Errorf("name = %q, want %q", updated.Name, name)
	}

	role := models.RoleAdmin
	if _, err := profiles.Update(ctx, id, models.ProfileUpdate{Role: &role}, false); !errors.Is(err, ErrForbidden) {
		t.Errorf("self role change: err = %v", err)
	}
	if p, err := profiles.Update(ctx, id, models.ProfileUpdate{Role: &role}, true); err != nil || p.Role != models.RoleAdmin {
		t.Errorf("admin role change: %v, %+v", err, p)
	}

	bad := "x"
	_, err = profiles.Update(ctx, id, models.ProfileUpdate{Name: &bad}, false)
	var invalid *InvalidProfileError
	if !errors.As(err, &invalid) || !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("short name: err = %v", err)
	}
	if invalid.Fields["name"] == "" {
		t.Errorf("fields = %v, want name error", invalid.Fields)
	}

	if err := profiles.SoftDelete(ctx, id); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if p, _ := profiles.Get(ctx, id); p == nil || p.Status != models.StatusInactive {
		t.Errorf("after soft delete: %+v", p)
	}

	if err := profiles.HardDelete(ctx, id); err != nil {
		t.Fatalf("HardDelete: %v", err)
	}
	if _, err := profiles.Get(ctx, id); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("after hard delete: err = %v", err)
	}
	if err := profiles.HardDelete(ctx, id); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("second hard delete: err = %v", err)
	}
}

func TestListProfiles(t *testing.T) {
	idSvc, db := newTestIdentity(t)
	profiles := NewProfileService(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		acct, err := idSvc.SignUp(ctx, &dto.SignUpRequest{Name: "User", Email: email, Password: "secret1"})
		if err != nil {
			t.Fatalf("seed %s: %v", email, err)
		}
		id := acct.Identity.ID
		if _, err := profiles.Create(ctx, id, models.ProfileSeed{}); err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
		if err := db.Model(&models.Profile{}).Where("id = ?", id).Update("created_at", base.Add(time.Duration(i)*time.Hour)).Error; err != nil {
			t.Fatalf("backdate: %v", err)
		}
		ids = append(ids, id)
	}
	if err := profiles.SoftDelete(ctx, ids[0]); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	tests := []struct {
		name    string
		filter  ProfileFilter
		limit   int
		offset  int
		want    []string
		wantTot int64
	}{
		{"newest first", ProfileFilter{}, 10, 0, []string{ids[2], ids[1], ids[0]}, 3},
		{"first page", ProfileFilter{}, 2, 0, []string{ids[2], ids[1]}, 3},
		{"second page", ProfileFilter{}, 2, 2, []string{ids[0]}, 3},
		{"past the end", ProfileFilter{}, 2, 5, nil, 3},
		{"by email", ProfileFilter{Email: " B@Example.com "}, 10, 0, []string{ids[1]}, 1},
		{"by status", ProfileFilter{Status: models.StatusInactive}, 10, 0, []string{ids[0]}, 1},
		{"by role", ProfileFilter{Role: models.RoleAdmin}, 10, 0, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := profiles.List(ctx, tt.filter, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if total != tt.wantTot {
				t.Errorf("total = %d, want %d", total, tt.wantTot)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d profiles, want %d", len(got), len(tt.want))
			}
			for i, p := range got {
				if p.ID != tt.want[i] {
					t.Errorf("profile %d = %s, want %s", i, p.ID, tt.want[i])
				}
			}
		})
	}
}
