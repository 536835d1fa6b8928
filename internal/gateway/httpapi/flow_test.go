package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/auth"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/session"
)

// TestFailedFlowKeepsSessionTokens signs in as another account whose profile
// cannot be created, then updates the still signed-in user's profile. The
// update must carry the session's bearer, not the abandoned account's.
func TestFailedFlowKeepsSessionTokens(t *testing.T) {
	var (
		mu          sync.Mutex
		patchBearer string
		refreshWith string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.AuthResponse{
			AccessToken:  "token-a",
			RefreshToken: "refresh-a",
			ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			Identity:     dto.IdentityResponse{ID: "uid-a", Email: "alan@example.com"},
		})
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req dto.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		refreshWith = req.RefreshToken
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(dto.AuthResponse{
			AccessToken:  "token-b2",
			RefreshToken: "refresh-b2",
			ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			Identity:     dto.IdentityResponse{ID: "uid-b"},
		})
	})
	mux.HandleFunc("GET /api/profiles/uid-a", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: true, Code: "profile/not-found"})
	})
	mux.HandleFunc("POST /api/profiles/uid-a", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: true, Message: "Internal server error"})
	})
	mux.HandleFunc("PATCH /api/profiles/uid-b", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		patchBearer = r.Header.Get("Authorization")
		mu.Unlock()
		var u models.ProfileUpdate
		_ = json.NewDecoder(r.Body).Decode(&u)
		_ = json.NewEncoder(w).Encode(models.Profile{ID: "uid-b", Name: *u.Name, Email: "bea@example.com"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	store := session.NewStore(session.NewMemoryStorage(), nil)
	err := store.Persist(ctx, session.Record{
		Profile:      models.Profile{ID: "uid-b", Name: "Bea", Email: "bea@example.com"},
		Token:        "token-b",
		RefreshToken: "refresh-b",
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	c := New(srv.URL, WithTokenSource(store))
	o := auth.New(auth.Deps{Identity: c, Profiles: c, Session: store})
	t.Cleanup(o.Close)

	_ = o.UpdateField("email", "alan@example.com")
	_ = o.UpdateField("password", "secret1")
	var ferr *auth.FlowError
	if err := o.SignIn(ctx); !errors.As(err, &ferr) {
		t.Fatalf("SignIn = %v, want a flow error", err)
	}
	if rec := store.Identity(); rec == nil || rec.Profile.ID != "uid-b" {
		t.Fatalf("session = %+v, want uid-b kept", rec)
	}
	if tok, ref := c.Tokens(); tok != "token-b" || ref != "refresh-b" {
		t.Fatalf("Tokens() = %q, %q, want the session pair", tok, ref)
	}

	name := "Bea Smith"
	if _, err := o.UpdateProfile(ctx, models.ProfileUpdate{Name: &name}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if err := o.RefreshSession(ctx); err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if patchBearer != "Bearer token-b" {
		t.Errorf("update bearer = %q", patchBearer)
	}
	if refreshWith != "refresh-b" {
		t.Errorf("refreshed with %q", refreshWith)
	}
	if rec := store.Identity(); rec.Token != "token-b2" || rec.Profile.Name != name {
		t.Errorf("session after refresh = %+v", rec)
	}
}
