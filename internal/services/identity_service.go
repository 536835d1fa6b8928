package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/oauth"
)

const minPasswordLength = 6

// IdentityService owns accounts and the tokens issued for them.
type IdentityService struct {
	db  *gorm.DB
	cfg *config.Config
	now func() time.Time
}

func NewIdentityService(db *gorm.DB, cfg *config.Config) *IdentityService {
	return &IdentityService{db: db, cfg: cfg, now: time.Now}
}

func (s *IdentityService) SignUp(ctx context.Context, req *dto.SignUpRequest) (*dto.AuthResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	db := s.db.WithContext(ctx)
	var existing models.Account
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Password:     string(hash),
		DisplayName:  strings.TrimSpace(req.Name),
		AuthProvider: models.ProviderPassword,
	}
	if err := db.Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return s.generateTokenPair(ctx, &account)
}

// SignIn reports unknown emails and wrong passwords the same way.
func (s *IdentityService) SignIn(ctx context.Context, req *dto.SignInRequest) (*dto.AuthResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	var account models.Account
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		return nil, ErrInvalidCredentials
	}
	if account.Password == "" {
		// Provider-only account.
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if account.Disabled {
		return nil, ErrAccountDisabled
	}

	return s.generateTokenPair(ctx, &account)
}

// SignInWithProvider finds the account linked to the provider subject,
// links an existing account with the same email, or creates a new one.
func (s *IdentityService) SignInWithProvider(ctx context.Context, identity *oauth.Identity) (*dto.AuthResponse, error) {
	email, err := normalizeEmail(identity.Email)
	if err != nil {
		return nil, err
	}
	subject := identity.Provider + ":" + identity.Subject

	db := s.db.WithContext(ctx)
	var account models.Account
	err = db.Where("provider_subject = ?", subject).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Where("email = ?", email).First(&account).Error
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		account = models.Account{
			ID:              uuid.NewString(),
			Email:           email,
			DisplayName:     identity.Name,
			EmailVerified:   identity.EmailVerified,
			AuthProvider:    identity.Provider,
			ProviderSubject: &subject,
		}
		if err := db.Create(&account).Error; err != nil {
			return nil, fmt.Errorf("failed to create %s account: %w", identity.Provider, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up account: %w", err)
	default:
		if account.Disabled {
			return nil, ErrAccountDisabled
		}
		if account.ProviderSubject == nil {
			updates := map[string]interface{}{
				"provider_subject": subject,
				"auth_provider":    identity.Provider,
			}
			if identity.EmailVerified {
				updates["email_verified"] = true
			}
			if err := db.Model(&account).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("failed to link %s account: %w", identity.Provider, err)
			}
			account.ProviderSubject = &subject
			account.AuthProvider = identity.Provider
			account.EmailVerified = account.EmailVerified || identity.EmailVerified
		}
	}

	return s.generateTokenPair(ctx, &account)
}

// Refresh rotates the refresh token: the presented one is revoked and a new
// pair is issued.
func (s *IdentityService) Refresh(ctx context.Context, req *dto.RefreshRequest) (*dto.AuthResponse, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidToken
	}
	db := s.db.WithContext(ctx)

	var stored models.RefreshToken
	if err := db.Where("token_hash = ? AND revoked = ?", hashToken(req.RefreshToken), false).First(&stored).Error; err != nil {
		return nil, ErrInvalidToken
	}

	db.Model(&stored).Update("revoked", true)
	if s.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	var account models.Account
	if err := db.First(&account, "id = ?", stored.AccountID).Error; err != nil {
		return nil, ErrInvalidToken
	}
	if account.Disabled {
		return nil, ErrAccountDisabled
	}

	return s.generateTokenPair(ctx, &account)
}

// SignOut revokes the refresh token. Unknown tokens are not an error.
func (s *IdentityService) SignOut(ctx context.Context, req *dto.SignOutRequest) error {
	if req.RefreshToken == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ?", hashToken(req.RefreshToken)).
		Update("revoked", true).Error
}

// RequestPasswordReset issues a single-use reset token for the account with
// email. Unknown and disabled accounts get an empty token and no error, so a
// caller cannot learn which addresses are registered.
func (s *IdentityService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	db := s.db.WithContext(ctx)

	var account models.Account
	if err := db.Where("email = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up account: %w", err)
	}
	if account.Disabled {
		return "", nil
	}

	rawToken, err := randomToken()
	if err != nil {
		return "", err
	}
	record := models.PasswordResetToken{
		ID:        uuid.New(),
		AccountID: account.ID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: s.now().Add(s.cfg.PasswordResetExpiry),
	}
	if err := db.Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store password reset token: %w", err)
	}
	return rawToken, nil
}

// ResetPassword sets a new password using a token from RequestPasswordReset.
// Every outstanding reset token of the account is spent and its refresh
// tokens are revoked, so other signed-in clients must sign in again.
func (s *IdentityService) ResetPassword(ctx context.Context, req *dto.PasswordResetConfirmRequest) error {
	if req.Token == "" {
		return ErrInvalidResetToken
	}
	if len(req.Password) < minPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored models.PasswordResetToken
		if err := tx.Where("token_hash = ? AND used_at IS NULL", hashToken(req.Token)).First(&stored).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidResetToken
			}
			return fmt.Errorf("failed to look up password reset token: %w", err)
		}
		if now.After(stored.ExpiresAt) {
			return ErrInvalidResetToken
		}

		var account models.Account
		if err := tx.First(&account, "id = ?", stored.AccountID).Error; err != nil {
			return ErrInvalidResetToken
		}
		if account.Disabled {
			return ErrAccountDisabled
		}

		spent := tx.Model(&models.PasswordResetToken{}).
			Where("account_id = ? AND used_at IS NULL", account.ID).
			Update("used_at", now)
		if spent.Error != nil {
			return fmt.Errorf("failed to spend password reset tokens: %w", spent.Error)
		}
		if err := tx.Model(&account).Update("password", string(hash)).Error; err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		return tx.Model(&models.RefreshToken{}).
			Where("account_id = ? AND revoked = ?", account.ID, false).
			Update("revoked", true).Error
	})
}

// Account returns the account with id.
func (s *IdentityService) Account(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *IdentityService) generateTokenPair(ctx context.Context, account *models.Account) (*dto.AuthResponse, error) {
	accessToken, expiresAt, err := s.generateAccessToken(account)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(ctx, account)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Identity: dto.IdentityResponse{
			ID:            account.ID,
			Email:         account.Email,
			DisplayName:   account.DisplayName,
			EmailVerified: account.EmailVerified,
			Provider:      account.AuthProvider,
			CreatedAt:     account.CreatedAt,
			UpdatedAt:     account.UpdatedAt,
		},
	}, nil
}

func (s *IdentityService) generateAccessToken(account *models.Account) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.JWTAccessExpiry)
	claims := jwt.MapClaims{
		"sub":      account.ID,
		"email":    account.Email,
		"provider": account.AuthProvider,
		"iat":      now.Unix(),
		"exp":      expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *IdentityService) generateRefreshToken(ctx context.Context, account *models.Account) (string, error) {
	rawToken, err := randomToken()
	if err != nil {
		return "", err
	}
	record := models.RefreshToken{
		ID:        uuid.New(),
		AccountID: account.ID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: s.now().Add(s.cfg.JWTRefreshExpiry),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return rawToken, nil
}

func randomToken() (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(rawBytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
