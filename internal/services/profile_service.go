package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/validation"
)

// InvalidProfileError carries the field messages of a rejected update.
type InvalidProfileError struct {
	Fields validation.FieldErrors
}

func (e *InvalidProfileError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return fmt.Sprintf("invalid profile update: %s", strings.Join(names, ", "))
}

func (e *InvalidProfileError) Is(target error) bool { return target == ErrInvalidProfile }

type ProfileService struct {
	db *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{db: db}
}

func (s *ProfileService) Get(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &profile, nil
}

// Create stores a new profile for an existing account. The profile id is the
// account id.
func (s *ProfileService) Create(ctx context.Context, id string, seed models.ProfileSeed) (*models.Profile, error) {
	db := s.db.WithContext(ctx)

	var account models.Account
	if err := db.First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	var count int64
	if err := db.Model(&models.Profile{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check profile: %w", err)
	}
	if count > 0 {
		return nil, ErrProfileExists
	}

	email := strings.TrimSpace(seed.Email)
	if email == "" {
		email = account.Email
	}
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name = account.DisplayName
	}

	profile := models.Profile{
		ID:              id,
		Name:            name,
		Email:           email,
		Role:            models.RoleUser,
		Status:          models.StatusActive,
		IsEmailVerified: seed.IsEmailVerified || account.EmailVerified,
	}
	if err := db.Create(&profile).Error; err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return &profile, nil
}

// Update applies a partial update. Only admins may change role or status.
func (s *ProfileService) Update(ctx context.Context, id string, update models.ProfileUpdate, asAdmin bool) (*models.Profile, error) {
	if !asAdmin && (update.Role != nil || update.Status != nil) {
		return nil, ErrForbidden
	}
	if fields := validation.ValidateProfileUpdate(update); fields.HasErrors() {
		return nil, &InvalidProfileError{Fields: fields}
	}

	profile, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Empty() {
		return profile, nil
	}

	if err := s.db.WithContext(ctx).Model(profile).Updates(update.Columns()).Error; err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.Get(ctx, id)
}

// SoftDelete marks the profile inactive and keeps the row.
func (s *ProfileService) SoftDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ?", id).
		Update("status", models.StatusInactive)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// HardDelete removes the profile row.
func (s *ProfileService) HardDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Profile{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ProfileFilter narrows List. Empty fields match every profile.
type ProfileFilter struct {
	Email  string
	Role   models.Role
	Status models.Status
}

// List returns one page of profiles, newest first, and the number of
// profiles matching the filter.
func (s *ProfileService) List(ctx context.Context, filter ProfileFilter, limit, offset int) ([]models.Profile, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Profile{})
	if email := strings.ToLower(strings.TrimSpace(filter.Email)); email != "" {
		query = query.Where("email = ?", email)
	}
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count profiles: %w", err)
	}

	profiles := make([]models.Profile, 0, limit)
	if err := query.Order("created_at DESC").Order("id").Limit(limit).Offset(offset).Find(&profiles).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, total, nil
}
