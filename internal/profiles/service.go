package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/identity"
	"github.com/fixmart-dev/fixmart/internal/models"
)

// Service keeps marketplace profiles in step with provider identities
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewService creates a profiles service
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "profiles_service").Logger(),
	}
}

// UpdateParams holds user-editable profile fields; nil fields are left untouched
type UpdateParams struct {
	DisplayName *string
	Bio         *string
	Phone       *string
	AvatarURL   *string
}

// AdminUpdateParams holds fields only admins may change
type AdminUpdateParams struct {
	IsAdmin  *bool
	Verified *bool
	UserType *identity.UserType
}

// Sync creates the profile of ident on first sight and refreshes the
// provider-owned fields (email, type, verification, admin) when they drift.
func (s *Service) Sync(ctx context.Context, ident *identity.Identity) (*models.User, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Where("id = ?", ident.ID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			BaseModel: models.BaseModel{ID: ident.ID},
			Email:     ident.Email,
			UserType:  string(ident.Type),
			Verified:  ident.Verified,
			IsAdmin:   ident.IsAdmin,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create profile: %w", err)
		}
		s.logger.Info().Str("user_id", user.ID).Str("user_type", user.UserType).Msg("Profile created")
		return &user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	updates := map[string]interface{}{}
	if user.Email != ident.Email && ident.Email != "" {
		updates["email"] = ident.Email
	}
	if user.UserType != string(ident.Type) {
		updates["user_type"] = string(ident.Type)
	}
	if user.Verified != ident.Verified {
		updates["verified"] = ident.Verified
	}
	if user.IsAdmin != ident.IsAdmin {
		updates["is_admin"] = ident.IsAdmin
	}

	if len(updates) > 0 {
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to sync profile: %w", err)
		}
		s.logger.Debug().Str("user_id", user.ID).Interface("updates", updates).Msg("Profile synced")
	}

	return &user, nil
}

// Get loads a profile
func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := models.FindByID(s.db.WithContext(ctx), id, &user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// Update applies self-service profile edits
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*models.User, error) {
	updates := map[string]interface{}{}
	if params.DisplayName != nil {
		updates["display_name"] = *params.DisplayName
	}
	if params.Bio != nil {
		updates["bio"] = *params.Bio
	}
	if params.Phone != nil {
		updates["phone"] = *params.Phone
	}
	if params.AvatarURL != nil {
		updates["avatar_url"] = *params.AvatarURL
	}

	return s.apply(ctx, id, updates)
}

// AdminUpdate changes privileged profile flags. In Supabase mode the provider
// remains the source of truth and the next Sync overwrites these values.
func (s *Service) AdminUpdate(ctx context.Context, id string, params AdminUpdateParams) (*models.User, error) {
	updates := map[string]interface{}{}
	if params.IsAdmin != nil {
		updates["is_admin"] = *params.IsAdmin
	}
	if params.Verified != nil {
		updates["verified"] = *params.Verified
	}
	if params.UserType != nil {
		updates["user_type"] = string(*params.UserType)
	}

	return s.apply(ctx, id, updates)
}

// List returns all profiles, newest first
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(max(offset, 0)).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Service) apply(ctx context.Context, id string, updates map[string]interface{}) (*models.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return s.Get(ctx, id)
}
