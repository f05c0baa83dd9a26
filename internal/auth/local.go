package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fixmart-dev/fixmart/internal/identity"
	"github.com/fixmart-dev/fixmart/internal/models"
)

// LocalProvider is the self-hosted identity provider: bcrypt credentials and
// HS256 tokens kept in the application database. Like the first-run setup of
// a fresh install, the first account created becomes an admin.
type LocalProvider struct {
	db     *gorm.DB
	tokens *TokenIssuer
	now    func() time.Time
	logger zerolog.Logger
}

// NewLocalProvider creates a provider backed by db
func NewLocalProvider(db *gorm.DB, tokens *TokenIssuer, logger zerolog.Logger) *LocalProvider {
	return &LocalProvider{
		db:     db,
		tokens: tokens,
		now:    time.Now,
		logger: logger.With().Str("component", "local_identity").Logger(),
	}
}

// Resolve validates the token, rejects revoked ones, and loads the current
// user row so role and admin changes apply immediately.
func (p *LocalProvider) Resolve(ctx context.Context, credential string) (*identity.Identity, *identity.Session, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, nil, nil
	}

	claims, err := p.tokens.Validate(credential)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Rejected local token")
		return nil, nil, nil
	}

	var revoked int64
	if err := p.db.WithContext(ctx).Model(&models.RevokedToken{}).
		Where("jti = ?", claims.ID).
		Count(&revoked).Error; err != nil {
		return nil, nil, fmt.Errorf("%w: revocation lookup: %v", identity.ErrProviderUnavailable, err)
	}
	if revoked > 0 {
		return nil, nil, nil
	}

	var user models.User
	if err := p.db.WithContext(ctx).Where("id = ?", claims.Subject).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: user lookup: %v", identity.ErrProviderUnavailable, err)
	}

	return identityFromUser(&user), &identity.Session{
		Token:     credential,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// SignUp creates the user profile and its credential in one transaction
func (p *LocalProvider) SignUp(ctx context.Context, params identity.SignUpParams) (*identity.Identity, *identity.Session, error) {
	email := normalizeEmail(params.Email)

	passwordHash, err := HashPassword(params.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		BaseModel:   models.BaseModel{ID: ulid.Make().String()},
		Email:       email,
		DisplayName: params.DisplayName,
		UserType:    string(identity.ParseUserType(string(params.Type))),
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if stmt := lockUsersStatement(tx.Dialector.Name()); stmt != "" {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}

		var existing int64
		if err := tx.Model(&models.Credential{}).Where("email = ?", email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return identity.ErrEmailTaken
		}

		var users int64
		if err := tx.Model(&models.User{}).Count(&users).Error; err != nil {
			return err
		}
		if users == 0 {
			user.IsAdmin = true
			user.Verified = true
		}

		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&models.Credential{
			UserID:       user.ID,
			Email:        email,
			PasswordHash: passwordHash,
		}).Error
	})
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: create account: %v", identity.ErrProviderUnavailable, err)
	}

	if user.IsAdmin {
		p.logger.Info().Str("user_id", user.ID).Str("email", email).Msg("First account created as admin")
	}

	return p.issue(user)
}

// SignIn verifies the password and issues a new token
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*identity.Identity, *identity.Session, error) {
	var credential models.Credential
	if err := p.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, identity.ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("%w: credential lookup: %v", identity.ErrProviderUnavailable, err)
	}

	if err := VerifyPassword(password, credential.PasswordHash); err != nil {
		return nil, nil, identity.ErrInvalidCredentials
	}

	var user models.User
	if err := p.db.WithContext(ctx).Where("id = ?", credential.UserID).First(&user).Error; err != nil {
		return nil, nil, fmt.Errorf("%w: user lookup: %v", identity.ErrProviderUnavailable, err)
	}

	return p.issue(&user)
}

// SignOut revokes the token until its natural expiry. Invalid tokens are ignored.
func (p *LocalProvider) SignOut(ctx context.Context, credential string) error {
	claims, err := p.tokens.Validate(credential)
	if err != nil {
		return nil
	}

	db := p.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.RevokedToken{
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}).Error; err != nil {
		return fmt.Errorf("%w: revoke token: %v", identity.ErrProviderUnavailable, err)
	}

	// Revocations of already expired tokens carry no information
	if err := db.Where("expires_at < ?", p.now().UTC()).Delete(&models.RevokedToken{}).Error; err != nil {
		p.logger.Warn().Err(err).Msg("Failed to purge expired revocations")
	}

	return nil
}

func (p *LocalProvider) issue(user *models.User) (*identity.Identity, *identity.Session, error) {
	token, claims, err := p.tokens.Issue(p.now(), user.ID, user.Email, user.UserType)
	if err != nil {
		return nil, nil, err
	}

	return identityFromUser(user), &identity.Session{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func identityFromUser(user *models.User) *identity.Identity {
	return &identity.Identity{
		ID:       user.ID,
		Email:    user.Email,
		Verified: user.Verified,
		Type:     identity.ParseUserType(user.UserType),
		IsAdmin:  user.IsAdmin,
	}
}

// lockUsersStatement serializes first-account detection between concurrent
// sign ups. SQLite already admits a single writer at a time.
func lockUsersStatement(dialect string) string {
	if dialect == "postgres" {
		return "LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE"
	}
	return ""
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
