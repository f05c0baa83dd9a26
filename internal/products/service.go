package products

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/storage"
)

const (
	defaultPageSize     = 20
	maxPageSize         = 100
	maxImagesPerListing = 10
)

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Service manages product listings and their images
type Service struct {
	db             *gorm.DB
	storage        storage.Client // nil disables image uploads
	maxUploadBytes int64
	logger         zerolog.Logger
}

// NewService creates a products service. store may be nil.
func NewService(db *gorm.DB, store storage.Client, maxUploadBytes int64, logger zerolog.Logger) *Service {
	return &Service{
		db:             db,
		storage:        store,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With().Str("component", "products_service").Logger(),
	}
}

// Filter narrows a listing query. An empty Status lists active products.
type Filter struct {
	Category string
	OwnerID  string
	Status   string
	Query    string
	Limit    int
	Offset   int
}

type CreateParams struct {
	OwnerID     string
	Title       string
	Description string
	PriceCents  int64
	Currency    string
	Condition   string
	Category    string
}

// UpdateParams holds optional changes; nil fields are left untouched
type UpdateParams struct {
	Title       *string
	Description *string
	PriceCents  *int64
	Condition   *string
	Category    *string
	Status      *string
}

// List returns listings matching f, newest first
func (s *Service) List(ctx context.Context, f Filter) ([]models.Product, error) {
	query := s.db.WithContext(ctx).Preload("Images")

	status := f.Status
	if status == "" {
		status = models.ProductActive
	}
	query = query.Where("status = ?", status)

	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.OwnerID != "" {
		query = query.Where("owner_id = ?", f.OwnerID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(q)+"%")
	}

	var products []models.Product
	if err := query.Order("created_at DESC").
		Limit(pageSize(f.Limit)).
		Offset(max(f.Offset, 0)).
		Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Get loads a product with its images and owner profile
func (s *Service) Get(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := models.FindByIDWithPreload(s.db.WithContext(ctx), id, &product, "Images", "Owner"); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Product not found")
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return &product, nil
}

// Create lists a new product
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Product, error) {
	currency := params.Currency
	if currency == "" {
		currency = "USD"
	}

	product := &models.Product{
		OwnerID:     params.OwnerID,
		Title:       strings.TrimSpace(params.Title),
		Description: params.Description,
		PriceCents:  params.PriceCents,
		Currency:    currency,
		Condition:   params.Condition,
		Category:    strings.ToLower(strings.TrimSpace(params.Category)),
		Status:      models.ProductActive,
	}

	if err := s.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info().Str("product_id", product.ID).Str("owner_id", product.OwnerID).Msg("Product listed")
	return product, nil
}

// Update applies owner edits. Only active and archived listings can be edited,
// and owners can only move between those two states.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*models.Product, error) {
	product, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if product.Status != models.ProductActive && product.Status != models.ProductArchived {
		return nil, apperr.InvalidState(fmt.Sprintf("A %s listing cannot be edited", product.Status))
	}

	updates := map[string]interface{}{}
	if params.Title != nil {
		updates["title"] = strings.TrimSpace(*params.Title)
	}
	if params.Description != nil {
		updates["description"] = *params.Description
	}
	if params.PriceCents != nil {
		updates["price_cents"] = *params.PriceCents
	}
	if params.Condition != nil {
		updates["condition"] = *params.Condition
	}
	if params.Category != nil {
		updates["category"] = strings.ToLower(strings.TrimSpace(*params.Category))
	}
	if params.Status != nil {
		if *params.Status != models.ProductActive && *params.Status != models.ProductArchived {
			return nil, apperr.Invalid("Status can only be set to active or archived")
		}
		updates["status"] = *params.Status
	}

	if len(updates) == 0 {
		return product, nil
	}

	if err := s.db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	return s.Get(ctx, id)
}

// Delete removes a listing that is not part of an open transaction
func (s *Service) Delete(ctx context.Context, id string) error {
	product, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if product.Status == models.ProductReserved {
		return apperr.InvalidState("A listing with a pending transaction cannot be deleted")
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", id).Delete(&models.ProductImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Product{}, "id = ?", id).Error
	}); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	// Storage cleanup is best effort; the rows are already gone
	if s.storage != nil {
		for _, image := range product.Images {
			if err := s.storage.Delete(ctx, image.Path); err != nil {
				s.logger.Warn().Err(err).Str("path", image.Path).Msg("Failed to delete product image object")
			}
		}
	}

	s.logger.Info().Str("product_id", id).Msg("Product deleted")
	return nil
}

// AddImage validates and stores an image for a listing
func (s *Service) AddImage(ctx context.Context, productID string, data []byte) (*models.ProductImage, error) {
	if s.storage == nil {
		return nil, apperr.InvalidState("Image uploads are disabled on this server")
	}

	if len(data) == 0 {
		return nil, apperr.Invalid("Image file is empty")
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, apperr.Invalid(fmt.Sprintf("Image exceeds the %d byte limit", s.maxUploadBytes))
	}

	mtype := mimetype.Detect(data)
	contentType := strings.SplitN(mtype.String(), ";", 2)[0]
	if !slices.Contains(allowedImageTypes, contentType) {
		return nil, apperr.Invalid("Unsupported image type").
			WithDetails(map[string]any{"detected": contentType, "allowed": allowedImageTypes})
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ProductImage{}).Where("product_id = ?", productID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count images: %w", err)
	}
	if count >= maxImagesPerListing {
		return nil, apperr.InvalidState(fmt.Sprintf("A listing can have at most %d images", maxImagesPerListing))
	}

	objectPath := fmt.Sprintf("products/%s/%s%s", productID, strings.ToLower(ulid.Make().String()), mtype.Extension())
	if err := s.storage.Upload(ctx, objectPath, data, contentType); err != nil {
		if errors.Is(err, storage.ErrStorageUnavailable) {
			return nil, apperr.New(apperr.KindProviderUnavailable, "File storage is temporarily unavailable. Please try again later.").WithCause(err)
		}
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	image := &models.ProductImage{
		ProductID:   productID,
		Path:        objectPath,
		URL:         s.storage.PublicURL(objectPath),
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	if err := s.db.WithContext(ctx).Create(image).Error; err != nil {
		if delErr := s.storage.Delete(ctx, objectPath); delErr != nil {
			s.logger.Warn().Err(delErr).Str("path", objectPath).Msg("Failed to remove orphaned image object")
		}
		return nil, fmt.Errorf("failed to save image: %w", err)
	}

	return image, nil
}

// RemoveImage deletes one image of a listing
func (s *Service) RemoveImage(ctx context.Context, productID, imageID string) error {
	var image models.ProductImage
	if err := s.db.WithContext(ctx).Where("id = ? AND product_id = ?", imageID, productID).First(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("Image not found")
		}
		return fmt.Errorf("failed to load image: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&image).Error; err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}

	if s.storage != nil {
		if err := s.storage.Delete(ctx, image.Path); err != nil {
			s.logger.Warn().Err(err).Str("path", image.Path).Msg("Failed to delete product image object")
		}
	}
	return nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}
