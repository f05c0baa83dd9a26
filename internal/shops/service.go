package shops

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/tasks"
)

// bookingTransitions lists the statuses reachable from each status
var bookingTransitions = map[string][]string{
	models.BookingPending:   {models.BookingConfirmed, models.BookingDeclined, models.BookingCancelled},
	models.BookingConfirmed: {models.BookingCompleted, models.BookingCancelled},
}

// Statuses each party may set. Shops cancel only confirmed bookings.
var (
	customerStatuses = []string{models.BookingCancelled}
	shopStatuses     = []string{models.BookingConfirmed, models.BookingDeclined, models.BookingCompleted, models.BookingCancelled}
)

// Service manages repair shops, their bookings and reviews
type Service struct {
	db           *gorm.DB
	enqueuer     tasks.Enqueuer
	reminderLead time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// NewService creates a shops service
func NewService(db *gorm.DB, enqueuer tasks.Enqueuer, reminderLead time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		db:           db,
		enqueuer:     enqueuer,
		reminderLead: reminderLead,
		now:          time.Now,
		logger:       logger.With().Str("component", "shops_service").Logger(),
	}
}

type ShopParams struct {
	Name        string
	Description string
	Address     string
	City        string
	Phone       string
	Services    []string
}

// ShopUpdate holds optional changes; nil fields are left untouched
type ShopUpdate struct {
	Name        *string
	Description *string
	Address     *string
	City        *string
	Phone       *string
	Services    *[]string
}

type BookingParams struct {
	ShopID      string
	CustomerID  string
	ScheduledAt time.Time
	Device      string
	Issue       string
}

type ReviewParams struct {
	ShopID   string
	AuthorID string
	Rating   int
	Comment  string
}

// Filter narrows shop discovery
type Filter struct {
	City   string
	Query  string
	Limit  int
	Offset int
}

// List returns shops matching f alphabetically
func (s *Service) List(ctx context.Context, f Filter) ([]models.RepairShop, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := s.db.WithContext(ctx)
	if city := strings.TrimSpace(f.City); city != "" {
		query = query.Where("LOWER(city) = ?", strings.ToLower(city))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(name) LIKE ? OR services LIKE ?", pattern, pattern)
	}

	var shops []models.RepairShop
	if err := query.Order("name ASC").Limit(limit).Offset(max(f.Offset, 0)).Find(&shops).Error; err != nil {
		return nil, fmt.Errorf("failed to list shops: %w", err)
	}
	return shops, nil
}

// Get loads a shop
func (s *Service) Get(ctx context.Context, id string) (*models.RepairShop, error) {
	var shop models.RepairShop
	if err := models.FindByID(s.db.WithContext(ctx), id, &shop); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Repair shop not found")
		}
		return nil, fmt.Errorf("failed to load shop: %w", err)
	}
	return &shop, nil
}

// Create registers a shop for ownerID
func (s *Service) Create(ctx context.Context, ownerID string, params ShopParams) (*models.RepairShop, error) {
	shop := &models.RepairShop{
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(params.Name),
		Description: params.Description,
		Address:     params.Address,
		City:        strings.TrimSpace(params.City),
		Phone:       params.Phone,
		Services:    joinServices(params.Services),
	}

	if err := s.db.WithContext(ctx).Create(shop).Error; err != nil {
		return nil, fmt.Errorf("failed to create shop: %w", err)
	}

	s.logger.Info().Str("shop_id", shop.ID).Str("owner_id", ownerID).Msg("Repair shop created")
	return shop, nil
}

// Update edits a shop profile
func (s *Service) Update(ctx context.Context, id string, params ShopUpdate) (*models.RepairShop, error) {
	shop, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if params.Name != nil {
		updates["name"] = strings.TrimSpace(*params.Name)
	}
	if params.Description != nil {
		updates["description"] = *params.Description
	}
	if params.Address != nil {
		updates["address"] = *params.Address
	}
	if params.City != nil {
		updates["city"] = strings.TrimSpace(*params.City)
	}
	if params.Phone != nil {
		updates["phone"] = *params.Phone
	}
	if params.Services != nil {
		updates["services"] = joinServices(*params.Services)
	}

	if len(updates) == 0 {
		return shop, nil
	}
	if err := s.db.WithContext(ctx).Model(shop).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update shop: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete removes a shop with its bookings and reviews
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("shop_id = ?", id).Delete(&models.Review{}).Error; err != nil {
			return err
		}
		if err := tx.Where("shop_id = ?", id).Delete(&models.Booking{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.RepairShop{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete shop: %w", err)
	}

	s.logger.Info().Str("shop_id", id).Msg("Repair shop deleted")
	return nil
}

// CreateBooking requests an appointment at a shop
func (s *Service) CreateBooking(ctx context.Context, params BookingParams) (*models.Booking, error) {
	shop, err := s.Get(ctx, params.ShopID)
	if err != nil {
		return nil, err
	}

	if shop.OwnerID == params.CustomerID {
		return nil, apperr.Invalid("You cannot book your own shop")
	}
	if !params.ScheduledAt.After(s.now()) {
		return nil, apperr.Invalid("Booking must be scheduled in the future").
			WithDetails([]apperr.FieldError{{Field: "scheduled_at", Rule: "future", Message: "must be in the future"}})
	}

	booking := &models.Booking{
		ShopID:      shop.ID,
		CustomerID:  params.CustomerID,
		ScheduledAt: params.ScheduledAt.UTC(),
		Device:      strings.TrimSpace(params.Device),
		Issue:       params.Issue,
		Status:      models.BookingPending,
	}
	if err := s.db.WithContext(ctx).Create(booking).Error; err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	booking.Shop = *shop
	return booking, nil
}

// GetBooking loads a booking with its shop
func (s *Service) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	if err := models.FindByIDWithPreload(s.db.WithContext(ctx), id, &booking, "Shop"); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Booking not found")
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	return &booking, nil
}

// ListCustomerBookings returns bookings made by customerID, soonest first
func (s *Service) ListCustomerBookings(ctx context.Context, customerID string) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := s.db.WithContext(ctx).Preload("Shop").
		Where("customer_id = ?", customerID).
		Order("scheduled_at ASC").
		Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ListShopBookings returns bookings at a shop, optionally filtered by status
func (s *Service) ListShopBookings(ctx context.Context, shopID, status string) ([]models.Booking, error) {
	query := s.db.WithContext(ctx).Where("shop_id = ?", shopID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var bookings []models.Booking
	if err := query.Order("scheduled_at ASC").Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("failed to list shop bookings: %w", err)
	}
	return bookings, nil
}

// UpdateBookingStatus moves a booking along its lifecycle on behalf of actorID,
// who must be the customer or the shop owner. Customers may only cancel.
func (s *Service) UpdateBookingStatus(ctx context.Context, actorID, bookingID, status string) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var allowed []string
	switch actorID {
	case booking.Shop.OwnerID:
		allowed = shopStatuses
	case booking.CustomerID:
		allowed = customerStatuses
	default:
		return nil, apperr.New(apperr.KindNotOwner, "")
	}

	if !slices.Contains(allowed, status) {
		return nil, apperr.Forbidden(fmt.Sprintf("You cannot set a booking to %s", status))
	}
	if !slices.Contains(bookingTransitions[booking.Status], status) {
		return nil, apperr.InvalidState(fmt.Sprintf("Booking cannot move from %s to %s", booking.Status, status))
	}
	// Shops turn down pending requests by declining them
	if actorID == booking.Shop.OwnerID && status == models.BookingCancelled && booking.Status == models.BookingPending {
		return nil, apperr.InvalidState("Decline a pending booking instead of cancelling it")
	}

	now := s.now().UTC()
	updates := map[string]interface{}{"status": status}
	if booking.Status == models.BookingPending && actorID == booking.Shop.OwnerID {
		updates["responded_at"] = now
	}

	// Conditional update guards against a concurrent transition
	result := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", booking.ID, booking.Status).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update booking: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperr.InvalidState("Booking was modified concurrently, please retry")
	}

	if status == models.BookingConfirmed {
		s.scheduleReminder(booking)
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("from", booking.Status).
		Str("to", status).
		Str("actor_id", actorID).
		Msg("Booking status changed")

	return s.GetBooking(ctx, bookingID)
}

func (s *Service) scheduleReminder(booking *models.Booking) {
	if s.enqueuer == nil {
		return
	}

	remindAt := booking.ScheduledAt.Add(-s.reminderLead)
	if remindAt.Before(s.now()) {
		remindAt = s.now()
	}

	task, err := tasks.NewBookingReminderTask(booking.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create booking reminder task")
		return
	}

	// A lost reminder must not fail the confirmation itself
	if _, err := s.enqueuer.Enqueue(task, asynq.ProcessAt(remindAt), asynq.MaxRetry(5)); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("Failed to enqueue booking reminder")
	}
}

// SendReminder records an in-app reminder for a still-confirmed booking
func (s *Service) SendReminder(ctx context.Context, bookingID string) error {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindNotFound {
			s.logger.Debug().Str("booking_id", bookingID).Msg("Booking gone, skipping reminder")
			return nil
		}
		return err
	}

	if booking.Status != models.BookingConfirmed {
		s.logger.Debug().Str("booking_id", bookingID).Str("status", booking.Status).Msg("Booking no longer confirmed, skipping reminder")
		return nil
	}

	notification := &models.Notification{
		UserID:    booking.CustomerID,
		Kind:      models.NotificationBookingReminder,
		SubjectID: booking.ID,
		Body: fmt.Sprintf("Reminder: your %s repair at %s is scheduled for %s",
			booking.Device, booking.Shop.Name, booking.ScheduledAt.Format("Mon Jan 2 15:04 MST")),
	}
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// ListReviews returns a shop's reviews, newest first
func (s *Service) ListReviews(ctx context.Context, shopID string) ([]models.Review, error) {
	if _, err := s.Get(ctx, shopID); err != nil {
		return nil, err
	}

	var reviews []models.Review
	if err := s.db.WithContext(ctx).Preload("Author").
		Where("shop_id = ?", shopID).
		Order("created_at DESC").
		Find(&reviews).Error; err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, nil
}

// GetReview loads a review
func (s *Service) GetReview(ctx context.Context, id string) (*models.Review, error) {
	var review models.Review
	if err := models.FindByID(s.db.WithContext(ctx), id, &review); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Review not found")
		}
		return nil, fmt.Errorf("failed to load review: %w", err)
	}
	return &review, nil
}

// CreateReview records a rating from a customer with a completed booking and
// refreshes the shop's aggregate rating in the same transaction.
func (s *Service) CreateReview(ctx context.Context, params ReviewParams) (*models.Review, error) {
	shop, err := s.Get(ctx, params.ShopID)
	if err != nil {
		return nil, err
	}
	if shop.OwnerID == params.AuthorID {
		return nil, apperr.Invalid("You cannot review your own shop")
	}

	review := &models.Review{
		ShopID:   shop.ID,
		AuthorID: params.AuthorID,
		Rating:   params.Rating,
		Comment:  params.Comment,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var completed int64
		if err := tx.Model(&models.Booking{}).
			Where("shop_id = ? AND customer_id = ? AND status = ?", shop.ID, params.AuthorID, models.BookingCompleted).
			Count(&completed).Error; err != nil {
			return err
		}
		if completed == 0 {
			return apperr.Forbidden("Only customers with a completed booking can review this shop")
		}

		var existing int64
		if err := tx.Model(&models.Review{}).
			Where("shop_id = ? AND author_id = ?", shop.ID, params.AuthorID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperr.Conflict("You have already reviewed this shop")
		}

		if err := tx.Create(review).Error; err != nil {
			return err
		}
		return refreshRating(tx, shop.ID)
	})
	if err != nil {
		return nil, err
	}

	return review, nil
}

// DeleteReview removes a review and refreshes the shop rating
func (s *Service) DeleteReview(ctx context.Context, id string) error {
	review, err := s.GetReview(ctx, id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Review{}, "id = ?", review.ID).Error; err != nil {
			return err
		}
		return refreshRating(tx, review.ShopID)
	})
}

func refreshRating(tx *gorm.DB, shopID string) error {
	var agg struct {
		Count int
		Avg   *float64
	}
	if err := tx.Model(&models.Review{}).
		Select("COUNT(*) AS count, AVG(rating) AS avg").
		Where("shop_id = ?", shopID).
		Scan(&agg).Error; err != nil {
		return err
	}

	avg := 0.0
	if agg.Avg != nil {
		avg = *agg.Avg
	}

	return tx.Model(&models.RepairShop{}).Where("id = ?", shopID).Updates(map[string]interface{}{
		"rating_avg":   avg,
		"review_count": agg.Count,
	}).Error
}

func joinServices(services []string) string {
	cleaned := make([]string, 0, len(services))
	for _, svc := range services {
		if svc = strings.ToLower(strings.TrimSpace(svc)); svc != "" && !slices.Contains(cleaned, svc) {
			cleaned = append(cleaned, svc)
		}
	}
	return strings.Join(cleaned, ",")
}
