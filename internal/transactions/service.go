package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/models"
)

// Roles a user can list records as
const (
	AsBuyer  = "buyer"
	AsSeller = "seller"
)

// Service handles offers, purchases and refunds. No money moves here; only
// the state of each record and of the product involved.
type Service struct {
	db       *gorm.DB
	offerTTL time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a transactions service
func NewService(db *gorm.DB, offerTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		offerTTL: offerTTL,
		now:      time.Now,
		logger:   logger.With().Str("component", "transactions_service").Logger(),
	}
}

type OfferParams struct {
	ProductID   string
	BuyerID     string
	AmountCents int64
	Message     string
}

type RefundParams struct {
	TransactionID string
	RequesterID   string
	AmountCents   int64
	Reason        string
}

// CreateOffer proposes a price for an active product the buyer does not own
func (s *Service) CreateOffer(ctx context.Context, params OfferParams) (*models.Offer, error) {
	product, err := s.loadProduct(s.db.WithContext(ctx), params.ProductID)
	if err != nil {
		return nil, err
	}

	if product.OwnerID == params.BuyerID {
		return nil, apperr.Invalid("You cannot make an offer on your own product")
	}
	if product.Status != models.ProductActive {
		return nil, apperr.InvalidState("This product is not available")
	}
	if params.AmountCents <= 0 {
		return nil, apperr.Invalid("Offer amount must be positive").
			WithDetails([]apperr.FieldError{{Field: "amount_cents", Rule: "gt", Param: "0", Message: "must be greater than 0"}})
	}

	offer := &models.Offer{
		ProductID:   product.ID,
		BuyerID:     params.BuyerID,
		SellerID:    product.OwnerID,
		AmountCents: params.AmountCents,
		Message:     params.Message,
		Status:      models.OfferPending,
		ExpiresAt:   s.now().Add(s.offerTTL).UTC(),
	}
	if err := s.db.WithContext(ctx).Create(offer).Error; err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	s.logger.Info().
		Str("offer_id", offer.ID).
		Str("product_id", product.ID).
		Int64("amount_cents", offer.AmountCents).
		Msg("Offer created")

	return offer, nil
}

// GetOffer loads an offer
func (s *Service) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	var offer models.Offer
	if err := models.FindByID(s.db.WithContext(ctx), id, &offer); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Offer not found")
		}
		return nil, fmt.Errorf("failed to load offer: %w", err)
	}
	return &offer, nil
}

// ListOffers returns the offers userID made (AsBuyer), received (AsSeller) or
// either when role is empty
func (s *Service) ListOffers(ctx context.Context, userID, role, status string) ([]models.Offer, error) {
	query := partyScope(s.db.WithContext(ctx), userID, role)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var offers []models.Offer
	if err := query.Order("created_at DESC").Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	return offers, nil
}

// AcceptOffer turns a pending offer into a pending transaction at the offered
// amount, reserves the product and rejects competing offers.
func (s *Service) AcceptOffer(ctx context.Context, offerID string) (*models.Transaction, error) {
	var txn *models.Transaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var offer models.Offer
		if err := lockForUpdate(tx).Where("id = ?", offerID).First(&offer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Offer not found")
			}
			return err
		}

		if offer.Status != models.OfferPending {
			return apperr.InvalidState(fmt.Sprintf("Offer is already %s", offer.Status))
		}
		if !offer.ExpiresAt.After(s.now()) {
			return apperr.InvalidState("Offer has expired")
		}

		product, err := s.loadProduct(lockForUpdate(tx), offer.ProductID)
		if err != nil {
			return err
		}
		if product.Status != models.ProductActive {
			return apperr.InvalidState("This product is no longer available")
		}

		if err := tx.Model(&offer).Update("status", models.OfferAccepted).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Offer{}).
			Where("product_id = ? AND status = ? AND id <> ?", offer.ProductID, models.OfferPending, offer.ID).
			Update("status", models.OfferRejected).Error; err != nil {
			return err
		}

		txn, err = reserve(tx, product, offer.BuyerID, offer.AmountCents, &offer.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("offer_id", offerID).Str("transaction_id", txn.ID).Msg("Offer accepted")
	return txn, nil
}

// RejectOffer declines a pending offer
func (s *Service) RejectOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	return s.closeOffer(ctx, offerID, models.OfferRejected)
}

// WithdrawOffer retracts a pending offer
func (s *Service) WithdrawOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	return s.closeOffer(ctx, offerID, models.OfferWithdrawn)
}

func (s *Service) closeOffer(ctx context.Context, offerID, status string) (*models.Offer, error) {
	offer, err := s.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).Model(&models.Offer{}).
		Where("id = ? AND status = ?", offer.ID, models.OfferPending).
		Update("status", status)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update offer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperr.InvalidState(fmt.Sprintf("Offer is already %s", offer.Status))
	}

	return s.GetOffer(ctx, offerID)
}

// ExpireOffers marks every overdue pending offer expired and returns how many
// were changed
func (s *Service) ExpireOffers(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Offer{}).
		Where("status = ? AND expires_at <= ?", models.OfferPending, s.now().UTC()).
		Update("status", models.OfferExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire offers: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info().Int64("count", result.RowsAffected).Msg("Expired overdue offers")
	}
	return result.RowsAffected, nil
}

// Purchase buys an active product at its list price
func (s *Service) Purchase(ctx context.Context, buyerID, productID string) (*models.Transaction, error) {
	var txn *models.Transaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.loadProduct(lockForUpdate(tx), productID)
		if err != nil {
			return err
		}
		if product.OwnerID == buyerID {
			return apperr.Invalid("You cannot buy your own product")
		}
		if product.Status != models.ProductActive {
			return apperr.InvalidState("This product is not available")
		}

		if err := tx.Model(&models.Offer{}).
			Where("product_id = ? AND status = ?", product.ID, models.OfferPending).
			Update("status", models.OfferRejected).Error; err != nil {
			return err
		}

		txn, err = reserve(tx, product, buyerID, product.PriceCents, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("transaction_id", txn.ID).Str("product_id", productID).Msg("Product purchased")
	return txn, nil
}

// Get loads a transaction with its refunds
func (s *Service) Get(ctx context.Context, id string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := models.FindByIDWithPreload(s.db.WithContext(ctx), id, &txn, "Refunds"); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Transaction not found")
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &txn, nil
}

// List returns the transactions of userID, optionally restricted to one side
func (s *Service) List(ctx context.Context, userID, role string) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := partyScope(s.db.WithContext(ctx), userID, role).
		Order("created_at DESC").
		Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// Complete marks a pending transaction completed and the product sold
func (s *Service) Complete(ctx context.Context, id string) (*models.Transaction, error) {
	now := s.now().UTC()
	return s.settle(ctx, id, map[string]interface{}{
		"status":       models.TransactionCompleted,
		"completed_at": now,
	}, models.ProductSold)
}

// Cancel abandons a pending transaction and relists the product
func (s *Service) Cancel(ctx context.Context, id string) (*models.Transaction, error) {
	return s.settle(ctx, id, map[string]interface{}{
		"status": models.TransactionCancelled,
	}, models.ProductActive)
}

func (s *Service) settle(ctx context.Context, id string, updates map[string]interface{}, productStatus string) (*models.Transaction, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.Transaction
		if err := lockForUpdate(tx).Where("id = ?", id).First(&txn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Transaction not found")
			}
			return err
		}

		if txn.Status != models.TransactionPending {
			return apperr.InvalidState(fmt.Sprintf("Transaction is already %s", txn.Status))
		}

		if err := tx.Model(&txn).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Model(&models.Product{}).Where("id = ?", txn.ProductID).Update("status", productStatus).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("transaction_id", id).Interface("status", updates["status"]).Msg("Transaction settled")
	return s.Get(ctx, id)
}

// RequestRefund opens a refund on a completed transaction. Only one refund
// may be open at a time.
func (s *Service) RequestRefund(ctx context.Context, params RefundParams) (*models.Refund, error) {
	var refund *models.Refund

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.Transaction
		if err := lockForUpdate(tx).Where("id = ?", params.TransactionID).First(&txn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Transaction not found")
			}
			return err
		}

		if txn.Status != models.TransactionCompleted {
			return apperr.InvalidState("Only completed transactions can be refunded")
		}
		if params.AmountCents <= 0 || params.AmountCents > txn.AmountCents {
			return apperr.Invalid("Refund amount must be between 1 and the transaction amount").
				WithDetails([]apperr.FieldError{{
					Field:   "amount_cents",
					Rule:    "lte",
					Param:   fmt.Sprint(txn.AmountCents),
					Message: fmt.Sprintf("must be between 1 and %d", txn.AmountCents),
				}})
		}

		var open int64
		if err := tx.Model(&models.Refund{}).
			Where("transaction_id = ? AND status = ?", txn.ID, models.RefundRequested).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return apperr.Conflict("A refund is already pending for this transaction")
		}

		refund = &models.Refund{
			TransactionID: txn.ID,
			RequesterID:   params.RequesterID,
			AmountCents:   params.AmountCents,
			Reason:        params.Reason,
			Status:        models.RefundRequested,
		}
		return tx.Create(refund).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("refund_id", refund.ID).Str("transaction_id", params.TransactionID).Msg("Refund requested")
	return refund, nil
}

// GetRefund loads a refund
func (s *Service) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	var refund models.Refund
	if err := models.FindByID(s.db.WithContext(ctx), id, &refund); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Refund not found")
		}
		return nil, fmt.Errorf("failed to load refund: %w", err)
	}
	return &refund, nil
}

// ResolveRefund approves or rejects an open refund. Approval marks the
// transaction refunded.
func (s *Service) ResolveRefund(ctx context.Context, refundID, resolverID string, approve bool) (*models.Refund, error) {
	status := models.RefundRejected
	if approve {
		status = models.RefundApproved
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refund models.Refund
		if err := lockForUpdate(tx).Where("id = ?", refundID).First(&refund).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Refund not found")
			}
			return err
		}
		if refund.Status != models.RefundRequested {
			return apperr.InvalidState(fmt.Sprintf("Refund is already %s", refund.Status))
		}

		now := s.now().UTC()
		if err := tx.Model(&refund).Updates(map[string]interface{}{
			"status":         status,
			"resolved_by_id": resolverID,
			"resolved_at":    now,
		}).Error; err != nil {
			return err
		}

		if !approve {
			return nil
		}
		return tx.Model(&models.Transaction{}).
			Where("id = ?", refund.TransactionID).
			Update("status", models.TransactionRefunded).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("refund_id", refundID).Str("status", status).Str("resolved_by", resolverID).Msg("Refund resolved")
	return s.GetRefund(ctx, refundID)
}

func (s *Service) loadProduct(db *gorm.DB, id string) (*models.Product, error) {
	var product models.Product
	if err := models.FindByID(db, id, &product); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Product not found")
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return &product, nil
}

// reserve creates a pending transaction and takes the product off the market
func reserve(tx *gorm.DB, product *models.Product, buyerID string, amount int64, offerID *string) (*models.Transaction, error) {
	txn := &models.Transaction{
		ProductID:   product.ID,
		BuyerID:     buyerID,
		SellerID:    product.OwnerID,
		OfferID:     offerID,
		AmountCents: amount,
		Currency:    product.Currency,
		Status:      models.TransactionPending,
	}
	if err := tx.Create(txn).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(product).Update("status", models.ProductReserved).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

func partyScope(db *gorm.DB, userID, role string) *gorm.DB {
	switch role {
	case AsBuyer:
		return db.Where("buyer_id = ?", userID)
	case AsSeller:
		return db.Where("seller_id = ?", userID)
	default:
		return db.Where("buyer_id = ? OR seller_id = ?", userID, userID)
	}
}

// lockForUpdate takes row locks on postgres; sqlite serializes writers anyway
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
