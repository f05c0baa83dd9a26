package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/fixmart-dev/fixmart/internal/messaging"
	"github.com/fixmart-dev/fixmart/internal/shops"
	"github.com/fixmart-dev/fixmart/internal/tasks"
	"github.com/fixmart-dev/fixmart/internal/transactions"
)

// Handlers are thin adapters from asynq tasks to the marketplace services
type Handlers struct {
	messaging    *messaging.Service
	shops        *shops.Service
	transactions *transactions.Service
	logger       zerolog.Logger
}

// NewHandlers creates the task handlers
func NewHandlers(messagingSvc *messaging.Service, shopsSvc *shops.Service, transactionsSvc *transactions.Service, logger zerolog.Logger) *Handlers {
	return &Handlers{
		messaging:    messagingSvc,
		shops:        shopsSvc,
		transactions: transactionsSvc,
		logger:       logger.With().Str("component", "workers").Logger(),
	}
}

// Register mounts every handler on mux
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeMessageNotify, h.HandleMessageNotify)
	mux.HandleFunc(tasks.TypeBookingReminder, h.HandleBookingReminder)
	mux.HandleFunc(tasks.TypeExpireOffers, h.HandleExpireOffers)
}

// HandleMessageNotify creates the in-app notification for a new message
func (h *Handlers) HandleMessageNotify(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParsePayload[tasks.MessagePayload](t)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	if err := h.messaging.NotifyMessage(ctx, payload.MessageID); err != nil {
		h.logger.Error().Err(err).Str("message_id", payload.MessageID).Msg("Failed to notify message recipient")
		return fmt.Errorf("failed to notify message recipient: %w", err)
	}
	return nil
}

// HandleBookingReminder reminds a customer of an upcoming confirmed booking
func (h *Handlers) HandleBookingReminder(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParsePayload[tasks.BookingPayload](t)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	if err := h.shops.SendReminder(ctx, payload.BookingID); err != nil {
		h.logger.Error().Err(err).Str("booking_id", payload.BookingID).Msg("Failed to send booking reminder")
		return fmt.Errorf("failed to send booking reminder: %w", err)
	}
	return nil
}

// HandleExpireOffers expires every overdue pending offer
func (h *Handlers) HandleExpireOffers(ctx context.Context, t *asynq.Task) error {
	count, err := h.transactions.ExpireOffers(ctx)
	if err != nil {
		return err
	}

	h.logger.Debug().Int64("expired", count).Msg("Offer expiry sweep finished")
	return nil
}
