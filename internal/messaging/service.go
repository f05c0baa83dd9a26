package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/tasks"
)

const (
	maxPreviewRunes = 80
	pageSize        = 50
)

// Service handles direct messages between users and in-app notifications
type Service struct {
	db       *gorm.DB
	enqueuer tasks.Enqueuer
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a messaging service. enqueuer may be nil, in which case
// recipients are not notified.
func NewService(db *gorm.DB, enqueuer tasks.Enqueuer, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		enqueuer: enqueuer,
		now:      time.Now,
		logger:   logger.With().Str("component", "messaging_service").Logger(),
	}
}

// StartConversation returns the conversation between the two users about
// productID, creating it on first use
func (s *Service) StartConversation(ctx context.Context, userID, recipientID, productID string) (*models.Conversation, error) {
	if userID == recipientID {
		return nil, apperr.Invalid("You cannot start a conversation with yourself")
	}

	var recipients int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", recipientID).Count(&recipients).Error; err != nil {
		return nil, fmt.Errorf("failed to check recipient: %w", err)
	}
	if recipients == 0 {
		return nil, apperr.NotFound("Recipient not found")
	}

	if productID != "" {
		var products int64
		if err := s.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID).Count(&products).Error; err != nil {
			return nil, fmt.Errorf("failed to check product: %w", err)
		}
		if products == 0 {
			return nil, apperr.NotFound("Product not found")
		}
	}

	a, b := userID, recipientID
	if b < a {
		a, b = b, a
	}

	conversation := &models.Conversation{ParticipantA: a, ParticipantB: b, ProductID: productID}
	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(conversation).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	var existing models.Conversation
	if err := db.Where("participant_a = ? AND participant_b = ? AND product_id = ?", a, b, productID).
		First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &existing, nil
}

// GetConversation loads a conversation
func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := models.FindByID(s.db.WithContext(ctx), id, &conversation); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Conversation not found")
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conversation, nil
}

// ConversationSummary is a conversation with its unread count for one participant
type ConversationSummary struct {
	models.Conversation
	UnreadCount int64 `json:"unread_count"`
}

// ListConversations returns the conversations of userID, most recently active first
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	var conversations []models.Conversation
	if err := s.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Find(&conversations).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		var unread int64
		if err := s.db.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversation.ID, userID).
			Count(&unread).Error; err != nil {
			return nil, fmt.Errorf("failed to count unread messages: %w", err)
		}
		summaries = append(summaries, ConversationSummary{Conversation: conversation, UnreadCount: unread})
	}
	return summaries, nil
}

// ListMessages returns messages of a conversation oldest first, optionally
// only those created after the message with ID after
func (s *Service) ListMessages(ctx context.Context, conversationID, after string) ([]models.Message, error) {
	query := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if after != "" {
		// ULIDs sort by creation time
		query = query.Where("id > ?", after)
	}

	var messages []models.Message
	if err := query.Order("id ASC").Limit(pageSize).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// Send posts a message and schedules a notification for the other participant
func (s *Service) Send(ctx context.Context, conversationID, senderID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Invalid("Message body cannot be empty")
	}

	conversation, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	message := &models.Message{ConversationID: conversation.ID, SenderID: senderID, Body: body}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(conversation).Update("last_message_at", message.CreatedAt).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	s.notify(message)
	return message, nil
}

func (s *Service) notify(message *models.Message) {
	if s.enqueuer == nil {
		return
	}

	task, err := tasks.NewMessageNotifyTask(message.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create message notify task")
		return
	}
	if _, err := s.enqueuer.Enqueue(task); err != nil {
		s.logger.Warn().Err(err).Str("message_id", message.ID).Msg("Failed to enqueue message notification")
	}
}

// MarkRead marks every message userID received in a conversation as read
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, userID).
		Update("read_at", s.now().UTC())
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// NotifyMessage records an in-app notification for the recipient of a message.
// Messages the recipient already read, or that no longer exist, are skipped.
func (s *Service) NotifyMessage(ctx context.Context, messageID string) error {
	var message models.Message
	if err := models.FindByID(s.db.WithContext(ctx), messageID, &message); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Debug().Str("message_id", messageID).Msg("Message gone, skipping notification")
			return nil
		}
		return fmt.Errorf("failed to load message: %w", err)
	}
	if message.ReadAt != nil {
		return nil
	}

	conversation, err := s.GetConversation(ctx, message.ConversationID)
	if err != nil {
		return err
	}

	notification := &models.Notification{
		UserID:    conversation.Other(message.SenderID),
		Kind:      models.NotificationMessage,
		SubjectID: message.ID,
		Body:      preview(message.Body),
	}
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns the notifications of userID, newest first
func (s *Service) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var notifications []models.Notification
	if err := query.Order("id DESC").Limit(pageSize).Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// GetNotification loads a notification
func (s *Service) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var notification models.Notification
	if err := models.FindByID(s.db.WithContext(ctx), id, &notification); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Notification not found")
		}
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}
	return &notification, nil
}

// MarkNotificationRead marks one notification read
func (s *Service) MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error) {
	notification, err := s.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if notification.ReadAt != nil {
		return notification, nil
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(notification).Update("read_at", now).Error; err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	notification.ReadAt = &now
	return notification, nil
}

func preview(body string) string {
	runes := []rune(body)
	if len(runes) <= maxPreviewRunes {
		return body
	}
	return string(runes[:maxPreviewRunes-1]) + "…"
}
