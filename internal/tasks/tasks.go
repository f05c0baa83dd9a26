package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Messaging
	TypeMessageNotify = "message:notify"

	// Repair bookings
	TypeBookingReminder = "booking:reminder"

	// Periodic maintenance
	TypeExpireOffers = "offers:expire"
)

// Enqueuer is the part of *asynq.Client the API server needs
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// MessagePayload identifies a sent message
type MessagePayload struct {
	MessageID string `json:"message_id"`
}

// BookingPayload identifies a booking
type BookingPayload struct {
	BookingID string `json:"booking_id"`
}

// NewMessageNotifyTask creates a task to notify the recipient of a message
func NewMessageNotifyTask(messageID string) (*asynq.Task, error) {
	return newTask(TypeMessageNotify, MessagePayload{MessageID: messageID})
}

// NewBookingReminderTask creates a task to remind a customer of a confirmed booking
func NewBookingReminderTask(bookingID string) (*asynq.Task, error) {
	return newTask(TypeBookingReminder, BookingPayload{BookingID: bookingID})
}

// NewExpireOffersTask creates a task that expires all overdue pending offers
func NewExpireOffersTask() *asynq.Task {
	return asynq.NewTask(TypeExpireOffers, nil)
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(taskType, data), nil
}

// ParsePayload parses task payload from Asynq task
func ParsePayload[T any](task *asynq.Task) (T, error) {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
