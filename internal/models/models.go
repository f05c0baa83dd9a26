package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// User is the marketplace profile of an identity. The ID is the identity
// provider's subject, so profiles are never created with a generated ID.
type User struct {
	BaseModel
	Email       string    `json:"email" gorm:"uniqueIndex;not null"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio" gorm:"type:text"`
	Phone       string    `json:"phone"`
	AvatarURL   string    `json:"avatar_url"`
	UserType    string    `json:"user_type" gorm:"not null;default:individual"`
	Verified    bool      `json:"verified" gorm:"not null;default:false"`
	IsAdmin     bool      `json:"is_admin" gorm:"not null;default:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Credential is a local-mode password record (unused with Supabase)
type Credential struct {
	BaseModel
	UserID       string `json:"user_id" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
}

// RevokedToken records a signed-out local-mode token until it would have expired
type RevokedToken struct {
	JTI       string    `gorm:"primaryKey;type:varchar(36)"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

// Product statuses
const (
	ProductActive   = "active"
	ProductReserved = "reserved"
	ProductSold     = "sold"
	ProductArchived = "archived"
)

// Product is a listing offered by a user
type Product struct {
	BaseModel
	OwnerID     string         `json:"owner_id" gorm:"index;not null"`
	Title       string         `json:"title" gorm:"not null"`
	Description string         `json:"description" gorm:"type:text"`
	PriceCents  int64          `json:"price_cents" gorm:"not null"`
	Currency    string         `json:"currency" gorm:"type:varchar(3);not null;default:USD"`
	Condition   string         `json:"condition" gorm:"not null"`
	Category    string         `json:"category" gorm:"index"`
	Status      string         `json:"status" gorm:"index;not null;default:active"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	Images      []ProductImage `json:"images,omitempty" gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	// Owner is never serialized directly; handlers expose a public profile
	Owner *User `json:"-" gorm:"foreignKey:OwnerID;references:ID"`
}

// ProductImage is an object stored in the listing bucket
type ProductImage struct {
	BaseModel
	ProductID   string `json:"product_id" gorm:"index;not null"`
	Path        string `json:"path" gorm:"not null"`
	URL         string `json:"url" gorm:"not null"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// RepairShop is a business profile owned by a repair_shop user
type RepairShop struct {
	BaseModel
	OwnerID     string    `json:"owner_id" gorm:"index;not null"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description" gorm:"type:text"`
	Address     string    `json:"address"`
	City        string    `json:"city" gorm:"index"`
	Phone       string    `json:"phone"`
	Services    string    `json:"services" gorm:"type:text"` // Comma-separated service tags
	RatingAvg   float64   `json:"rating_avg" gorm:"not null;default:0"`
	ReviewCount int       `json:"review_count" gorm:"not null;default:0"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Booking statuses
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingDeclined  = "declined"
	BookingCancelled = "cancelled"
	BookingCompleted = "completed"
)

// Booking is a repair appointment at a shop
type Booking struct {
	BaseModel
	ShopID      string     `json:"shop_id" gorm:"index;not null"`
	CustomerID  string     `json:"customer_id" gorm:"index;not null"`
	ScheduledAt time.Time  `json:"scheduled_at" gorm:"not null"`
	Device      string     `json:"device" gorm:"not null"`
	Issue       string     `json:"issue" gorm:"type:text"`
	Status      string     `json:"status" gorm:"index;not null;default:pending"`
	RespondedAt *time.Time `json:"responded_at"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	Shop        RepairShop `json:"shop,omitzero" gorm:"foreignKey:ShopID;constraint:OnDelete:CASCADE"`
}

// Review is a customer rating of a shop
type Review struct {
	BaseModel
	ShopID   string `json:"shop_id" gorm:"uniqueIndex:idx_review_shop_author;not null"`
	AuthorID string `json:"author_id" gorm:"uniqueIndex:idx_review_shop_author;not null"`
	Rating   int    `json:"rating" gorm:"not null"`
	Comment  string `json:"comment" gorm:"type:text"`
	Author   *User  `json:"-" gorm:"foreignKey:AuthorID;references:ID"`
}

// Transaction statuses
const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
	TransactionCancelled = "cancelled"
	TransactionRefunded  = "refunded"
)

// Transaction is a purchase of a product between two users
type Transaction struct {
	BaseModel
	ProductID   string     `json:"product_id" gorm:"index;not null"`
	BuyerID     string     `json:"buyer_id" gorm:"index;not null"`
	SellerID    string     `json:"seller_id" gorm:"index;not null"`
	OfferID     *string    `json:"offer_id"`
	AmountCents int64      `json:"amount_cents" gorm:"not null"`
	Currency    string     `json:"currency" gorm:"type:varchar(3);not null"`
	Status      string     `json:"status" gorm:"index;not null;default:pending"`
	CompletedAt *time.Time `json:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	Refunds     []Refund   `json:"refunds,omitempty" gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
}

// Offer statuses
const (
	OfferPending   = "pending"
	OfferAccepted  = "accepted"
	OfferRejected  = "rejected"
	OfferWithdrawn = "withdrawn"
	OfferExpired   = "expired"
)

// Offer is a buyer's proposed price for a product
type Offer struct {
	BaseModel
	ProductID   string    `json:"product_id" gorm:"index;not null"`
	BuyerID     string    `json:"buyer_id" gorm:"index;not null"`
	SellerID    string    `json:"seller_id" gorm:"index;not null"`
	AmountCents int64     `json:"amount_cents" gorm:"not null"`
	Message     string    `json:"message" gorm:"type:text"`
	Status      string    `json:"status" gorm:"index;not null;default:pending"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"index;not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Refund statuses
const (
	RefundRequested = "requested"
	RefundApproved  = "approved"
	RefundRejected  = "rejected"
)

// Refund is a buyer's request to reverse a completed transaction
type Refund struct {
	BaseModel
	TransactionID string     `json:"transaction_id" gorm:"index;not null"`
	RequesterID   string     `json:"requester_id" gorm:"not null"`
	AmountCents   int64      `json:"amount_cents" gorm:"not null"`
	Reason        string     `json:"reason" gorm:"type:text"`
	Status        string     `json:"status" gorm:"index;not null;default:requested"`
	ResolvedByID  *string    `json:"resolved_by_id"`
	ResolvedAt    *time.Time `json:"resolved_at"`
}

// Conversation is a direct message thread between exactly two users.
// ParticipantA is always the lexically smaller user ID.
type Conversation struct {
	BaseModel
	ParticipantA  string     `json:"participant_a" gorm:"uniqueIndex:idx_conversation_pair;not null"`
	ParticipantB  string     `json:"participant_b" gorm:"uniqueIndex:idx_conversation_pair;not null"`
	ProductID     string     `json:"product_id" gorm:"uniqueIndex:idx_conversation_pair;not null;default:''"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

// Participants returns both user IDs of the conversation
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// Other returns the participant that is not userID
func (c *Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Message is a single direct message
type Message struct {
	BaseModel
	ConversationID string     `json:"conversation_id" gorm:"index;not null"`
	SenderID       string     `json:"sender_id" gorm:"not null"`
	Body           string     `json:"body" gorm:"type:text;not null"`
	ReadAt         *time.Time `json:"read_at"`
}

// Notification kinds
const (
	NotificationMessage         = "message"
	NotificationBookingReminder = "booking_reminder"
)

// Notification is an in-app notice produced by background workers
type Notification struct {
	BaseModel
	UserID    string     `json:"user_id" gorm:"index;not null"`
	Kind      string     `json:"kind" gorm:"not null"`
	SubjectID string     `json:"subject_id"` // ID of the message, booking, ... the notice is about
	Body      string     `json:"body" gorm:"type:text"`
	ReadAt    *time.Time `json:"read_at"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&User{}, &Credential{}, &RevokedToken{},
		&Product{}, &ProductImage{},
		&RepairShop{}, &Booking{}, &Review{},
		&Transaction{}, &Offer{}, &Refund{},
		&Conversation{}, &Message{}, &Notification{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

// FindByIDWithPreload finds a record by ID with preloading
func FindByIDWithPreload[T any](db *gorm.DB, id string, model *T, preloads ...string) error {
	query := db
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	return query.Where("id = ?", id).First(model).Error
}
