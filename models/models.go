package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListingType distinguishes physical goods (books, calculators) from digital
// goods (notes, cheatsheets) sold as downloadable files.
type ListingType string

const (
	ListingPhysical ListingType = "physical"
	ListingDigital  ListingType = "digital"
)

// Listing status values.
const (
	ListingActive  = "active"
	ListingSold    = "sold"
	ListingFlagged = "flagged"
	ListingRemoved = "removed"
)

// OrderStatus represents a state in the order/escrow lifecycle.
type OrderStatus string

// All order states. Completed and Refunded are terminal.
const (
	StatusPending   OrderStatus = "pending"
	StatusEscrow    OrderStatus = "escrow"
	StatusCompleted OrderStatus = "completed"
	StatusDisputed  OrderStatus = "disputed"
	StatusRefunded  OrderStatus = "refunded"
)

// Valid reports whether the status is a known lifecycle state.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusEscrow, StatusCompleted, StatusDisputed, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are permitted.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// Listing is the marketplace item referenced by orders. The order core only
// reads price/type/status/seller at creation time and flips the status to
// sold when a physical order completes; everything else belongs to the
// listing service.
type Listing struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID  uuid.UUID   `gorm:"type:uuid;index" json:"sellerId"`
	Title     string      `gorm:"size:256" json:"title"`
	Type      ListingType `gorm:"size:16;index" json:"type"`
	Price     int64       `gorm:"not null" json:"price"`
	Currency  string      `gorm:"size:8;default:INR" json:"currency"`
	FileKey   string      `gorm:"size:512" json:"-"`
	Status    string      `gorm:"size:16;index;default:active" json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Order is the central entity: an append-only financial record mutated only
// through the ledger's state machine. Amount, PlatformFee and SellerPayout
// are captured once at creation in whole currency units and never recomputed;
// Amount == PlatformFee + SellerPayout holds at all times.
type Order struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BuyerID   uuid.UUID `gorm:"type:uuid;index" json:"buyerId"`
	SellerID  uuid.UUID `gorm:"type:uuid;index" json:"sellerId"`
	ListingID uuid.UUID `gorm:"type:uuid;index" json:"listingId"`

	Amount       int64  `gorm:"not null" json:"amount"`
	PlatformFee  int64  `gorm:"not null" json:"platformFee"`
	SellerPayout int64  `gorm:"not null" json:"sellerPayout"`
	Currency     string `gorm:"size:8;default:INR" json:"currency"`

	Status OrderStatus `gorm:"size:16;index" json:"status"`

	// IntentReference is the gateway order id issued at creation;
	// CaptureReference is the gateway payment id stored on verification.
	// Refunds use the capture reference only.
	IntentReference  string `gorm:"size:128" json:"intentReference,omitempty"`
	CaptureReference string `gorm:"size:128" json:"captureReference,omitempty"`

	DownloadConfirmed bool       `json:"downloadConfirmed"`
	DisputeReason     string     `gorm:"size:512" json:"disputeReason,omitempty"`
	DisputeDeadline   *time.Time `json:"disputeDeadline,omitempty"`

	MeetupLocation string     `gorm:"size:256" json:"meetupLocation,omitempty"`
	MeetupTime     *time.Time `json:"meetupTime,omitempty"`
	MeetupNotes    string     `gorm:"size:512" json:"meetupNotes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Listing *Listing `gorm:"foreignKey:ListingID" json:"listing,omitempty"`
}

// Notification is the persisted fire-and-forget record emitted on order
// state transitions. Delivery failures never roll back the transition.
type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;index" json:"userId"`
	Kind      string    `gorm:"size:32;index" json:"kind"`
	Title     string    `gorm:"size:128" json:"title"`
	Body      string    `gorm:"size:512" json:"body"`
	RelatedID string    `gorm:"size:64" json:"relatedId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Listing{},
		&Order{},
		&Notification{},
		&IdempotencyKey{},
	)
}
