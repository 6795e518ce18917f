package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campusmart/models"
)

var (
	// ErrNotFound indicates the referenced order does not exist.
	ErrNotFound = errors.New("ledger: order not found")
	// ErrInvalidTransition indicates the requested transition is not in the
	// state machine table.
	ErrInvalidTransition = errors.New("ledger: invalid transition")
	// ErrStaleState indicates a concurrent transition applied first; the
	// caller observed a status that no longer holds.
	ErrStaleState = errors.New("ledger: order state changed concurrently")
	// ErrDuplicatePurchase indicates the buyer already has an active order
	// on the listing.
	ErrDuplicatePurchase = errors.New("ledger: buyer already has an active order for this listing")
)

// activeStatuses are the states that block a repeat purchase of the same
// listing by the same buyer.
var activeStatuses = []models.OrderStatus{
	models.StatusPending, models.StatusEscrow, models.StatusCompleted,
}

// Store is the entity store for orders. Every mutation goes through a
// conditional update keyed by (order id, expected status) so concurrent
// transition attempts on one order cannot both apply.
type Store struct {
	db *gorm.DB
}

// NewStore wraps the supplied database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a new pending order after enforcing the duplicate-purchase
// invariant inside a single transaction.
func (s *Store) Create(ctx context.Context, order *models.Order) error {
	if order == nil {
		return errors.New("ledger: nil order")
	}
	if !order.Status.Valid() {
		return fmt.Errorf("ledger: invalid status %q", order.Status)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Order{}).
			Where("buyer_id = ? AND listing_id = ? AND status IN ?", order.BuyerID, order.ListingID, activeStatuses).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicatePurchase
		}
		return tx.Create(order).Error
	})
}

// Get loads an order by id together with its listing snapshot.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Listing").First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListByBuyer returns the buyer's orders, newest first.
func (s *Store) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Order, error) {
	return s.list(ctx, "buyer_id = ?", buyerID)
}

// ListBySeller returns the seller's orders, newest first.
func (s *Store) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Order, error) {
	return s.list(ctx, "seller_id = ?", sellerID)
}

func (s *Store) list(ctx context.Context, cond string, arg any) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).Preload("Listing").
		Where(cond, arg).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Transition moves an order from the expected status to the next one,
// applying mutate to the row inside the same conditional write. The write is
// guarded by WHERE status = expected: when a concurrent transition wins the
// race, zero rows match and the caller receives ErrStaleState with the order
// left untouched. A failed attempt never applies a partial mutation.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to models.OrderStatus, mutate func(*models.Order)) (*models.Order, error) {
	if err := ValidateTransition(from, to); err != nil {
		return nil, err
	}
	var updated models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if order.Status != from {
			return fmt.Errorf("%w: expected %s, found %s", ErrStaleState, from, order.Status)
		}
		order.Status = to
		if mutate != nil {
			mutate(&order)
		}
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", id, from).
			Omit(clause.Associations, "created_at").
			Select("*").
			Updates(&order)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetIntentReference stores the gateway order id on a freshly created order.
// The write only applies while the order is still pending, so a concurrent
// transition cannot be overwritten.
func (s *Store) SetIntentReference(ctx context.Context, id uuid.UUID, ref string) error {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Update("intent_reference", ref)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: intent reference requires pending", ErrStaleState)
	}
	return nil
}

// UpdateMeetup records meetup metadata on an order while it remains in
// escrow. The status guard keeps the write from applying once the order has
// moved on, mirroring the conditional-update discipline of Transition.
func (s *Store) UpdateMeetup(ctx context.Context, id uuid.UUID, location string, when *time.Time, notes string) error {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.StatusEscrow).
		Updates(map[string]any{
			"meetup_location": location,
			"meetup_time":     when,
			"meetup_notes":    notes,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return fmt.Errorf("%w: meetup details require escrow", ErrStaleState)
	}
	return nil
}
