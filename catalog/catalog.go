// Package catalog is the order core's narrow view of the listing service.
// The core reads price/type/status/seller at order creation time and flips
// the status to sold when a physical order completes; listing CRUD and
// search live elsewhere.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusmart/models"
)

// ErrNotFound indicates the referenced listing does not exist.
var ErrNotFound = errors.New("catalog: listing not found")

// Store resolves listings from the shared database.
type Store struct {
	db *gorm.DB
}

// NewStore wraps the supplied database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetListing loads a listing by id.
func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &listing, nil
}

// SetListingStatus updates a listing's status.
func (s *Store) SetListingStatus(ctx context.Context, id uuid.UUID, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
