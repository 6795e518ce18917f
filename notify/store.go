package notify

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusmart/models"
)

// Store reads persisted notifications back out for the API surface.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListByUser returns the user's notifications, newest first, capped at limit.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkRead flags a single notification as read. Scoped to the owner so one
// user cannot touch another's records.
func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true).Error
}
