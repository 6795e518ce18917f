package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusmart/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedOrder(t *testing.T, store *Store, status models.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:           uuid.New(),
		BuyerID:      uuid.New(),
		SellerID:     uuid.New(),
		ListingID:    uuid.New(),
		Amount:       500,
		PlatformFee:  100,
		SellerPayout: 400,
		Currency:     "INR",
		Status:       models.StatusPending,
	}
	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if status != models.StatusPending {
		if err := store.db.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("status", status).Error; err != nil {
			t.Fatalf("force status: %v", err)
		}
		order.Status = status
	}
	return order
}

func TestValidateTransitionTable(t *testing.T) {
	valid := []struct{ from, to models.OrderStatus }{
		{models.StatusPending, models.StatusEscrow},
		{models.StatusEscrow, models.StatusCompleted},
		{models.StatusEscrow, models.StatusDisputed},
		{models.StatusDisputed, models.StatusRefunded},
	}
	for _, tc := range valid {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Fatalf("%s -> %s should be allowed: %v", tc.from, tc.to, err)
		}
	}

	invalid := []struct{ from, to models.OrderStatus }{
		{models.StatusPending, models.StatusCompleted},
		{models.StatusPending, models.StatusDisputed},
		{models.StatusPending, models.StatusRefunded},
		{models.StatusEscrow, models.StatusRefunded},
		{models.StatusEscrow, models.StatusPending},
		{models.StatusDisputed, models.StatusCompleted},
		{models.StatusDisputed, models.StatusEscrow},
		{models.StatusCompleted, models.StatusPending},
		{models.StatusCompleted, models.StatusDisputed},
		{models.StatusCompleted, models.StatusRefunded},
		{models.StatusRefunded, models.StatusPending},
		{models.StatusRefunded, models.StatusEscrow},
	}
	for _, tc := range invalid {
		if err := ValidateTransition(tc.from, tc.to); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s should be rejected, got %v", tc.from, tc.to, err)
		}
	}
}

func TestCreateDuplicatePurchase(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	first := seedOrder(t, store, models.StatusPending)

	dup := &models.Order{
		ID:        uuid.New(),
		BuyerID:   first.BuyerID,
		ListingID: first.ListingID,
		SellerID:  first.SellerID,
		Amount:    500,
		Status:    models.StatusPending,
	}
	if err := store.Create(ctx, dup); !errors.Is(err, ErrDuplicatePurchase) {
		t.Fatalf("expected ErrDuplicatePurchase, got %v", err)
	}

	// A different buyer can still order the same listing.
	other := &models.Order{
		ID:        uuid.New(),
		BuyerID:   uuid.New(),
		ListingID: first.ListingID,
		SellerID:  first.SellerID,
		Amount:    500,
		Status:    models.StatusPending,
	}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("other buyer blocked: %v", err)
	}
}

func TestCreateAllowedAfterRefund(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	first := seedOrder(t, store, models.StatusRefunded)

	again := &models.Order{
		ID:        uuid.New(),
		BuyerID:   first.BuyerID,
		ListingID: first.ListingID,
		SellerID:  first.SellerID,
		Amount:    500,
		Status:    models.StatusPending,
	}
	if err := store.Create(ctx, again); err != nil {
		t.Fatalf("repurchase after refund blocked: %v", err)
	}
}

func TestTransitionApplied(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	order := seedOrder(t, store, models.StatusPending)

	updated, err := store.Transition(ctx, order.ID, models.StatusPending, models.StatusEscrow, func(o *models.Order) {
		o.CaptureReference = "pay_123"
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != models.StatusEscrow || updated.CaptureReference != "pay_123" {
		t.Fatalf("unexpected result: %+v", updated)
	}

	stored, err := store.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusEscrow || stored.CaptureReference != "pay_123" {
		t.Fatalf("mutation not persisted: %+v", stored)
	}
}

func TestTransitionStaleLeavesOrderUntouched(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	order := seedOrder(t, store, models.StatusEscrow)

	_, err := store.Transition(ctx, order.ID, models.StatusPending, models.StatusEscrow, func(o *models.Order) {
		o.CaptureReference = "should-not-apply"
	})
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	stored, err := store.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusEscrow || stored.CaptureReference != "" {
		t.Fatalf("failed transition mutated order: %+v", stored)
	}
}

func TestTransitionNotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))
	_, err := store.Transition(context.Background(), uuid.New(), models.StatusPending, models.StatusEscrow, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentTransitionsOneWinner(t *testing.T) {
	store := NewStore(setupTestDB(t))
	order := seedOrder(t, store, models.StatusEscrow)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		target := models.StatusCompleted
		if i%2 == 1 {
			target = models.StatusDisputed
		}
		wg.Add(1)
		go func(to models.OrderStatus) {
			defer wg.Done()
			_, err := store.Transition(context.Background(), order.ID, models.StatusEscrow, to, nil)
			results <- err
		}(target)
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrStaleState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	stored, err := store.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusCompleted && stored.Status != models.StatusDisputed {
		t.Fatalf("unexpected final state %s", stored.Status)
	}
}

func TestSetIntentReferenceOnlyWhilePending(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	order := seedOrder(t, store, models.StatusPending)
	if err := store.SetIntentReference(ctx, order.ID, "order_rzp_1"); err != nil {
		t.Fatalf("set intent reference: %v", err)
	}
	stored, _ := store.Get(ctx, order.ID)
	if stored.IntentReference != "order_rzp_1" {
		t.Fatalf("intent reference not stored: %+v", stored)
	}

	escrowed := seedOrder(t, store, models.StatusEscrow)
	if err := store.SetIntentReference(ctx, escrowed.ID, "late"); !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
}

func TestUpdateMeetup(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	order := seedOrder(t, store, models.StatusEscrow)

	when := time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)
	if err := store.UpdateMeetup(ctx, order.ID, "Main Library", &when, "bring student id"); err != nil {
		t.Fatalf("update meetup: %v", err)
	}
	stored, _ := store.Get(ctx, order.ID)
	if stored.MeetupLocation != "Main Library" || stored.MeetupTime == nil || stored.MeetupNotes != "bring student id" {
		t.Fatalf("meetup not stored: %+v", stored)
	}

	completed := seedOrder(t, store, models.StatusCompleted)
	if err := store.UpdateMeetup(ctx, completed.ID, "x", nil, ""); !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
	if err := store.UpdateMeetup(ctx, uuid.New(), "x", nil, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
