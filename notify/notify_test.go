package notify

import (
	"context"
	"fmt"
	"testing"

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

func TestQueuePersistsEvents(t *testing.T) {
	db := setupTestDB(t)
	queue := NewQueue(db, nil, 16)
	queue.Start(context.Background())

	user := uuid.New()
	queue.Notify(Event{UserID: user, Kind: KindOrder, Title: "New Order", Body: "hi", RelatedID: "abc"})
	queue.Notify(Event{UserID: user, Kind: KindDispute, Title: "Order Disputed", Body: "hm"})
	queue.Close()

	store := NewStore(db)
	list, err := store.ListByUser(context.Background(), user, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
}

func TestQueueOverflowDoesNotBlock(t *testing.T) {
	db := setupTestDB(t)
	queue := NewQueue(db, nil, 1)
	// Worker not started: the second event must be dropped, not block.
	queue.Notify(Event{UserID: uuid.New(), Kind: KindOrder})
	done := make(chan struct{})
	go func() {
		queue.Notify(Event{UserID: uuid.New(), Kind: KindOrder})
		close(done)
	}()
	select {
	case <-done:
	default:
		// Give the goroutine a chance to finish; Notify must not block.
		<-done
	}
}

func TestStoreMarkRead(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	user := uuid.New()
	record := models.Notification{ID: uuid.New(), UserID: user, Kind: KindOrder, Title: "t"}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Another user cannot flip it.
	if err := store.MarkRead(context.Background(), uuid.New(), record.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	var stored models.Notification
	if err := db.First(&stored, "id = ?", record.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Read {
		t.Fatal("foreign user marked notification read")
	}

	if err := store.MarkRead(context.Background(), user, record.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := db.First(&stored, "id = ?", record.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !stored.Read {
		t.Fatal("owner could not mark notification read")
	}
}
