package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusmart/models"
)

// Notification kinds emitted by the order service.
const (
	KindOrder   = "order"
	KindDispute = "dispute"
)

// Event is a user-facing notification queued after a successful order state
// transition. Delivery is fire-and-forget: a failure here never rolls back
// or blocks the financial transition that produced it.
type Event struct {
	UserID    uuid.UUID
	Kind      string
	Title     string
	Body      string
	RelatedID string
}

// Sink accepts notification events for asynchronous delivery.
type Sink interface {
	Notify(evt Event)
}

// NoopSink discards every event. Used in tests and tooling.
type NoopSink struct{}

func (NoopSink) Notify(Event) {}

const defaultQueueCapacity = 1024

// Queue is a bounded asynchronous sink that persists notification records.
// When the queue is full the event is dropped and counted; callers are never
// blocked by a slow or failing store.
type Queue struct {
	db     *gorm.DB
	log    *slog.Logger
	events chan Event
	nowFn  func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}
}

// NewQueue builds a queue draining into the supplied database. A capacity of
// zero or less selects the default.
func NewQueue(db *gorm.DB, logger *slog.Logger, capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:      db,
		log:     logger,
		events:  make(chan Event, capacity),
		nowFn:   time.Now,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the delivery worker. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		go q.run(ctx)
	})
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopped:
			// Drain what is already queued before exiting.
			for {
				select {
				case evt := <-q.events:
					q.persist(evt)
				default:
					return
				}
			}
		case evt := <-q.events:
			q.persist(evt)
		}
	}
}

func (q *Queue) persist(evt Event) {
	record := models.Notification{
		ID:        uuid.New(),
		UserID:    evt.UserID,
		Kind:      evt.Kind,
		Title:     evt.Title,
		Body:      evt.Body,
		RelatedID: evt.RelatedID,
		CreatedAt: q.nowFn().UTC(),
	}
	if err := q.db.Create(&record).Error; err != nil {
		q.log.Warn("notification delivery failed", "user", evt.UserID, "kind", evt.Kind, "err", err)
		notificationsDropped.WithLabelValues("store_error").Inc()
	}
}

// Notify enqueues an event without blocking. Overflow drops the event.
func (q *Queue) Notify(evt Event) {
	select {
	case q.events <- evt:
	default:
		q.log.Warn("notification queue full, dropping event", "user", evt.UserID, "kind", evt.Kind)
		notificationsDropped.WithLabelValues("overflow").Inc()
	}
}

// Close stops the worker after draining queued events.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.stopped)
	})
	<-q.done
}
