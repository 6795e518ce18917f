package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusmart/catalog"
	"campusmart/fees"
	"campusmart/files"
	"campusmart/ledger"
	"campusmart/models"
	"campusmart/notify"
	"campusmart/observability/logging"
	"campusmart/payments"
)

// DefaultDisputeWindow is how long a digital-goods buyer can contest a
// delivery after the order is created.
const DefaultDisputeWindow = 24 * time.Hour

const defaultDisputeReason = "Quality issue"

// Catalog is the listing collaborator contract.
type Catalog interface {
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	SetListingStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Actor identifies the authenticated caller of an operation.
type Actor struct {
	ID    uuid.UUID
	Admin bool
}

// Config bundles the collaborators and policy knobs for the service.
type Config struct {
	Ledger   *ledger.Store
	Catalog  Catalog
	Gateway  payments.Gateway
	Files    files.Provider
	Notifier notify.Sink
	Logger   *slog.Logger

	// AllowSelfPurchase permits buying one's own listing; production keeps
	// it false, dev and test environments may enable it.
	AllowSelfPurchase bool
	DisputeWindow     time.Duration
	DownloadTTL       time.Duration
}

// Service orchestrates the order lifecycle: creation, payment verification,
// delivery confirmation, disputes and refunds. All state changes go through
// the ledger's conditional transitions; notifications are emitted only after
// a transition has been applied.
type Service struct {
	ledger        *ledger.Store
	catalog       Catalog
	gateway       payments.Gateway
	files         files.Provider
	notifier      notify.Sink
	log           *slog.Logger
	allowSelfBuy  bool
	disputeWindow time.Duration
	downloadTTL   time.Duration
	nowFn         func() time.Time
}

// New constructs the service. Ledger and Catalog are required; a nil Gateway
// selects dev mode where payment capture is skipped entirely.
func New(cfg Config) *Service {
	if cfg.Ledger == nil {
		panic("orders: ledger required")
	}
	if cfg.Catalog == nil {
		panic("orders: catalog required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NoopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.DisputeWindow
	if window <= 0 {
		window = DefaultDisputeWindow
	}
	ttl := cfg.DownloadTTL
	if ttl <= 0 {
		ttl = files.DefaultTTL
	}
	return &Service{
		ledger:        cfg.Ledger,
		catalog:       cfg.Catalog,
		gateway:       cfg.Gateway,
		files:         cfg.Files,
		notifier:      notifier,
		log:           logger,
		allowSelfBuy:  cfg.AllowSelfPurchase,
		disputeWindow: window,
		downloadTTL:   ttl,
		nowFn:         time.Now,
	}
}

// SetNowFunc overrides the time source, for tests.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

// CreateResult carries the persisted order plus the gateway intent the
// client completes out-of-band. Intent is nil when the gateway is
// unavailable and the order fell through to escrow directly.
type CreateResult struct {
	Order  *models.Order    `json:"order"`
	Intent *payments.Intent `json:"intent,omitempty"`
}

// CreateOrder validates the listing, snapshots its price into a pending
// order with the fee split applied, and asks the gateway for a payment
// intent. Gateway unavailability is an expected degraded mode: the order
// moves straight to escrow without capture.
func (s *Service) CreateOrder(ctx context.Context, buyerID, listingID uuid.UUID) (*CreateResult, error) {
	if listingID == uuid.Nil {
		return nil, E(KindValidation, "listing id is required")
	}
	listing, err := s.catalog.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, E(KindNotFound, "listing not found")
		}
		return nil, err
	}
	if listing.Status != models.ListingActive {
		return nil, E(KindInvalidState, "this listing is no longer available")
	}
	if !s.allowSelfBuy && listing.SellerID == buyerID {
		return nil, E(KindValidation, "you cannot buy your own listing")
	}

	split, err := fees.ComputeSplit(listing.Price, listing.Type)
	if err != nil {
		return nil, Wrap(KindValidation, err, "fee split")
	}

	now := s.nowFn().UTC()
	order := &models.Order{
		ID:           uuid.New(),
		BuyerID:      buyerID,
		SellerID:     listing.SellerID,
		ListingID:    listing.ID,
		Amount:       listing.Price,
		PlatformFee:  split.Fee,
		SellerPayout: split.Payout,
		Currency:     listing.Currency,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if listing.Type == models.ListingDigital {
		deadline := now.Add(s.disputeWindow)
		order.DisputeDeadline = &deadline
	}

	if err := s.ledger.Create(ctx, order); err != nil {
		if errors.Is(err, ledger.ErrDuplicatePurchase) {
			return nil, E(KindInvalidState, "you have already purchased this item")
		}
		return nil, err
	}

	intent := s.createIntent(ctx, order)
	if intent == nil {
		// Dev/no-gateway fallback: skip capture, hold in escrow.
		escrowed, terr := s.ledger.Transition(ctx, order.ID, models.StatusPending, models.StatusEscrow, nil)
		if terr != nil {
			return nil, terr
		}
		order = escrowed
	}

	s.notifier.Notify(notify.Event{
		UserID:    order.SellerID,
		Kind:      notify.KindOrder,
		Title:     "New Order",
		Body:      fmt.Sprintf("Someone wants to buy %q.", listing.Title),
		RelatedID: order.ID.String(),
	})

	return &CreateResult{Order: order, Intent: intent}, nil
}

// createIntent attempts gateway intent creation; any failure is logged and
// reported as nil so the caller falls back to dev-mode escrow.
func (s *Service) createIntent(ctx context.Context, order *models.Order) *payments.Intent {
	if s.gateway == nil {
		return nil
	}
	intent, err := s.gateway.CreateIntent(ctx, order.Amount, order.Currency, order.ID.String())
	if err != nil {
		s.log.Warn("payment intent creation failed, falling back to escrow",
			"order", order.ID, "err", err)
		return nil
	}
	if err := s.ledger.SetIntentReference(ctx, order.ID, intent.GatewayOrderID); err != nil {
		s.log.Warn("storing intent reference failed", "order", order.ID, "err", err)
		return nil
	}
	order.IntentReference = intent.GatewayOrderID
	return intent
}

// VerifyPayment checks the gateway signature for the stored intent and
// transitions the order into escrow, recording the capture reference. A
// repeat valid call against an order already in escrow with the same capture
// reference is a no-op success.
func (s *Service) VerifyPayment(ctx context.Context, orderID uuid.UUID, gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, error) {
	if strings.TrimSpace(gatewayOrderID) == "" || strings.TrimSpace(gatewayPaymentID) == "" || strings.TrimSpace(signature) == "" {
		return nil, E(KindValidation, "missing payment verification fields")
	}
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == models.StatusEscrow {
		if order.CaptureReference == gatewayPaymentID {
			return order, nil
		}
		return nil, E(KindInvalidState, "payment already processed for this order")
	}
	if order.Status != models.StatusPending {
		return nil, E(KindInvalidState, "order is not awaiting payment")
	}
	if s.gateway == nil {
		return nil, E(KindGatewayUnavailable, "payment gateway not configured")
	}
	if order.IntentReference == "" || order.IntentReference != gatewayOrderID {
		return nil, E(KindInvalidSignature, "payment verification failed: order reference mismatch")
	}
	if !s.gateway.VerifySignature(gatewayOrderID, gatewayPaymentID, signature) {
		s.log.Warn("payment signature rejected",
			"order", orderID.String(),
			logging.MaskField("payment", gatewayPaymentID),
			logging.MaskField("signature", signature))
		return nil, E(KindInvalidSignature, "payment verification failed: invalid signature")
	}

	updated, err := s.ledger.Transition(ctx, orderID, models.StatusPending, models.StatusEscrow, func(o *models.Order) {
		o.CaptureReference = gatewayPaymentID
	})
	if err != nil {
		if errors.Is(err, ledger.ErrStaleState) {
			// Lost a race with an identical verification call.
			current, gerr := s.getOrder(ctx, orderID)
			if gerr == nil && current.Status == models.StatusEscrow && current.CaptureReference == gatewayPaymentID {
				return current, nil
			}
			return nil, E(KindInvalidState, "payment already processed for this order")
		}
		return nil, err
	}

	s.notifier.Notify(notify.Event{
		UserID:    updated.SellerID,
		Kind:      notify.KindOrder,
		Title:     "Payment Received",
		Body:      "Payment verified. Funds are held in escrow.",
		RelatedID: updated.ID.String(),
	})
	return updated, nil
}

// ConfirmDelivery moves an escrowed order to completed on behalf of its
// buyer, releasing the payout. Physical listings are marked sold as a side
// effect.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, callerID uuid.UUID) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != callerID {
		return nil, E(KindUnauthorized, "not authorized")
	}
	if order.Status != models.StatusEscrow {
		return nil, E(KindInvalidState, "order is not in escrow")
	}

	updated, err := s.ledger.Transition(ctx, orderID, models.StatusEscrow, models.StatusCompleted, func(o *models.Order) {
		o.DownloadConfirmed = true
	})
	if err != nil {
		return nil, s.mapTransitionErr(err)
	}

	if order.Listing != nil && order.Listing.Type == models.ListingPhysical {
		if err := s.catalog.SetListingStatus(ctx, order.ListingID, models.ListingSold); err != nil {
			s.log.Warn("marking listing sold failed", "listing", order.ListingID, "err", err)
		}
	}

	s.notifier.Notify(notify.Event{
		UserID:    updated.SellerID,
		Kind:      notify.KindOrder,
		Title:     "Delivery Confirmed",
		Body:      "The buyer confirmed receipt. Payment released to your account.",
		RelatedID: updated.ID.String(),
	})
	return updated, nil
}

// Dispute lets the buyer contest an escrowed order. Digital orders are
// bound by the dispute deadline captured at creation; physical orders may
// dispute for as long as they remain in escrow.
func (s *Service) Dispute(ctx context.Context, orderID, callerID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != callerID {
		return nil, E(KindUnauthorized, "not authorized")
	}
	if order.Status != models.StatusEscrow {
		return nil, E(KindInvalidState, "order cannot be disputed in current state")
	}
	if order.DisputeDeadline != nil && s.nowFn().After(*order.DisputeDeadline) {
		return nil, E(KindInvalidState, "dispute window has expired")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultDisputeReason
	}

	updated, err := s.ledger.Transition(ctx, orderID, models.StatusEscrow, models.StatusDisputed, func(o *models.Order) {
		o.DisputeReason = reason
	})
	if err != nil {
		return nil, s.mapTransitionErr(err)
	}

	s.notifier.Notify(notify.Event{
		UserID:    updated.SellerID,
		Kind:      notify.KindDispute,
		Title:     "Order Disputed",
		Body:      fmt.Sprintf("Buyer raised a dispute: %q.", reason),
		RelatedID: updated.ID.String(),
	})
	return updated, nil
}

// Refund resolves a disputed order in the buyer's favour. Restricted to
// administrators. When a capture reference exists the gateway refund must
// succeed before the order transitions; a failed refund leaves the order
// disputed and retriable.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	if !actor.Admin {
		return nil, E(KindUnauthorized, "refunds require an administrator")
	}
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusDisputed {
		return nil, E(KindInvalidState, "only disputed orders can be refunded")
	}

	if order.CaptureReference != "" {
		if s.gateway == nil {
			return nil, E(KindRefundFailed, "payment gateway not configured for refund")
		}
		if err := s.gateway.Refund(ctx, order.CaptureReference, 0); err != nil {
			s.log.Error("gateway refund failed",
				"order", order.ID.String(),
				logging.MaskField("capture", order.CaptureReference),
				"err", err)
			return nil, Wrap(KindRefundFailed, err, "gateway refund")
		}
	}

	updated, err := s.ledger.Transition(ctx, orderID, models.StatusDisputed, models.StatusRefunded, nil)
	if err != nil {
		return nil, s.mapTransitionErr(err)
	}

	s.notifier.Notify(notify.Event{
		UserID:    updated.BuyerID,
		Kind:      notify.KindOrder,
		Title:     "Refund Processed",
		Body:      "Your dispute was resolved. Refund has been initiated.",
		RelatedID: updated.ID.String(),
	})
	return updated, nil
}

// ListOrders returns the caller's orders filtered by marketplace role.
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, role string) ([]models.Order, error) {
	if strings.EqualFold(strings.TrimSpace(role), "seller") {
		return s.ledger.ListBySeller(ctx, userID)
	}
	return s.ledger.ListByBuyer(ctx, userID)
}

// DownloadLink issues a short-lived URL for the digital goods attached to a
// paid order. Only the buyer may download, and only once funds are at least
// in escrow.
func (s *Service) DownloadLink(ctx context.Context, orderID, callerID uuid.UUID) (string, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.BuyerID != callerID {
		return "", E(KindUnauthorized, "not authorized")
	}
	if order.Status != models.StatusEscrow && order.Status != models.StatusCompleted {
		return "", E(KindInvalidState, "payment not completed yet")
	}
	listing := order.Listing
	if listing == nil {
		fetched, lerr := s.catalog.GetListing(ctx, order.ListingID)
		if lerr != nil {
			return "", E(KindNotFound, "listing not found")
		}
		listing = fetched
	}
	if listing.FileKey == "" {
		return "", E(KindNotFound, "no downloadable file for this listing")
	}
	if s.files == nil {
		return "", E(KindGatewayUnavailable, "file storage not configured")
	}
	url, err := s.files.SignedURL(listing.FileKey, s.downloadTTL)
	if err != nil {
		return "", err
	}
	return url, nil
}

// SetMeetup records handover details on an escrowed physical order. Either
// party may set them.
func (s *Service) SetMeetup(ctx context.Context, orderID, callerID uuid.UUID, location string, when *time.Time, notes string) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != callerID && order.SellerID != callerID {
		return nil, E(KindUnauthorized, "not authorized")
	}
	if order.Status != models.StatusEscrow {
		return nil, E(KindInvalidState, "meetup details can only be set while in escrow")
	}
	if err := s.ledger.UpdateMeetup(ctx, orderID, strings.TrimSpace(location), when, strings.TrimSpace(notes)); err != nil {
		return nil, s.mapTransitionErr(err)
	}
	return s.getOrder(ctx, orderID)
}

func (s *Service) getOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.ledger.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, E(KindNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

func (s *Service) mapTransitionErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return E(KindNotFound, "order not found")
	case errors.Is(err, ledger.ErrStaleState), errors.Is(err, ledger.ErrInvalidTransition):
		return Wrap(KindInvalidState, err, "order state changed")
	default:
		return err
	}
}
