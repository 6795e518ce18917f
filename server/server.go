package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusmart/auth"
	"campusmart/middleware"
	"campusmart/models"
	"campusmart/notify"
	"campusmart/observability"
	"campusmart/orders"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB            *gorm.DB
	Orders        *orders.Service
	Notifications *notify.Store
	Auth          *auth.Middleware
	Obs           *observability.Observability
	Logger        *slog.Logger

	// PaymentRPS limits order creation and payment verification per client
	// address.
	PaymentRPS   float64
	PaymentBurst int
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	db     *gorm.DB
	orders *orders.Service
	notes  *notify.Store
	obs    *observability.Observability
	log    *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router with authentication, idempotency
// and rate limiting.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		db:     cfg.DB,
		orders: cfg.Orders,
		notes:  cfg.Notifications,
		obs:    cfg.Obs,
		log:    logger,
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Health)
	if s.obs != nil {
		r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())
	}

	payLimiter := newIPLimiter(cfg.PaymentRPS, cfg.PaymentBurst)

	r.Route("/api/v1", func(api chi.Router) {
		if s.obs != nil {
			api.Use(s.obs.Middleware("api"))
		}
		api.Use(middleware.WithIdempotency(s.db))
		api.Use(cfg.Auth.Middleware)

		api.Route("/orders", func(ord chi.Router) {
			ord.With(payLimiter.middleware).Post("/", s.CreateOrder)
			ord.With(payLimiter.middleware).Post("/verify-payment", s.VerifyPayment)
			ord.Get("/", s.ListOrders)
			ord.Post("/{id}/confirm", s.ConfirmDelivery)
			ord.Post("/{id}/dispute", s.Dispute)
			ord.With(auth.RequireRole(auth.RoleAdmin)).Post("/{id}/refund", s.Refund)
			ord.Get("/{id}/download", s.Download)
			ord.Put("/{id}/meetup", s.SetMeetup)
		})

		api.Route("/notifications", func(n chi.Router) {
			n.Get("/", s.ListNotifications)
			n.Post("/{id}/read", s.MarkNotificationRead)
		})
	})

	return r
}

// Health reports process and database liveness.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			writeMessage(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createOrderRequest struct {
	ListingID string `json:"listingId"`
}

// CreateOrder handles POST /api/v1/orders.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	listingID, err := uuid.Parse(strings.TrimSpace(req.ListingID))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	result, err := s.orders.CreateOrder(r.Context(), claims.UserID, listingID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if result.Order.Status == models.StatusEscrow {
		// Dev fallback moved the order straight past capture.
		s.recordTransition(models.StatusPending, models.StatusEscrow)
	}
	writeData(w, http.StatusCreated, result)
}

type verifyPaymentRequest struct {
	OrderID          string `json:"orderId"`
	GatewayOrderID   string `json:"razorpayOrderId"`
	GatewayPaymentID string `json:"razorpayPaymentId"`
	Signature        string `json:"razorpaySignature"`
}

// VerifyPayment handles POST /api/v1/orders/verify-payment.
func (s *Server) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.FromContext(r.Context()); err != nil {
		writeMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := s.orders.VerifyPayment(r.Context(), orderID, req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.recordTransition(models.StatusPending, order.Status)
	writeData(w, http.StatusOK, order)
}

// ConfirmDelivery handles POST /api/v1/orders/{id}/confirm.
func (s *Server) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	claims, orderID, ok := s.authedOrderID(w, r)
	if !ok {
		return
	}
	order, err := s.orders.ConfirmDelivery(r.Context(), orderID, claims.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.recordTransition(models.StatusEscrow, order.Status)
	writeData(w, http.StatusOK, order)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

// Dispute handles POST /api/v1/orders/{id}/dispute.
func (s *Server) Dispute(w http.ResponseWriter, r *http.Request) {
	claims, orderID, ok := s.authedOrderID(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	order, err := s.orders.Dispute(r.Context(), orderID, claims.UserID, req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.recordTransition(models.StatusEscrow, order.Status)
	writeData(w, http.StatusOK, order)
}

// Refund handles POST /api/v1/orders/{id}/refund. Admin only; the role gate
// sits in the router.
func (s *Server) Refund(w http.ResponseWriter, r *http.Request) {
	claims, orderID, ok := s.authedOrderID(w, r)
	if !ok {
		return
	}
	order, err := s.orders.Refund(r.Context(), orderID, orders.Actor{ID: claims.UserID, Admin: claims.IsAdmin()})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.recordTransition(models.StatusDisputed, order.Status)
	writeData(w, http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders?role=buyer|seller.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}
	list, err := s.orders.ListOrders(r.Context(), claims.UserID, r.URL.Query().Get("role"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

// Download handles GET /api/v1/orders/{id}/download.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	claims, orderID, ok := s.authedOrderID(w, r)
	if !ok {
		return
	}
	url, err := s.orders.DownloadLink(r.Context(), orderID, claims.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"downloadUrl": url})
}

type meetupRequest struct {
	Location string     `json:"location"`
	Time     *time.Time `json:"time"`
	Notes    string     `json:"notes"`
}

// SetMeetup handles PUT /api/v1/orders/{id}/meetup.
func (s *Server) SetMeetup(w http.ResponseWriter, r *http.Request) {
	claims, orderID, ok := s.authedOrderID(w, r)
	if !ok {
		return
	}
	var req meetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	order, err := s.orders.SetMeetup(r.Context(), orderID, claims.UserID, req.Location, req.Time, req.Notes)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

// ListNotifications handles GET /api/v1/notifications.
func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}
	list, err := s.notes.ListByUser(r.Context(), claims.UserID, 0)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	writeData(w, http.StatusOK, list)
}

// MarkNotificationRead handles POST /api/v1/notifications/{id}/read.
func (s *Server) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := s.notes.MarkRead(r.Context(), claims.UserID, id); err != nil {
		writeMessage(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"read": true})
}

func (s *Server) recordTransition(from, to models.OrderStatus) {
	if s.obs != nil {
		s.obs.RecordTransition(string(from), string(to))
	}
}

func (s *Server) authedOrderID(w http.ResponseWriter, r *http.Request) (*auth.Claims, uuid.UUID, bool) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "missing identity")
		return nil, uuid.Nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid order id")
		return nil, uuid.Nil, false
	}
	return claims, orderID, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	kind, ok := orders.KindOf(err)
	if !ok {
		s.log.Error("internal error", "err", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch kind {
	case orders.KindValidation, orders.KindInvalidSignature:
		status = http.StatusBadRequest
	case orders.KindNotFound:
		status = http.StatusNotFound
	case orders.KindUnauthorized:
		status = http.StatusForbidden
	case orders.KindInvalidState:
		status = http.StatusConflict
	case orders.KindGatewayUnavailable:
		status = http.StatusServiceUnavailable
	case orders.KindRefundFailed:
		status = http.StatusBadGateway
	}
	var typed *orders.Error
	msg := "request failed"
	if errors.As(err, &typed) {
		msg = typed.Message
	}
	writeMessage(w, status, msg)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: v})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: msg})
}
