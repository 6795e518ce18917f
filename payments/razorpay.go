package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrGatewayUnavailable indicates the payment processor is unreachable
	// or credentials are not configured. Callers treat this as a degraded
	// mode, not a failure: order creation falls back to the dev escrow path.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrRefundFailed indicates the remote refund call errored. The order
	// must stay disputed so the refund can be retried.
	ErrRefundFailed = errors.New("payments: refund failed")
)

// Intent captures the gateway-side payment order the client wallet completes
// out-of-band. AmountMinor is expressed in the smallest currency unit.
type Intent struct {
	GatewayOrderID string `json:"id"`
	AmountMinor    int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId"`
}

// Gateway is the subset of the payment processor API the order service
// requires.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, orderRef string) (*Intent, error)
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool
	Refund(ctx context.Context, paymentRef string, amountMinor int64) error
}

// RazorpayConfig carries the gateway credentials. Empty credentials leave
// the adapter in unconfigured mode.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
}

// RazorpayGateway implements Gateway against the Razorpay HTTP API.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	baseURL   string
	http      *http.Client
}

// NewRazorpay constructs a gateway client with sane defaults.
func NewRazorpay(cfg RazorpayConfig) *RazorpayGateway {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.razorpay.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RazorpayGateway{
		keyID:     strings.TrimSpace(cfg.KeyID),
		keySecret: strings.TrimSpace(cfg.KeySecret),
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
	}
}

// Configured reports whether both credentials are present.
func (g *RazorpayGateway) Configured() bool {
	return g != nil && g.keyID != "" && g.keySecret != ""
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type createOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateIntent registers a gateway order for the supplied amount in whole
// currency units; the gateway operates in minor units, so the amount is
// scaled by 100 here. Unconfigured credentials and remote errors both
// surface as ErrGatewayUnavailable.
func (g *RazorpayGateway) CreateIntent(ctx context.Context, amount int64, currency, orderRef string) (*Intent, error) {
	if !g.Configured() {
		return nil, fmt.Errorf("%w: credentials not configured", ErrGatewayUnavailable)
	}
	if amount < 0 {
		return nil, fmt.Errorf("payments: negative amount %d", amount)
	}
	amountMinor := amount * 100
	payload := createOrderRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  orderRef,
		Notes:    map[string]string{"orderId": orderRef},
	}
	var resp createOrderResponse
	if err := g.doRequest(ctx, http.MethodPost, "/orders", payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return &Intent{
		GatewayOrderID: resp.ID,
		AmountMinor:    resp.Amount,
		Currency:       resp.Currency,
		KeyID:          g.keyID,
	}, nil
}

type refundRequest struct {
	Amount int64 `json:"amount,omitempty"`
}

// Refund issues a refund against a captured payment. amountMinor of zero
// refunds the full capture. Remote errors surface as ErrRefundFailed; the
// caller must not mark the order refunded on error.
func (g *RazorpayGateway) Refund(ctx context.Context, paymentRef string, amountMinor int64) error {
	if !g.Configured() {
		return fmt.Errorf("%w: credentials not configured", ErrRefundFailed)
	}
	if strings.TrimSpace(paymentRef) == "" {
		return fmt.Errorf("%w: missing payment reference", ErrRefundFailed)
	}
	path := fmt.Sprintf("/payments/%s/refund", paymentRef)
	if err := g.doRequest(ctx, http.MethodPost, path, refundRequest{Amount: amountMinor}, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	return nil
}

func (g *RazorpayGateway) doRequest(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret)
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("razorpay %s failed: status=%d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
