package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func testGateway() *RazorpayGateway {
	return NewRazorpay(RazorpayConfig{KeyID: "rzp_test_key", KeySecret: "rzp_test_secret"})
}

func TestVerifySignatureAccepts(t *testing.T) {
	g := testGateway()
	sig := ComputeSignature("rzp_test_secret", "order_abc", "pay_xyz")
	if !g.VerifySignature("order_abc", "pay_xyz", sig) {
		t.Fatal("valid signature rejected")
	}
}

func TestVerifySignatureRejectsMutations(t *testing.T) {
	g := testGateway()
	sig := ComputeSignature("rzp_test_secret", "order_abc", "pay_xyz")

	for i := 0; i < len(sig); i++ {
		mutated := []byte(sig)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		if g.VerifySignature("order_abc", "pay_xyz", string(mutated)) {
			t.Fatalf("mutated signature accepted at index %d", i)
		}
	}
}

func TestVerifySignatureRejectsVariants(t *testing.T) {
	g := testGateway()
	sig := ComputeSignature("rzp_test_secret", "order_abc", "pay_xyz")

	cases := map[string]struct {
		orderID   string
		paymentID string
		sig       string
	}{
		"wrong order":      {"order_other", "pay_xyz", sig},
		"wrong payment":    {"order_abc", "pay_other", sig},
		"wrong secret":     {"order_abc", "pay_xyz", ComputeSignature("not-the-secret", "order_abc", "pay_xyz")},
		"truncated":        {"order_abc", "pay_xyz", sig[:len(sig)-2]},
		"empty":            {"order_abc", "pay_xyz", ""},
		"not hex":          {"order_abc", "pay_xyz", strings.Repeat("zz", 32)},
		"swapped pipe":     {"order_abc|pay_xyz", "", sig},
		"doubled":          {"order_abc", "pay_xyz", sig + sig},
	}
	for name, tc := range cases {
		if g.VerifySignature(tc.orderID, tc.paymentID, tc.sig) {
			t.Fatalf("%s: signature accepted", name)
		}
	}
}

func TestCreateIntentUnconfigured(t *testing.T) {
	g := NewRazorpay(RazorpayConfig{})
	if g.Configured() {
		t.Fatal("empty credentials reported configured")
	}
	_, err := g.CreateIntent(context.Background(), 100, "INR", "order-ref")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}
