package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSignature builds the hex-encoded HMAC-SHA256 signature the gateway
// attaches to a completed payment: the MAC of "orderID|paymentID" under the
// shared key secret.
func ComputeSignature(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a client-supplied payment signature against the
// stored gateway order id and payment id. The comparison runs over the raw
// MAC bytes via hmac.Equal so it is constant time; malformed hex fails
// outright.
func (g *RazorpayGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if g == nil || g.keySecret == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hmac.Equal(provided, mac.Sum(nil))
}
