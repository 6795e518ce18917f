package files

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the lifetime of download links handed to buyers.
const DefaultTTL = 5 * time.Minute

// Provider issues time-bounded download URLs for purchased digital goods.
type Provider interface {
	SignedURL(fileKey string, ttl time.Duration) (string, error)
}

// HMACSigner produces URLs of the form
// {base}/files/{key}?expires={unix}&sig={hex} where sig is the HMAC-SHA256
// of "key|expires" under the storage secret. The storage front-end verifies
// the same MAC before serving the object.
type HMACSigner struct {
	baseURL string
	secret  []byte
	nowFn   func() time.Time
}

// NewHMACSigner builds a signer rooted at baseURL.
func NewHMACSigner(baseURL, secret string) (*HMACSigner, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("files: base URL required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("files: signing secret required")
	}
	return &HMACSigner{
		baseURL: base,
		secret:  []byte(secret),
		nowFn:   time.Now,
	}, nil
}

// SetNowFunc overrides the clock, for tests.
func (s *HMACSigner) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

// SignedURL returns a download URL valid for ttl (DefaultTTL when zero).
func (s *HMACSigner) SignedURL(fileKey string, ttl time.Duration) (string, error) {
	key := strings.TrimSpace(fileKey)
	if key == "" {
		return "", errors.New("files: file key required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expires := s.nowFn().Add(ttl).Unix()
	values := url.Values{}
	values.Set("expires", strconv.FormatInt(expires, 10))
	values.Set("sig", s.sign(key, expires))
	return fmt.Sprintf("%s/files/%s?%s", s.baseURL, url.PathEscape(key), values.Encode()), nil
}

// Verify checks a previously issued signature and its expiry.
func (s *HMACSigner) Verify(fileKey string, expires int64, sig string) bool {
	if s.nowFn().Unix() > expires {
		return false
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(s.sign(fileKey, expires))
	if err != nil {
		return false
	}
	return hmac.Equal(provided, expected)
}

func (s *HMACSigner) sign(fileKey string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fileKey + "|" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
