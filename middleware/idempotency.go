package middleware

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"campusmart/models"
)

// ContextKeyIDKey stores the idempotency key associated with the request.
type ContextKeyIDKey string

const contextKeyIdempotency ContextKeyIDKey = "idempotency-key"

// WithIdempotency ensures requests carrying the same Idempotency-Key header
// are executed once; replays receive the stored response verbatim. Requests
// without the header pass through untouched.
func WithIdempotency(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			var record models.IdempotencyKey
			if err := db.First(&record, "key = ?", key).Error; err == nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(record.Status)
				_, _ = io.WriteString(w, record.Response)
				return
			}

			recorder := &responseRecorder{ResponseWriter: w}
			ctx := context.WithValue(r.Context(), contextKeyIdempotency, key)
			next.ServeHTTP(recorder, r.WithContext(ctx))

			payload := models.IdempotencyKey{
				Key:       key,
				RequestID: uuid.NewString(),
				Method:    r.Method,
				Path:      r.URL.Path,
				Status:    recorder.status,
				Response:  recorder.buf,
				CreatedAt: time.Now(),
			}
			if payload.Status == 0 {
				payload.Status = http.StatusOK
			}
			_ = db.Create(&payload).Error
		})
	}
}

// IdempotencyKeyFromContext returns the key attached by WithIdempotency, if
// any.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(contextKeyIdempotency).(string)
	return key, ok && key != ""
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    string
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf += string(b)
	return rr.ResponseWriter.Write(b)
}
