package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys for storing authenticated user information.
type contextKey string

const (
	contextKeyClaims contextKey = "jwt_claims"
)

// Role represents an authorized persona within the marketplace.
type Role string

// Supported roles.
const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

var allowedRoles = map[Role]struct{}{
	RoleStudent: {},
	RoleAdmin:   {},
}

// Claims represents identity data extracted from the inbound request.
type Claims struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the caller holds the admin role.
func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

// Options controls signature verification and claim handling. Only HS256 is
// supported; the secret must be shared with the identity service that mints
// tokens.
type Options struct {
	Secret         string
	Issuer         string
	Audience       string
	MaxSkewSeconds int
}

// Middleware provides HTTP middleware that enforces bearer JWT
// authentication and attaches Claims to the request context.
type Middleware struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewMiddleware constructs a Middleware using the supplied configuration.
func NewMiddleware(cfg Options) (*Middleware, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: JWT secret must not be empty")
	}
	leeway := time.Duration(cfg.MaxSkewSeconds) * time.Second
	if cfg.MaxSkewSeconds <= 0 {
		leeway = 30 * time.Second
	}
	return &Middleware{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   leeway,
		now:      time.Now,
	}, nil
}

// SetNowFunc overrides the clock used for token validation, for tests.
func (m *Middleware) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	m.now = now
}

// Middleware applies bearer token enforcement before invoking the next
// handler.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	if m == nil {
		panic("auth middleware is nil")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			writeUnauthorized(w, "missing authorization")
			return
		}
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeUnauthorized(w, "invalid authorization scheme")
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}

		claims, err := m.Verify(token)
		if err != nil {
			writeUnauthorized(w, "invalid authorization token")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify parses and validates the token string and returns its claims.
func (m *Middleware) Verify(token string) (*Claims, error) {
	if m == nil {
		return nil, errors.New("auth: verifier not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	mapClaims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, mapClaims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token validation failed")
	}

	subject, _ := mapClaims["sub"].(string)
	userID, err := uuid.Parse(strings.TrimSpace(subject))
	if err != nil {
		return nil, fmt.Errorf("token subject is not a valid user id: %w", err)
	}

	role := RoleStudent
	if raw, ok := mapClaims["role"].(string); ok {
		candidate := Role(strings.ToLower(strings.TrimSpace(raw)))
		if _, allowed := allowedRoles[candidate]; !allowed {
			return nil, fmt.Errorf("role %q is not permitted", raw)
		}
		role = candidate
	}

	return &Claims{UserID: userID, Role: role}, nil
}

// FromContext extracts the Claims previously attached by the middleware.
func FromContext(ctx context.Context) (*Claims, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	if claims, ok := ctx.Value(contextKeyClaims).(*Claims); ok && claims != nil {
		return claims, nil
	}
	return nil, errors.New("missing identity in context")
}

// WithClaims attaches claims to a context directly, for tests and internal
// callers that bypass the HTTP middleware.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// RequireRole ensures the authenticated user has one of the allowed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				writeUnauthorized(w, "missing identity")
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprintf(w, `{"success":false,"message":%q}`, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MintToken issues a signed HS256 token for the given identity. Intended for
// tests and local tooling; production tokens come from the identity service.
func MintToken(secret string, userID uuid.UUID, role Role, issuer, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"success":false,"message":%q}`, msg)
}
