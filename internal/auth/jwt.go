package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/calderahq/crm-auth-be/internal/models"
)

// Claims defines the JWT claims structure. The jti registered claim is the
// identity consulted against the blacklist.
type Claims struct {
	UserID string `json:"user_id"`
	RoleID int    `json:"role_id"`
	jwt.RegisteredClaims
}

type contextKey string

// claimsKey is the context key for the verified request identity.
const claimsKey = contextKey("authClaims")

// ClaimsFromContext returns the verified claims stored by the middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// Issuer mints and verifies session tokens. Verification consults the
// blacklist so a revoked token is rejected before its natural expiry.
type Issuer struct {
	secret    []byte
	ttl       time.Duration
	blacklist Blacklist
}

// NewIssuer creates a token issuer.
func NewIssuer(secret []byte, ttl time.Duration, blacklist Blacklist) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, blacklist: blacklist}
}

// Issue creates a new signed token for a given user.
func (i *Issuer) Issue(user models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		RoleID: user.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses the token, checks signature and expiry, and rejects
// blacklisted token identities.
func (i *Issuer) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	revoked, err := i.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("blacklist lookup: %w", err)
	}
	if revoked {
		return nil, fmt.Errorf("token revoked")
	}
	return claims, nil
}

// Revoke blacklists the token identity for the remainder of its validity.
func (i *Issuer) Revoke(ctx context.Context, claims *Claims) error {
	if claims.ExpiresAt == nil {
		return fmt.Errorf("token has no expiry")
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return fmt.Errorf("token already expired")
	}
	return i.blacklist.Revoke(ctx, claims.ID, ttl)
}

// Middleware creates a middleware for protecting routes. Verified claims are
// passed down via the request context, never via shared state.
func (i *Issuer) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenStr string

			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
					tokenStr = parts[1]
				}
			}

			if tokenStr == "" {
				unauthenticated(w)
				return
			}

			claims, err := i.Verify(r.Context(), tokenStr)
			if err != nil {
				unauthenticated(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"User not authenticated"}`))
}
