// Package identity adapts principals issued by the external identity system.
// This service never authenticates credentials; it only verifies the signed
// claims handed to it and exposes the resolved user to downstream handlers.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/types"
)

type contextKey string

const principalKey contextKey = "principal"

// Claims represents the principal claims issued by the identity system
type Claims struct {
	UserID      string   `json:"user_id"`
	StaffID     string   `json:"staff_id"`
	Roles       []string `json:"roles"`
	Department  string   `json:"department"`
	Specialties []string `json:"specialties,omitempty"`
	jwt.RegisteredClaims
}

// Resolver validates identity tokens and resolves principals
type Resolver struct {
	secret []byte
	issuer string
	logger *logger.Logger
}

// NewResolver creates a new principal resolver. A non-empty issuer is
// required on every token's iss claim.
func NewResolver(secret, issuer string, log *logger.Logger) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		issuer: issuer,
		logger: log,
	}
}

// Resolve validates a token and returns the principal it carries
func (res *Resolver) Resolve(tokenString string) (*types.User, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if res.issuer != "" {
		opts = append(opts, jwt.WithIssuer(res.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return res.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	roles := make([]types.Role, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		roles = append(roles, types.Role(r))
	}

	specialties := make([]types.Specialty, 0, len(claims.Specialties))
	for _, s := range claims.Specialties {
		specialties = append(specialties, types.Specialty(s))
	}

	return &types.User{
		ID:          claims.UserID,
		StaffID:     claims.StaffID,
		Roles:       roles,
		Department:  types.Department(claims.Department),
		Specialties: specialties,
	}, nil
}

// Middleware resolves the bearer token, if present, into a principal on the
// request context. Requests without a token pass through unauthenticated;
// the guard decides per operation whether that is acceptable. A malformed
// token is rejected outright.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			http.Error(w, `{"error":"malformed authorization header"}`, http.StatusUnauthorized)
			return
		}

		user, err := res.Resolve(tokenString)
		if err != nil {
			res.logger.WithError(err).Warn("Failed to resolve principal")
			http.Error(w, `{"error":"invalid identity token"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), user)))
	})
}

// WithPrincipal returns a context carrying the resolved principal
func WithPrincipal(ctx context.Context, user *types.User) context.Context {
	return context.WithValue(ctx, principalKey, user)
}

// FromContext returns the principal resolved for this request, if any
func FromContext(ctx context.Context) (*types.User, bool) {
	user, ok := ctx.Value(principalKey).(*types.User)
	return user, ok
}
