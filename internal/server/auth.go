package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"rescue/dispatch/internal/config"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for storing user claims.
	UserContextKey contextKey = "user"
)

// UserClaims represents the JWT claims from Keycloak.
type UserClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Identity is the id recorded as proposer, approver or tracker actor.
func (c *UserClaims) Identity() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.PreferredUsername
}

// AuthMiddleware handles JWT validation using Keycloak's JWKS. When authentication is
// disabled it trusts the identity header instead and skips role checks.
type AuthMiddleware struct {
	enabled        bool
	jwks           keyfunc.Keyfunc
	cancelFn       context.CancelFunc
	validIssuers   []string
	accessRole     string
	identityHeader string
	log            zerolog.Logger
}

// NewAuthMiddleware creates a new authentication middleware with JWKS from Keycloak.
func NewAuthMiddleware(ctx context.Context, cfg config.AuthConfig, log zerolog.Logger) (*AuthMiddleware, error) {
	if !cfg.Enabled {
		log.Warn().Str("identity_header", cfg.IdentityHeader).Msg("JWT authentication disabled")
		return &AuthMiddleware{identityHeader: cfg.IdentityHeader, log: log}, nil
	}

	jwksURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.URL, cfg.Realm)

	// Create a cancellable context for JWKS refresh goroutine
	jwksCtx, cancelFn := context.WithCancel(ctx)

	jwks, err := keyfunc.NewDefaultCtx(jwksCtx, []string{jwksURL})
	if err != nil {
		cancelFn()
		return nil, fmt.Errorf("failed to create JWKS from %s: %w", jwksURL, err)
	}

	// Accept tokens from both internal and public Keycloak URLs
	validIssuers := []string{
		fmt.Sprintf("%s/realms/%s", cfg.URL, cfg.Realm),
		fmt.Sprintf("%s/realms/%s", cfg.PublicURL, cfg.Realm),
	}

	log.Info().
		Str("jwks_url", jwksURL).
		Strs("valid_issuers", validIssuers).
		Msg("JWT authentication middleware initialized")

	return &AuthMiddleware{
		enabled:        true,
		jwks:           jwks,
		cancelFn:       cancelFn,
		validIssuers:   validIssuers,
		accessRole:     cfg.AccessRole,
		identityHeader: cfg.IdentityHeader,
		log:            log,
	}, nil
}

// Close releases resources used by the auth middleware.
func (a *AuthMiddleware) Close() {
	if a.cancelFn != nil {
		a.cancelFn()
	}
}

// Middleware returns an HTTP middleware that validates JWT tokens.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			id := strings.TrimSpace(r.Header.Get(a.identityHeader))
			if id == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing "+a.identityHeader+" header")
				return
			}
			claims := &UserClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: id}}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, claims)))
			return
		}

		token, err := a.extractAndValidateToken(r)
		if err != nil {
			a.log.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			writeAuthError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		claims, ok := token.Claims.(*UserClaims)
		if !ok || claims.Identity() == "" {
			a.log.Debug().Msg("failed to extract claims from token")
			writeAuthError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if a.accessRole != "" && !hasRole(claims, a.accessRole) {
			a.log.Debug().
				Str("username", claims.PreferredUsername).
				Strs("roles", claims.RealmAccess.Roles).
				Msg("user lacks access role")
			writeAuthError(w, http.StatusForbidden, "missing "+a.accessRole+" role")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers without role. It is a no-op when authentication is disabled.
func (a *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.enabled && role != "" {
				claims, ok := GetUserFromContext(r.Context())
				if !ok || !hasRole(claims, role) {
					writeAuthError(w, http.StatusForbidden, "missing "+role+" role")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractAndValidateToken extracts and validates the JWT from the Authorization header.
func (a *AuthMiddleware) extractAndValidateToken(r *http.Request) (*jwt.Token, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("invalid Authorization header format")
	}

	token, err := jwt.ParseWithClaims(parts[1], &UserClaims{}, a.jwks.Keyfunc,
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok {
		return nil, fmt.Errorf("failed to extract claims")
	}
	if !slices.Contains(a.validIssuers, claims.Issuer) {
		return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
	}

	return token, nil
}

func hasRole(claims *UserClaims, role string) bool {
	return slices.Contains(claims.RealmAccess.Roles, role)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message})
}

// GetUserFromContext retrieves the user claims from the request context.
func GetUserFromContext(ctx context.Context) (*UserClaims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*UserClaims)
	return claims, ok
}

// callerID returns the authenticated identity of the request.
func callerID(r *http.Request) string {
	if claims, ok := GetUserFromContext(r.Context()); ok {
		return claims.Identity()
	}
	return ""
}
