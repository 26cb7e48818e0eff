// Package middleware hosts authentication, logging, and rate limiting
// middleware.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"skycast/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxUserKey   contextKey = "user"
	ctxDeviceKey contextKey = "device"
)

// UserFinder loads users for session verification.
type UserFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// DeviceFinder resolves device bearer tokens.
type DeviceFinder interface {
	FindByToken(ctx context.Context, token string) (*domain.Device, error)
}

// AuthMiddleware verifies bearer credentials and attaches the resulting
// identity to the request context. Users present signed session tokens,
// devices present their opaque device token; the two are never
// interchangeable.
type AuthMiddleware struct {
	jwtSecret string
	users     UserFinder
	devices   DeviceFinder
}

// NewAuthMiddleware constructs an AuthMiddleware.
func NewAuthMiddleware(secret string, users UserFinder, devices DeviceFinder) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret, users: users, devices: devices}
}

// AuthenticateUser verifies the session token, loads the user, and stores it
// on the context. All credential failures collapse to one 401 message so a
// caller cannot probe which check failed.
func (m *AuthMiddleware) AuthenticateUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.resolveUser(r)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthenticateAdmin is AuthenticateUser plus a role check. A valid
// non-admin credential gets 403, distinct from the 401 family.
func (m *AuthMiddleware) AuthenticateAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.resolveUser(r)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		if user.Role != domain.RoleAdmin {
			jsonError(w, http.StatusForbidden, "Admin access required")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthenticateDevice resolves the opaque device token by lookup. No
// signature or expiry applies; the token is a capability.
func (m *AuthMiddleware) AuthenticateDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "No device token provided")
			return
		}

		device, err := m.devices.FindByToken(r.Context(), token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "Invalid device token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxDeviceKey, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) resolveUser(r *http.Request) (*domain.User, bool) {
	tokenString, ok := bearerToken(r)
	if !ok {
		return nil, false
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}

	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		return nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, false
	}

	// The account must still exist; a deleted user's tokens die with it
	user, err := m.users.FindByID(r.Context(), userID)
	if err != nil {
		return nil, false
	}
	return user, true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.TrimSpace(authHeader) == "" {
		return "", false
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// UserFromContext returns the authenticated user from context.
func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(ctxUserKey).(*domain.User)
	return u, ok
}

// DeviceFromContext returns the authenticated device from context.
func DeviceFromContext(ctx context.Context) (*domain.Device, bool) {
	d, ok := ctx.Value(ctxDeviceKey).(*domain.Device)
	return d, ok
}
