package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// IdentityHeader carries the caller identity when tokens are not in use.
const IdentityHeader = "X-Identity"

type identityKey struct{}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the caller identity, or "" for anonymous callers.
func IdentityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}

// IdentityMiddleware resolves who is calling. With a secret configured the
// identity is the subject of an HS256 bearer token; otherwise it is taken
// from the X-Identity header. Callers without either are anonymous and
// only see the shared namespace.
type IdentityMiddleware struct {
	secret []byte
	logger *zap.Logger
}

func NewIdentityMiddleware(secret string, logger *zap.Logger) *IdentityMiddleware {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &IdentityMiddleware{secret: key, logger: logger}
}

func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity string
		if m.secret == nil {
			identity = strings.TrimSpace(r.Header.Get(IdentityHeader))
		} else if token := bearerToken(r); token != "" {
			sub, err := m.subject(token)
			if err != nil {
				m.logger.Warn("token validation failed",
					zap.String("request_id", requestIDFrom(r)),
					zap.Error(err))
				_ = WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Invalid or expired token",
				})
				return
			}
			identity = sub
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (m *IdentityMiddleware) subject(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
