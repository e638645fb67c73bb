package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"deposit-service/pkg/response"
	"deposit-service/pkg/xerrors"

	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware validates the session bearer token issued by the auth
// service and places the user id into the request context. The session
// service itself is an external collaborator; only its token boundary
// lives here.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

type sessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

func (am *AuthMiddleware) parseToken(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, xerrors.ErrInvalidToken
		}
		return am.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, xerrors.ErrExpiredToken
		}
		return nil, xerrors.ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, xerrors.ErrInvalidToken
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, xerrors.ErrInvalidToken
	}
	return claims, nil
}

// Require rejects requests without a valid bearer token.
func (am *AuthMiddleware) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				response.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			claims, err := am.parseToken(token)
			if err != nil {
				switch {
				case errors.Is(err, xerrors.ErrExpiredToken):
					response.Error(w, http.StatusUnauthorized, "session expired")
				default:
					response.Error(w, http.StatusUnauthorized, "invalid session token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), ContextUserID, claims.UserID)
			ctx = context.WithValue(ctx, ContextToken, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
