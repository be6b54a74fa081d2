package chi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

type userKey struct{}

// UserIDFromContext returns the authenticated reader id set by JWTAuthMiddleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// ContextWithUserID stores a reader id the way JWTAuthMiddleware does.
func ContextWithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing authorization header")
	}
	if !strings.HasPrefix(auth, bearerPrefix) {
		return "", errors.New("authorization header must use Bearer scheme")
	}
	token := strings.TrimSpace(auth[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

// JWTAuthMiddleware verifies HS256 tokens signed with secret and puts the "sub" claim
// into the request context as the reader id.
func JWTAuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
				return
			}

			var claims jwt.RegisteredClaims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
				return
			}
			if claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "token has no subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), claims.Subject)))
		})
	}
}

// AdminKeyMiddleware validates static admin API keys sent as Bearer tokens.
// If apiKeys is empty, authentication is disabled (pass-through).
func AdminKeyMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	validKeys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			validKeys = append(validKeys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(validKeys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
				return
			}
			for _, k := range validKeys {
				if subtle.ConstantTimeCompare([]byte(token), k) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid api key")
		})
	}
}
