package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Molefas/trikhub/internal/common/httpx"
)

// bearerAuth guards the API with a shared secret when one is configured.
// The bearer token is accepted when it equals the secret, or when it is a
// JWT signed (HMAC) with the secret and not expired.
func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httpx.ErrUnAuthorized("missing bearer token").Send(w)
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			if validSignedToken(token, secret) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.ErrUnAuthorized().Send(w)
		})
	}
}

func validSignedToken(token, secret string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	return err == nil && parsed.Valid
}

// MintToken issues an HMAC-signed bearer token for the shared secret, for
// hosts that prefer expiring credentials over the raw secret.
func MintToken(secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"iss": "trikhub-gateway",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
