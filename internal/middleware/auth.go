// Package middleware holds the HTTP middleware in front of the tunr API:
// identity tokens, CORS, rate limits and request logging.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tunr/backend/internal/logging"
	"github.com/tunr/backend/internal/services"
)

type claimsKey struct{}

// AccessTokenParam carries the token for clients that cannot set headers,
// such as browser websockets and EventSource.
const AccessTokenParam = "access_token"

// authFailure is a rejected credential: what to log and what to tell the client.
type authFailure struct {
	event  logging.SecurityEvent
	detail string
	reply  string
}

var (
	errMissingAuth = &authFailure{logging.SecurityEventMissingAuth, "missing authorization header", "missing authorization header"}
	errAuthFormat  = &authFailure{logging.SecurityEventInvalidAuthFmt, "invalid authorization header format", "invalid authorization header format"}
)

// AuthMiddleware requires an identity token, taken from a Bearer
// Authorization header or, failing that, the access_token query parameter.
// Expired tokens get a distinct reply so clients know to refresh.
func AuthMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fail := credential(r)
			if fail == nil {
				claims, err := authService.ValidateToken(token)
				if err == nil {
					ctx := context.WithValue(r.Context(), claimsKey{}, claims)
					ctx = logging.WithIdentity(ctx, claims.IdentityID)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				fail = &authFailure{logging.SecurityEventInvalidJWT, err.Error(), "invalid token"}
				if errors.Is(err, services.ErrTokenExpired) {
					fail.reply = "token expired"
				}
			}

			logging.LogSecurityEvent(r.Context(), fail.event, fail.detail)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="tunr"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"` + fail.reply + `"}`))
		})
	}
}

func credential(r *http.Request) (string, *authFailure) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := r.URL.Query().Get(AccessTokenParam); token != "" {
			return token, nil
		}
		return "", errMissingAuth
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
		return "", errAuthFormat
	}
	return token, nil
}

// GetClaims returns the token claims of an authenticated request, or nil.
func GetClaims(ctx context.Context) *services.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*services.Claims)
	return claims
}

// IdentityID returns the authenticated identity, or "".
func IdentityID(ctx context.Context) string {
	if claims := GetClaims(ctx); claims != nil {
		return claims.IdentityID
	}
	return ""
}
