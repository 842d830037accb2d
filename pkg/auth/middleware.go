package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type claimsKey struct{}

// Middleware validates Authorization headers against the verifier. When
// verifier is nil all requests pass through. Health checks and CORS
// preflight are never challenged.
func Middleware(verifier *Verifier, next http.Handler) http.Handler {
	if verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeUnauthorized(w, &Error{CodeMissingAuthHeader, "Authorization header is required"})
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			writeUnauthorized(w, &Error{CodeInvalidAuthScheme, "Authorization scheme must be Bearer"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			writeUnauthorized(w, &Error{CodeMissingToken, "bearer token is empty"})
			return
		}

		claims, authErr := verifier.Verify(token)
		if authErr != nil {
			writeUnauthorized(w, authErr)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the verified claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return claims, ok
}

func writeUnauthorized(w http.ResponseWriter, authErr *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    authErr.Code,
			"message": authErr.Message,
		},
	})
}
