package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
)

type claimsKey struct{}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := extractClaims(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// RequireRole admits tokens whose role is one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractClaims(r)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func IsAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// ActorFromRequest returns the authenticated actor of a request that passed
// RequireAuth or RequireRole.
func ActorFromRequest(r *http.Request) (string, error) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		return "", errors.New("auth: request is not authenticated")
	}
	return claims.Subject, nil
}

func extractClaims(r *http.Request) (*Claims, error) {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return claims, nil
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, errors.New("missing or malformed Authorization header")
	}
	return ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "))
}
