package staff

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"access-serverless/internal/httpx"
)

type Claims struct {
	Subject string
	Email   string
	Role    Role
}

type claimsKey struct{}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(Claims)
	return claims, ok
}

// Middleware admits requests carrying a valid access token. When roles are
// given the token's role must be one of them.
func Middleware(jwtSecret string, next http.Handler, roles ...Role) http.Handler {
	secret := []byte(jwtSecret)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		mapClaims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, mapClaims, func(token *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if tokenType, _ := mapClaims["typ"].(string); tokenType != "access" {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		claims := Claims{}
		claims.Subject, _ = mapClaims["sub"].(string)
		claims.Email, _ = mapClaims["email"].(string)
		role, _ := mapClaims["role"].(string)
		claims.Role = Role(role)

		if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
			httpx.WriteError(w, http.StatusForbidden, "insufficient role")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}
