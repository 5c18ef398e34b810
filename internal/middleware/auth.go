package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const OperatorKey contextKey = "operator"

// Claims identify the operator allowed to cancel runs
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing authorization header", "auth_required")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			claims := &Claims{}
			_, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), claims,
				func(*jwt.Token) (any, error) { return []byte(jwtSecret), nil },
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			)
			if err != nil {
				writeAuthError(w, "invalid token", "auth_invalid")
				return
			}

			// cancellations are attributed, so anonymous tokens are refused
			operator := claims.Operator
			if operator == "" {
				operator = claims.Subject
			}
			if operator == "" {
				writeAuthError(w, "token has no operator", "auth_no_operator")
				return
			}
			ctx := context.WithValue(r.Context(), OperatorKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetOperator(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(OperatorKey).(string)
	return operator, ok && operator != ""
}

func writeAuthError(w http.ResponseWriter, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
