package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
)

type ctxKey string

const userClaimsKey ctxKey = "user_claims"

// UserValidator — интерфейс проверки операторских токенов (реализуется TokenService).
type UserValidator interface {
	VerifyUser(tokenStr string) (*domain.UserClaims, error)
}

// NewUserMiddleware защищает операторские роуты (регистрация агентов, алерт-ресурсы).
func NewUserMiddleware(v UserValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "missing authorization header")
				return
			}

			claims, err := v.VerifyUser(authHeader)
			if err != nil {
				logger.Warn("user auth failure", zap.Error(err))
				writeUnauthorized(w, "invalid or expired user token")
				return
			}

			// Прокидываем данные в контекст
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), claims)))
		})
	}
}

// Все ошибки API отдаются как JSON; http.Error тут не подходит — он ставит text/plain.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ContextWithUser кладет claims оператора в контекст запроса.
func ContextWithUser(ctx context.Context, claims *domain.UserClaims) context.Context {
	return context.WithValue(ctx, userClaimsKey, claims)
}

// UserFromContext достает claims оператора, положенные middleware'ом.
func UserFromContext(ctx context.Context) (*domain.UserClaims, bool) {
	claims, ok := ctx.Value(userClaimsKey).(*domain.UserClaims)
	return claims, ok
}
