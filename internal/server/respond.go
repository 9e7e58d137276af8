package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
)

// WriteJSON — единая точка сериализации успешных ответов.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError мапит таксономию ошибок на HTTP-статусы.
// Всё неклассифицированное — 500: error generic, подробность в details
// (допустимо для операторского API; для публичного details пришлось бы вычищать).
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validation *domain.ValidationError
		authErr    *domain.AuthError
		forbidden  *domain.ForbiddenError
		notFound   *domain.NotFoundError
		limited    *domain.RateLimitedError
	)

	switch {
	case errors.As(err, &validation):
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Msg})
	case errors.As(err, &authErr):
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": authErr.Msg})
	case errors.As(err, &forbidden):
		WriteJSON(w, http.StatusForbidden, map[string]string{"error": forbidden.Msg})
	case errors.As(err, &notFound):
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": notFound.Error()})
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":       "rate limit exceeded",
			"retry_after": limited.RetryAfterSeconds,
		})
	default:
		logger.Error("unhandled error", zap.Error(err))
		WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "internal server error",
			"details": err.Error(),
		})
	}
}
