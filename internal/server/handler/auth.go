package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
	"github.com/xela07ax/fleetgate/internal/server"
)

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// AuthHandler — выдача операторских токенов (консоль, не агенты).
type AuthHandler struct {
	store  UserStore
	tokens *auth.TokenService
	logger *zap.Logger
}

func NewAuthHandler(store UserStore, tokens *auth.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{store: store, tokens: tokens, logger: logger.Named("auth-api")}
}

// Login — POST /api/v1/auth/token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, h.logger, domain.NewValidation("invalid request body"))
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		// Не раскрываем, существует ли пользователь
		server.WriteError(w, h.logger, domain.NewAuth("invalid credentials"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.logger.Warn("login failed", zap.String("username", req.Username))
		server.WriteError(w, h.logger, domain.NewAuth("invalid credentials"))
		return
	}

	token, err := h.tokens.IssueUser(user.ID, user.Tier)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}

	server.WriteJSON(w, http.StatusOK, domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.tokens.TTL().Seconds()),
	})
}
