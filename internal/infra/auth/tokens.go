package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/fleetgate/internal/domain"
)

// TokenService подписывает и проверяет JWT (HS256, общий signing secret).
// Два вида токенов: сессии агентов (claims из handshake) и токены операторов консоли.
//
// Отзыв токена до истечения срока не поддерживается: при компрометации секрета агента
// уже выданные сессии живут до конца 24-часового окна. Известный пробел, не фича.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// TTL — срок жизни выдаваемых токенов.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// IssueSession выдает сессионный токен агента с полным набором claims.
func (s *TokenService) IssueSession(agentID, fleetID, userID, policyProfile, tier string) (string, error) {
	now := time.Now()
	claims := domain.SessionClaims{
		AgentID:       agentID,
		FleetID:       fleetID,
		UserID:        userID,
		PolicyProfile: policyProfile,
		Tier:          tier,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// VerifySession проверяет подпись и срок действия сессионного токена.
func (s *TokenService) VerifySession(tokenStr string) (*domain.SessionClaims, error) {
	tokenStr = normalizeBearer(tokenStr)

	token, err := jwt.ParseWithClaims(tokenStr, &domain.SessionClaims{}, s.keyFunc)
	if err != nil || !token.Valid {
		return nil, domain.NewAuth("invalid or expired session token")
	}
	claims, ok := token.Claims.(*domain.SessionClaims)
	if !ok || claims.AgentID == "" {
		return nil, domain.NewAuth("invalid session claims")
	}
	return claims, nil
}

// IssueUser выдает токен оператора консоли.
func (s *TokenService) IssueUser(userID, tier string) (string, error) {
	now := time.Now()
	claims := domain.UserClaims{
		UserID: userID,
		Tier:   tier,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign user token: %w", err)
	}
	return signed, nil
}

// VerifyUser проверяет токен оператора.
func (s *TokenService) VerifyUser(tokenStr string) (*domain.UserClaims, error) {
	tokenStr = normalizeBearer(tokenStr)

	token, err := jwt.ParseWithClaims(tokenStr, &domain.UserClaims{}, s.keyFunc)
	if err != nil || !token.Valid {
		return nil, domain.NewAuth("invalid or expired user token")
	}
	claims, ok := token.Claims.(*domain.UserClaims)
	if !ok || claims.UserID == "" {
		return nil, domain.NewAuth("invalid user claims")
	}
	return claims, nil
}

func (s *TokenService) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.secret, nil
}

func normalizeBearer(tokenStr string) string {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	return strings.TrimSpace(tokenStr)
}
