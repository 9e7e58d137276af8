package auth

import (
	"testing"
	"time"

	"github.com/xela07ax/fleetgate/internal/domain"
)

func TestSessionToken_RoundTrip(t *testing.T) {
	s := NewTokenService("secret", time.Hour)

	token, err := s.IssueSession("agent-1", "fleet-1", "user-1", "ops", domain.TierPro)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := s.VerifySession(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AgentID != "agent-1" || claims.FleetID != "fleet-1" ||
		claims.UserID != "user-1" || claims.PolicyProfile != "ops" || claims.Tier != domain.TierPro {
		t.Fatalf("claims: %+v", claims)
	}

	// Заголовок Authorization принимается как есть
	if _, err := s.VerifySession("Bearer " + token); err != nil {
		t.Fatalf("bearer prefix must be tolerated: %v", err)
	}
}

func TestSessionToken_ExpiryEnforced(t *testing.T) {
	s := NewTokenService("secret", -time.Minute)

	token, err := s.IssueSession("agent-1", "", "", "", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.VerifySession(token); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestSessionToken_WrongKeyRejected(t *testing.T) {
	issuer := NewTokenService("secret-a", time.Hour)
	verifier := NewTokenService("secret-b", time.Hour)

	token, _ := issuer.IssueSession("agent-1", "", "", "", "")
	if _, err := verifier.VerifySession(token); err == nil {
		t.Fatal("token signed with another key must be rejected")
	}
}

func TestUserToken_NotInterchangeableWithSession(t *testing.T) {
	s := NewTokenService("secret", time.Hour)

	userToken, err := s.IssueUser("user-1", domain.TierEnterprise)
	if err != nil {
		t.Fatalf("issue user: %v", err)
	}
	claims, err := s.VerifyUser(userToken)
	if err != nil {
		t.Fatalf("verify user: %v", err)
	}
	if claims.UserID != "user-1" || claims.Tier != domain.TierEnterprise {
		t.Fatalf("user claims: %+v", claims)
	}

	// Операторский токен не проходит как сессия агента: в нем нет agent_id
	if _, err := s.VerifySession(userToken); err == nil {
		t.Fatal("user token must not pass as an agent session")
	}
}
