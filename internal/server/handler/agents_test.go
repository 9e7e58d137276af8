package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/crypto"
	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
)

type fakeAgentStore struct {
	agents  map[string]*domain.Agent
	count   int
	created *domain.Agent
	deleted []string
	restart []string
}

func (s *fakeAgentStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	a, ok := s.agents[id]
	if !ok {
		return nil, domain.NewNotFound("agent")
	}
	return a, nil
}

func (s *fakeAgentStore) ListAgentsByUser(ctx context.Context, userID string) ([]*domain.Agent, error) {
	return nil, nil
}

func (s *fakeAgentStore) CountAgentsByUser(ctx context.Context, userID string) (int, error) {
	return s.count, nil
}

func (s *fakeAgentStore) CreateAgent(ctx context.Context, a *domain.Agent) error {
	s.created = a
	return nil
}

func (s *fakeAgentStore) DeleteAgent(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeAgentStore) SetPendingRestart(ctx context.Context, id string, pending bool) error {
	s.restart = append(s.restart, id)
	return nil
}

func (s *fakeAgentStore) ListRecent(ctx context.Context, agentID string, limit int) ([]domain.MetricSnapshot, error) {
	return nil, nil
}

func testAgentRouter(t *testing.T, store *fakeAgentStore, claims *domain.UserClaims) *chi.Mux {
	t.Helper()
	envelope, err := crypto.NewEnvelope([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	h := NewAgentHandler(store, envelope, zap.NewNop())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.ContextWithUser(req.Context(), claims)))
		})
	})
	r.Post("/agents", h.Register)
	r.Get("/agents/{id}", h.Get)
	r.Delete("/agents/{id}", h.Delete)
	r.Post("/agents/{id}/restart", h.Restart)
	return r
}

func TestRegister_ReturnsSecretOnceAndStoresEnvelope(t *testing.T) {
	store := &fakeAgentStore{agents: map[string]*domain.Agent{}}
	router := testAgentRouter(t, store, &domain.UserClaims{UserID: "user-1", Tier: domain.TierPro})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents",
		strings.NewReader(`{"name":"etl-worker","fleet_id":"fleet-1","model":"claude-sonnet"}`)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Agent       domain.Agent `json:"agent"`
		AgentSecret string       `json:"agent_secret"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AgentSecret == "" {
		t.Fatal("plaintext secret must be returned at registration")
	}
	if resp.Agent.Status != domain.StatusIdle {
		t.Fatalf("new agent status: got %q, want idle", resp.Agent.Status)
	}
	if resp.Agent.PolicyProfile != "dev" {
		t.Fatalf("default profile: got %q, want dev", resp.Agent.PolicyProfile)
	}

	// В хранилище секрет лежит только в конверте, и это не открытый текст
	if store.created.EncryptedSecret == "" || store.created.EncryptedSecret == resp.AgentSecret {
		t.Fatal("stored secret must be encrypted")
	}
	// Из сериализованного агента секрет не утекает
	if strings.Contains(rec.Body.String(), store.created.EncryptedSecret) {
		t.Fatal("encrypted secret must not be serialized")
	}
}

func TestRegister_TierCapEnforced(t *testing.T) {
	cases := []struct {
		tier  string
		count int
		want  int
	}{
		{domain.TierFree, 0, http.StatusCreated},
		{domain.TierFree, 1, http.StatusForbidden},
		{domain.TierPro, 9, http.StatusCreated},
		{domain.TierPro, 10, http.StatusForbidden},
		{domain.TierEnterprise, 99, http.StatusCreated},
		{domain.TierEnterprise, 100, http.StatusForbidden},
	}
	for _, tc := range cases {
		store := &fakeAgentStore{agents: map[string]*domain.Agent{}, count: tc.count}
		router := testAgentRouter(t, store, &domain.UserClaims{UserID: "user-1", Tier: tc.tier})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents",
			strings.NewReader(`{"name":"a"}`)))
		if rec.Code != tc.want {
			t.Errorf("tier %s with %d agents: got %d, want %d", tc.tier, tc.count, rec.Code, tc.want)
		}
	}
}

func TestRegister_NameRequired(t *testing.T) {
	store := &fakeAgentStore{agents: map[string]*domain.Agent{}}
	router := testAgentRouter(t, store, &domain.UserClaims{UserID: "user-1", Tier: domain.TierPro})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestOwnership_ForeignAgentLooksMissing(t *testing.T) {
	store := &fakeAgentStore{agents: map[string]*domain.Agent{
		"agent-x": {ID: "agent-x", UserID: "someone-else"},
	}}
	router := testAgentRouter(t, store, &domain.UserClaims{UserID: "user-1", Tier: domain.TierPro})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/agents/agent-x", nil),
		httptest.NewRequest(http.MethodDelete, "/agents/agent-x", nil),
		httptest.NewRequest(http.MethodPost, "/agents/agent-x/restart", nil),
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		// Чужой агент неотличим от несуществующего
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: got %d, want 404", req.Method, req.URL.Path, rec.Code)
		}
	}
	if len(store.deleted) != 0 || len(store.restart) != 0 {
		t.Fatal("foreign agent must not be mutated")
	}
}

func TestRestart_SchedulesFlag(t *testing.T) {
	store := &fakeAgentStore{agents: map[string]*domain.Agent{
		"agent-1": {ID: "agent-1", UserID: "user-1"},
	}}
	router := testAgentRouter(t, store, &domain.UserClaims{UserID: "user-1", Tier: domain.TierPro})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents/agent-1/restart", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", rec.Code)
	}
	if len(store.restart) != 1 || store.restart[0] != "agent-1" {
		t.Fatalf("restart flag not set: %v", store.restart)
	}
}
