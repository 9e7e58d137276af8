package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
)

type fakeAlertStore struct {
	channels []*domain.AlertChannel
	configs  []*domain.AlertConfig
	resolved []string
}

func (s *fakeAlertStore) CreateChannel(ctx context.Context, ch *domain.AlertChannel) error {
	s.channels = append(s.channels, ch)
	return nil
}

func (s *fakeAlertStore) CreateConfig(ctx context.Context, c *domain.AlertConfig) error {
	s.configs = append(s.configs, c)
	return nil
}

func (s *fakeAlertStore) ListAlertsByUser(ctx context.Context, userID string, limit int) ([]*domain.Alert, error) {
	return nil, nil
}

func (s *fakeAlertStore) ResolveAlert(ctx context.Context, id string) error {
	s.resolved = append(s.resolved, id)
	return nil
}

func testAlertRouter(store *fakeAlertStore, claims *domain.UserClaims) *chi.Mux {
	h := NewAlertHandler(store, zap.NewNop())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.ContextWithUser(req.Context(), claims)))
		})
	})
	r.Post("/alert-channels", h.CreateChannel)
	r.Post("/alert-configs", h.CreateConfig)
	r.Get("/alerts", h.List)
	r.Post("/alerts/{id}/resolve", h.Resolve)
	return r
}

func TestCreateChannel_TierGate(t *testing.T) {
	cases := []struct {
		tier string
		want int
	}{
		{domain.TierFree, http.StatusForbidden},
		{domain.TierPro, http.StatusCreated},
		{domain.TierEnterprise, http.StatusCreated},
	}
	for _, tc := range cases {
		store := &fakeAlertStore{}
		router := testAlertRouter(store, &domain.UserClaims{UserID: "user-1", Tier: tc.tier})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alert-channels",
			strings.NewReader(`{"type":"slack","url":"https://hooks.slack.com/x"}`)))
		if rec.Code != tc.want {
			t.Errorf("tier %s: got %d, want %d", tc.tier, rec.Code, tc.want)
		}
	}
}

func TestCreateChannel_ValidatesType(t *testing.T) {
	store := &fakeAlertStore{}
	router := testAlertRouter(store, &domain.UserClaims{UserID: "user-1", Tier: domain.TierPro})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alert-channels",
		strings.NewReader(`{"type":"telegram","url":"https://example.com"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	if len(store.channels) != 0 {
		t.Fatal("invalid channel must not be stored")
	}
}

func TestCreateConfig_ExactlyOneScope(t *testing.T) {
	cases := []struct {
		body string
		want int
	}{
		{`{"agent_id":"a1","channel_id":"ch"}`, http.StatusCreated},
		{`{"fleet_id":"f1","channel_id":"ch"}`, http.StatusCreated},
		{`{"agent_id":"a1","fleet_id":"f1","channel_id":"ch"}`, http.StatusBadRequest},
		{`{"channel_id":"ch"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		store := &fakeAlertStore{}
		router := testAlertRouter(store, &domain.UserClaims{UserID: "user-1", Tier: domain.TierPro})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alert-configs", strings.NewReader(tc.body)))
		if rec.Code != tc.want {
			t.Errorf("body %s: got %d, want %d", tc.body, rec.Code, tc.want)
		}
	}
}

func TestResolveAlert(t *testing.T) {
	store := &fakeAlertStore{}
	router := testAlertRouter(store, &domain.UserClaims{UserID: "user-1", Tier: domain.TierPro})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/alert-7/resolve", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rec.Code)
	}
	if len(store.resolved) != 1 || store.resolved[0] != "alert-7" {
		t.Fatalf("resolved: %v", store.resolved)
	}
}

type fakePolicyStore struct {
	created []*domain.CustomPolicy
}

func (s *fakePolicyStore) CreateCustomPolicy(ctx context.Context, p *domain.CustomPolicy) error {
	s.created = append(s.created, p)
	return nil
}

func TestCreateCustomPolicy_EnterpriseOnly(t *testing.T) {
	body := `{"name":"ml-research","heartbeat_interval":15}`
	cases := []struct {
		tier string
		want int
	}{
		{domain.TierFree, http.StatusForbidden},
		{domain.TierPro, http.StatusForbidden},
		{domain.TierEnterprise, http.StatusCreated},
	}
	for _, tc := range cases {
		store := &fakePolicyStore{}
		h := NewPolicyHandler(store, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/custom-policies", strings.NewReader(body))
		req = req.WithContext(auth.ContextWithUser(req.Context(),
			&domain.UserClaims{UserID: "user-1", Tier: tc.tier}))

		rec := httptest.NewRecorder()
		h.Create(rec, req)
		if rec.Code != tc.want {
			t.Errorf("tier %s: got %d, want %d", tc.tier, rec.Code, tc.want)
		}
	}
}
