package server

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
)

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.NewValidation("bad input"), 400},
		{"auth", domain.NewAuth("bad token"), 401},
		{"forbidden", domain.NewForbidden("not your tier"), 403},
		{"not found", domain.NewNotFound("agent"), 404},
		{"rate limited", &domain.RateLimitedError{RetryAfterSeconds: 7}, 429},
		{"unclassified", errors.New("boom"), 500},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, zap.NewNop(), tc.err)
		if rec.Code != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, rec.Code, tc.want)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content-type %q", tc.name, ct)
		}
	}
}

func TestWriteError_RateLimitCarriesRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, zap.NewNop(), &domain.RateLimitedError{RetryAfterSeconds: 42})

	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("Retry-After header: %q", got)
	}
	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RetryAfter != 42 {
		t.Fatalf("retry_after in body: %d", body.RetryAfter)
	}
}
