package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmchat/internal/apperr"
	"github.com/dmchat/internal/model"
)

type fakeUserSource struct {
	users map[string]*model.User
}

func (f *fakeUserSource) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFoundf("not found")
}

func newAuthTestServer() (http.Handler, *string) {
	var seenUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	src := &fakeUserSource{users: map[string]*model.User{
		"u1": {ID: "u1", Name: "Alice", Email: "alice@example.com"},
	}}
	return BearerAuth(src)(next), &seenUserID
}

func TestBearerAuthValidToken(t *testing.T) {
	h, seen := newAuthTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.Header.Set("Authorization", "Bearer u1")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *seen != "u1" {
		t.Errorf("user id in context = %q, want u1", *seen)
	}
}

func TestBearerAuthQueryFallback(t *testing.T) {
	h, seen := newAuthTestServer()
	req := httptest.NewRequest(http.MethodGet, "/ws?token=u1", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *seen != "u1" {
		t.Errorf("user id in context = %q, want u1", *seen)
	}
}

func TestBearerAuthRejects(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no token", func(r *http.Request) {}},
		{"unknown user", func(r *http.Request) { r.Header.Set("Authorization", "Bearer ghost") }},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", "Basic dTE=") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, seen := newAuthTestServer()
			req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if *seen != "" {
				t.Errorf("next handler ran with user %q", *seen)
			}
		})
	}
}

func TestGetUserIDEmptyWithoutAuth(t *testing.T) {
	if got := GetUserID(context.Background()); got != "" {
		t.Errorf("GetUserID on empty context = %q, want empty", got)
	}
}
