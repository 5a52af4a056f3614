package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmchat/internal/apperr"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return env
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSuccess(rec, http.StatusCreated, "created", map[string]string{"id": "x"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if !env.Success || env.Message != "created" || env.Data == nil {
		t.Errorf("envelope = %+v", env)
	}
}

func TestWriteErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantMsg    string
	}{
		{apperr.Validationf("chat_id required"), http.StatusBadRequest, "chat_id required"},
		{apperr.NotFoundf("user not found"), http.StatusNotFound, "user not found"},
		{apperr.Conflictf("already friends"), http.StatusConflict, "already friends"},
		{apperr.Store(errors.New("pq: timeout"), "failed to save"), http.StatusInternalServerError, "failed to save"},
		{errors.New("raw"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		if rec.Code != tc.wantStatus {
			t.Errorf("writeError(%v) status = %d, want %d", tc.err, rec.Code, tc.wantStatus)
		}
		env := decodeEnvelope(t, rec)
		if env.Success {
			t.Errorf("writeError(%v) success = true", tc.err)
		}
		if env.Message != tc.wantMsg {
			t.Errorf("writeError(%v) message = %q, want %q", tc.err, env.Message, tc.wantMsg)
		}
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=25&bad=abc", nil)
	if got := queryInt(req, "limit", 50); got != 25 {
		t.Errorf("limit = %d, want 25", got)
	}
	if got := queryInt(req, "missing", 50); got != 50 {
		t.Errorf("missing = %d, want default 50", got)
	}
	if got := queryInt(req, "bad", 50); got != 50 {
		t.Errorf("bad = %d, want default 50", got)
	}
}
