package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{Validationf("bad input"), KindValidation},
		{NotFoundf("missing"), KindNotFound},
		{Conflictf("dup"), KindConflict},
		{Unauthorizedf("who"), KindUnauthorized},
		{Forbiddenf("no"), KindForbidden},
		{Store(errors.New("conn reset"), "query failed"), KindStore},
		{errors.New("plain"), KindInternal},
		{nil, KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFoundf("user not found"))
	if KindOf(err) != KindNotFound {
		t.Error("KindOf must see through fmt.Errorf wrapping")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validationf("x"), http.StatusBadRequest},
		{NotFoundf("x"), http.StatusNotFound},
		{Conflictf("x"), http.StatusConflict},
		{Unauthorizedf("x"), http.StatusUnauthorized},
		{Forbiddenf("x"), http.StatusForbidden},
		{Store(errors.New("x"), "x"), http.StatusInternalServerError},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMessageHidesWrappedCause(t *testing.T) {
	err := Store(errors.New("pq: password authentication failed"), "failed to load user")
	if got := Message(err); got != "failed to load user" {
		t.Errorf("Message() = %q, leaked the cause", got)
	}
	if got := Message(errors.New("raw driver error")); got != "internal server error" {
		t.Errorf("Message(unclassified) = %q", got)
	}
}

func TestErrorsIsOnSentinel(t *testing.T) {
	sentinel := &Error{Kind: KindNotFound, Msg: "not found"}
	wrapped := fmt.Errorf("repo: %w", sentinel)
	if !errors.Is(wrapped, sentinel) {
		t.Error("errors.Is must match the wrapped sentinel")
	}
}
