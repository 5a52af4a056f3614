package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/apperr"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
)

type stubMessages struct {
	byID map[string]*model.Message
}

func (s *stubMessages) Create(context.Context, *model.Message) error { return nil }

func (s *stubMessages) GetByID(_ context.Context, id string) (*model.Message, error) {
	if m, ok := s.byID[id]; ok {
		return m, nil
	}
	return nil, apperr.NotFoundf("message not found")
}

func (s *stubMessages) ListByChat(context.Context, string, int, int) ([]model.Message, error) {
	return nil, nil
}

func (s *stubMessages) SeenBy(context.Context, string) ([]string, error) { return nil, nil }

type stubChats struct {
	members map[string][]string
}

func (s *stubChats) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	for _, id := range s.members[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type stubReactions struct {
	byMessage map[string][]model.Reaction
}

func (s *stubReactions) Add(context.Context, *model.Reaction) error   { return nil }
func (s *stubReactions) Remove(context.Context, string, string) error { return nil }

func (s *stubReactions) ListByMessage(_ context.Context, messageID string) ([]model.Reaction, error) {
	return s.byMessage[messageID], nil
}

// asUser routes the request with the given authenticated user id in context,
// the way BearerAuth would.
func asUser(h *MessageHandler, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/api/message/{messageId}/reactions", h.ListReactions)
	return r
}

func TestListReactionsMembersOnly(t *testing.T) {
	msgs := &stubMessages{byID: map[string]*model.Message{
		"m1": {ID: "m1", ChatID: "chat1", SenderID: "u1"},
	}}
	chats := &stubChats{members: map[string][]string{"chat1": {"u1", "u2"}}}
	reactions := &stubReactions{byMessage: map[string][]model.Reaction{
		"m1": {{MessageID: "m1", UserID: "u2", Emoji: "+1"}},
	}}
	h := NewMessageHandler(msgs, chats, nil, reactions, nil)

	cases := []struct {
		name      string
		userID    string
		messageID string
		status    int
	}{
		{"member", "u2", "m1", http.StatusOK},
		{"non-member", "u3", "m1", http.StatusForbidden},
		{"unknown message", "u2", "ghost", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/message/"+tc.messageID+"/reactions", nil)
			rec := httptest.NewRecorder()
			asUser(h, tc.userID).ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			var body struct {
				Success bool `json:"success"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if want := tc.status == http.StatusOK; body.Success != want {
				t.Errorf("success = %v, want %v", body.Success, want)
			}
		})
	}
}
