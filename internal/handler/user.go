package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/realtime"
	"github.com/dmchat/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
	registry *realtime.Registry
}

func NewUserHandler(userRepo *repository.UserRepository, registry *realtime.Registry) *UserHandler {
	return &UserHandler{userRepo: userRepo, registry: registry}
}

// List returns all users as public profiles with live presence attached.
// Presence always comes from the registry, never from stored state.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	users, err := h.userRepo.ListAll(r.Context(), limit)
	if err != nil {
		logger.Errorf("user list: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	out := make([]model.UserPublic, 0, len(users))
	for _, u := range users {
		p := u.ToPublic()
		p.IsOnline = h.registry.IsOnline(u.ID)
		out = append(out, p)
	}
	writeSuccess(w, http.StatusOK, "users", out)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.userRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	p := u.ToPublic()
	p.IsOnline = h.registry.IsOnline(u.ID)
	writeSuccess(w, http.StatusOK, "user", p)
}

// Online returns the ids of currently online users (any device connected).
func (h *UserHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "online users", h.registry.Online())
}
