package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/realtime"
	"github.com/dmchat/internal/repository"
)

type ChatHandler struct {
	chatRepo *repository.ChatRepository
	userRepo *repository.UserRepository
	msgRepo  *repository.MessageRepository
	registry *realtime.Registry
}

func NewChatHandler(chatRepo *repository.ChatRepository, userRepo *repository.UserRepository, msgRepo *repository.MessageRepository, registry *realtime.Registry) *ChatHandler {
	return &ChatHandler{chatRepo: chatRepo, userRepo: userRepo, msgRepo: msgRepo, registry: registry}
}

type CreateChatRequest struct {
	// Direct chat: user_id of the peer. Group chat: is_group, name, member_ids.
	UserID    string   `json:"user_id"`
	IsGroup   bool     `json:"is_group"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// Create creates a chat. Direct chat creation is idempotent: a second request
// for the same peer returns the existing chat with the same id.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.IsGroup {
		h.createGroup(w, r, req)
		return
	}
	h.createDirect(w, r, req)
}

func (h *ChatHandler) createDirect(w http.ResponseWriter, r *http.Request, req CreateChatRequest) {
	currentUserID := middleware.GetUserID(r.Context())
	if req.UserID == "" {
		writeErrorMsg(w, http.StatusBadRequest, "user_id required")
		return
	}
	if req.UserID == currentUserID {
		writeErrorMsg(w, http.StatusBadRequest, "cannot create chat with yourself")
		return
	}

	if existing, err := h.chatRepo.FindDirectChat(r.Context(), currentUserID, req.UserID); err == nil {
		h.writeChat(w, r.Context(), existing, http.StatusOK, "chat exists")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("chat find direct: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	chat := &model.Chat{
		ID:        uuid.New().String(),
		IsGroup:   false,
		CreatedBy: currentUserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// The pair key's unique index makes concurrent creations collapse to one
	// row; the loser gets the winner's chat back.
	chat, created, err := h.chatRepo.CreateDirect(r.Context(), chat, req.UserID)
	if err != nil {
		logger.Errorf("chat create: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	// Member inserts are idempotent, so re-adding after a lost race only
	// heals a half-written pair.
	for _, uid := range []string{currentUserID, req.UserID} {
		if err := h.chatRepo.AddMember(r.Context(), &model.ChatMember{ChatID: chat.ID, UserID: uid, JoinedAt: now}); err != nil {
			logger.Errorf("chat add member: %v", err)
			writeErrorMsg(w, http.StatusInternalServerError, "failed to create chat")
			return
		}
	}
	if !created {
		h.writeChat(w, r.Context(), chat, http.StatusOK, "chat exists")
		return
	}
	h.writeChat(w, r.Context(), chat, http.StatusCreated, "chat created")
}

func (h *ChatHandler) createGroup(w http.ResponseWriter, r *http.Request, req CreateChatRequest) {
	currentUserID := middleware.GetUserID(r.Context())
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.MemberIDs) == 0 {
		writeErrorMsg(w, http.StatusBadRequest, "name and member_ids required")
		return
	}

	now := time.Now().UTC()
	chat := &model.Chat{
		ID:        uuid.New().String(),
		IsGroup:   true,
		GroupName: req.Name,
		CreatedBy: currentUserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.chatRepo.Create(r.Context(), chat); err != nil {
		logger.Errorf("group create: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	members := append([]string{currentUserID}, req.MemberIDs...)
	seen := make(map[string]struct{}, len(members))
	for _, uid := range members {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		if _, err := h.userRepo.GetByID(r.Context(), uid); err != nil {
			writeError(w, err)
			return
		}
		if err := h.chatRepo.AddMember(r.Context(), &model.ChatMember{ChatID: chat.ID, UserID: uid, JoinedAt: now}); err != nil {
			logger.Errorf("group add member: %v", err)
			writeErrorMsg(w, http.StatusInternalServerError, "failed to create chat")
			return
		}
	}
	h.writeChat(w, r.Context(), chat, http.StatusCreated, "chat created")
}

// Mine lists the user's chats, most recently active first, with member
// profiles and last-message previews.
func (h *ChatHandler) Mine(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	chats, err := h.chatRepo.GetUserChats(r.Context(), currentUserID)
	if err != nil {
		logger.Errorf("chat mine: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	out := make([]model.ChatWithPreview, 0, len(chats))
	for i := range chats {
		enriched, err := h.enrichChat(r.Context(), &chats[i])
		if err != nil {
			logger.Errorf("chat enrich %s: %v", chats[i].ID, err)
			writeErrorMsg(w, http.StatusInternalServerError, "failed to list chats")
			return
		}
		out = append(out, *enriched)
	}
	writeSuccess(w, http.StatusOK, "chats", out)
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")

	ok, err := h.chatRepo.IsMember(r.Context(), chatID, currentUserID)
	if err != nil {
		logger.Errorf("chat get membership: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeErrorMsg(w, http.StatusForbidden, "not a member")
		return
	}
	chat, err := h.chatRepo.GetByID(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeChat(w, r.Context(), chat, http.StatusOK, "chat")
}

func (h *ChatHandler) writeChat(w http.ResponseWriter, ctx context.Context, chat *model.Chat, status int, msg string) {
	enriched, err := h.enrichChat(ctx, chat)
	if err != nil {
		logger.Errorf("chat enrich %s: %v", chat.ID, err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeSuccess(w, status, msg, enriched)
}

func (h *ChatHandler) enrichChat(ctx context.Context, chat *model.Chat) (*model.ChatWithPreview, error) {
	members, err := h.chatRepo.Members(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	out := &model.ChatWithPreview{Chat: *chat}
	out.Members = make([]model.UserPublic, 0, len(members))
	for _, m := range members {
		p := m.ToPublic()
		p.IsOnline = h.registry.IsOnline(m.ID)
		out.Members = append(out.Members, p)
	}
	last, err := h.msgRepo.GetLastMessage(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	out.LastMessage = last
	return out, nil
}
