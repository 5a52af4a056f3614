package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/realtime"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// messageStore is the slice of the message repository the handler uses.
type messageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error)
	SeenBy(ctx context.Context, messageID string) ([]string, error)
}

// chatMembership scopes every message read and write to chat members.
type chatMembership interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

type senderDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type reactionStore interface {
	Add(ctx context.Context, re *model.Reaction) error
	Remove(ctx context.Context, messageID, userID string) error
	ListByMessage(ctx context.Context, messageID string) ([]model.Reaction, error)
}

type MessageHandler struct {
	msgRepo      messageStore
	chatRepo     chatMembership
	userRepo     senderDirectory
	reactionRepo reactionStore
	hub          *realtime.Hub
}

func NewMessageHandler(msgRepo messageStore, chatRepo chatMembership, userRepo senderDirectory, reactionRepo reactionStore, hub *realtime.Hub) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, chatRepo: chatRepo, userRepo: userRepo, reactionRepo: reactionRepo, hub: hub}
}

// History returns a chat's messages oldest first, paginated via limit/offset.
// Only members may read.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")

	ok, err := h.chatRepo.IsMember(r.Context(), chatID, currentUserID)
	if err != nil {
		logger.Errorf("history membership: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeErrorMsg(w, http.StatusForbidden, "not a member")
		return
	}

	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	messages, err := h.msgRepo.ListByChat(r.Context(), chatID, limit, offset)
	if err != nil {
		logger.Errorf("history list chat=%s: %v", chatID, err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeSuccess(w, http.StatusOK, "messages", messages)
}

type SendMessageRequest struct {
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	ContentType model.ContentType `json:"content_type"`
}

// Send is the HTTP counterpart of the send-message socket event: persist
// first, then fan out through the hub. Useful for clients without an open
// socket.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.ChatID == "" || req.Content == "" {
		writeErrorMsg(w, http.StatusBadRequest, "chat_id and content required")
		return
	}

	ok, err := h.chatRepo.IsMember(r.Context(), req.ChatID, currentUserID)
	if err != nil {
		logger.Errorf("send membership: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeErrorMsg(w, http.StatusForbidden, "not a member")
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = model.ContentTypeText
	}

	m := &model.Message{
		ID:          uuid.New().String(),
		ChatID:      req.ChatID,
		SenderID:    currentUserID,
		Content:     req.Content,
		ContentType: contentType,
		Status:      model.MessageStatusSent,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.msgRepo.Create(r.Context(), m); err != nil {
		logger.Errorf("send create: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	if u, err := h.userRepo.GetByID(r.Context(), currentUserID); err == nil {
		p := u.ToPublic()
		p.IsOnline = h.hub.Registry().IsOnline(u.ID)
		m.Sender = &p
	}

	h.hub.Fanout(r.Context(), m)
	writeSuccess(w, http.StatusCreated, "message sent", m)
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")

	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Emoji) == "" {
		writeErrorMsg(w, http.StatusBadRequest, "emoji required")
		return
	}

	m, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := h.chatRepo.IsMember(r.Context(), m.ChatID, currentUserID)
	if err != nil {
		logger.Errorf("reaction membership: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeErrorMsg(w, http.StatusForbidden, "not a member")
		return
	}

	re := &model.Reaction{
		MessageID: messageID,
		UserID:    currentUserID,
		Emoji:     strings.TrimSpace(req.Emoji),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.reactionRepo.Add(r.Context(), re); err != nil {
		logger.Errorf("reaction add: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to add reaction")
		return
	}
	writeSuccess(w, http.StatusCreated, "reaction added", re)
}

func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")

	if err := h.reactionRepo.Remove(r.Context(), messageID, currentUserID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "reaction removed", nil)
}

// ListReactions returns a message's reactions. Only members of the message's
// chat may read them.
func (h *MessageHandler) ListReactions(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")

	m, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := h.chatRepo.IsMember(r.Context(), m.ChatID, currentUserID)
	if err != nil {
		logger.Errorf("reaction list membership: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeErrorMsg(w, http.StatusForbidden, "not a member")
		return
	}

	reactions, err := h.reactionRepo.ListByMessage(r.Context(), messageID)
	if err != nil {
		logger.Errorf("reaction list: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to list reactions")
		return
	}
	writeSuccess(w, http.StatusOK, "reactions", reactions)
}

// SeenBy returns the ids of users that have read the message.
func (h *MessageHandler) SeenBy(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")

	m, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := h.chatRepo.IsMember(r.Context(), m.ChatID, currentUserID)
	if err != nil {
		logger.Errorf("seen-by membership: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeErrorMsg(w, http.StatusForbidden, "not a member")
		return
	}
	ids, err := h.msgRepo.SeenBy(r.Context(), messageID)
	if err != nil {
		logger.Errorf("seen-by list: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to load seen-by")
		return
	}
	writeSuccess(w, http.StatusOK, "seen by", ids)
}
