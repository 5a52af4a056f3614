package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/repository"
)

type FriendHandler struct {
	friendRepo *repository.FriendRepository
	userRepo   *repository.UserRepository
}

func NewFriendHandler(friendRepo *repository.FriendRepository, userRepo *repository.UserRepository) *FriendHandler {
	return &FriendHandler{friendRepo: friendRepo, userRepo: userRepo}
}

type FriendRequestBody struct {
	UserID string `json:"user_id"`
}

// SendRequest creates a pending friend request. Blocked pairs and existing
// friendships are rejected with a conflict.
func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	var req FriendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErrorMsg(w, http.StatusBadRequest, "user_id required")
		return
	}
	if req.UserID == currentUserID {
		writeErrorMsg(w, http.StatusBadRequest, "cannot friend yourself")
		return
	}
	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}

	// A block in either direction stops the request.
	for _, pair := range [][2]string{{currentUserID, req.UserID}, {req.UserID, currentUserID}} {
		blocked, err := h.friendRepo.IsBlocked(r.Context(), pair[0], pair[1])
		if err != nil {
			logger.Errorf("friend request block check: %v", err)
			writeErrorMsg(w, http.StatusInternalServerError, "internal error")
			return
		}
		if blocked {
			writeErrorMsg(w, http.StatusConflict, "cannot send request")
			return
		}
	}

	fr, err := h.friendRepo.CreateRequest(r.Context(), currentUserID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, currentUserID, req.UserID, model.FriendActionSendRequest)
	writeSuccess(w, http.StatusCreated, "request sent", fr)
}

// Accept resolves a pending request addressed to the current user and records
// the friendship both ways.
func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, model.FriendRequestAccepted, model.FriendActionAcceptRequest)
}

func (h *FriendHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, model.FriendRequestRejected, model.FriendActionRejectRequest)
}

// Cancel withdraws a pending request; only the requester may cancel.
func (h *FriendHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, model.FriendRequestCancelled, model.FriendActionCancelRequest)
}

func (h *FriendHandler) resolve(w http.ResponseWriter, r *http.Request, status model.FriendRequestStatus, action model.FriendAction) {
	currentUserID := middleware.GetUserID(r.Context())
	requestID := chi.URLParam(r, "requestId")

	fr, err := h.friendRepo.GetRequest(r.Context(), requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	// Cancel belongs to the requester; accept/reject to the addressee.
	if status == model.FriendRequestCancelled {
		if fr.FromID != currentUserID {
			writeErrorMsg(w, http.StatusForbidden, "not your request")
			return
		}
	} else if fr.ToID != currentUserID {
		writeErrorMsg(w, http.StatusForbidden, "not your request")
		return
	}

	fr, err = h.friendRepo.UpdateRequestStatus(r.Context(), requestID, status, currentUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if status == model.FriendRequestAccepted {
		if err := h.friendRepo.AddFriend(r.Context(), fr.FromID, fr.ToID); err != nil {
			logger.Errorf("friend accept add: %v", err)
			writeErrorMsg(w, http.StatusInternalServerError, "failed to add friend")
			return
		}
	}
	target := fr.FromID
	if currentUserID == fr.FromID {
		target = fr.ToID
	}
	h.audit(r, currentUserID, target, action)
	writeSuccess(w, http.StatusOK, "request "+string(status), fr)
}

// Requests lists the user's friend requests grouped by status.
func (h *FriendHandler) Requests(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	reqs, err := h.friendRepo.ListRequests(r.Context(), currentUserID)
	if err != nil {
		logger.Errorf("friend requests: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	grouped := map[model.FriendRequestStatus][]model.FriendRequest{}
	for _, fr := range reqs {
		grouped[fr.Status] = append(grouped[fr.Status], fr)
	}
	writeSuccess(w, http.StatusOK, "requests", grouped)
}

func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	friends, err := h.friendRepo.Friends(r.Context(), currentUserID)
	if err != nil {
		logger.Errorf("friend list: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to list friends")
		return
	}
	writeSuccess(w, http.StatusOK, "friends", friends)
}

func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	targetID := chi.URLParam(r, "userId")
	if err := h.friendRepo.RemoveFriend(r.Context(), currentUserID, targetID); err != nil {
		logger.Errorf("friend remove: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to remove friend")
		return
	}
	writeSuccess(w, http.StatusOK, "friend removed", nil)
}

func (h *FriendHandler) Block(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	targetID := chi.URLParam(r, "userId")
	if targetID == currentUserID {
		writeErrorMsg(w, http.StatusBadRequest, "cannot block yourself")
		return
	}
	if _, err := h.userRepo.GetByID(r.Context(), targetID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.friendRepo.Block(r.Context(), currentUserID, targetID); err != nil {
		logger.Errorf("friend block: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to block")
		return
	}
	h.audit(r, currentUserID, targetID, model.FriendActionBlock)
	writeSuccess(w, http.StatusOK, "blocked", nil)
}

func (h *FriendHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	targetID := chi.URLParam(r, "userId")
	if err := h.friendRepo.Unblock(r.Context(), currentUserID, targetID); err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, currentUserID, targetID, model.FriendActionUnblock)
	writeSuccess(w, http.StatusOK, "unblocked", nil)
}

func (h *FriendHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	targetID := chi.URLParam(r, "userId")
	if targetID == currentUserID {
		writeErrorMsg(w, http.StatusBadRequest, "cannot ignore yourself")
		return
	}
	if err := h.friendRepo.Ignore(r.Context(), currentUserID, targetID); err != nil {
		logger.Errorf("friend ignore: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to ignore")
		return
	}
	h.audit(r, currentUserID, targetID, model.FriendActionIgnore)
	writeSuccess(w, http.StatusOK, "ignored", nil)
}

// AuditLog returns the user's friend activity, newest first.
func (h *FriendHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	entries, err := h.friendRepo.AuditLog(r.Context(), currentUserID, limit, offset)
	if err != nil {
		logger.Errorf("friend audit log: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to load audit log")
		return
	}
	writeSuccess(w, http.StatusOK, "audit log", entries)
}

// audit writes the entry asynchronously; the log is best effort and never
// fails the request. Uses a fresh context: the request context dies as soon
// as the handler returns.
func (h *FriendHandler) audit(_ *http.Request, actorID, targetID string, action model.FriendAction) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.friendRepo.Audit(ctx, actorID, targetID, action, ""); err != nil {
			logger.Errorf("friend audit %s: %v", action, err)
		}
	}()
}
