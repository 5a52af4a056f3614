package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/push"
)

type PushHandler struct {
	svc *push.Service
}

func NewPushHandler(svc *push.Service) *PushHandler {
	return &PushHandler{svc: svc}
}

// VAPIDPublic hands the browser the public key it needs to subscribe.
func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	key := h.svc.PublicKey()
	if key == "" {
		writeErrorMsg(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	writeSuccess(w, http.StatusOK, "vapid public key", key)
}

type SubscribeRequest struct {
	Subscription json.RawMessage `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid body")
		return
	}
	var sub push.Subscription
	if err := json.Unmarshal(req.Subscription, &sub); err != nil || sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeErrorMsg(w, http.StatusBadRequest, "subscription (endpoint, keys.p256dh, keys.auth) required")
		return
	}
	if err := h.svc.Subscribe(r.Context(), currentUserID, string(req.Subscription)); err != nil {
		logger.Errorf("push subscribe user=%s: %v", currentUserID, err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeSuccess(w, http.StatusCreated, "subscribed", nil)
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeErrorMsg(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.svc.Unsubscribe(r.Context(), currentUserID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", currentUserID, err)
		writeErrorMsg(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	writeSuccess(w, http.StatusOK, "unsubscribed", nil)
}
