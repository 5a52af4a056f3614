package model

import "time"

type FriendRequestStatus string

const (
	FriendRequestPending   FriendRequestStatus = "pending"
	FriendRequestAccepted  FriendRequestStatus = "accepted"
	FriendRequestRejected  FriendRequestStatus = "rejected"
	FriendRequestCancelled FriendRequestStatus = "cancelled"
)

type FriendRequest struct {
	ID        string              `json:"id"`
	FromID    string              `json:"from_id"`
	ToID      string              `json:"to_id"`
	Status    FriendRequestStatus `json:"status"`
	ActedBy   *string             `json:"acted_by,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type FriendAction string

const (
	FriendActionSendRequest   FriendAction = "send_request"
	FriendActionAcceptRequest FriendAction = "accept_request"
	FriendActionRejectRequest FriendAction = "reject_request"
	FriendActionCancelRequest FriendAction = "cancel_request"
	FriendActionBlock         FriendAction = "block"
	FriendActionUnblock       FriendAction = "unblock"
	FriendActionIgnore        FriendAction = "ignore"
)

// FriendAuditEntry records every friend-lifecycle mutation for later review.
type FriendAuditEntry struct {
	ID        string       `json:"id"`
	ActorID   string       `json:"actor_id"`
	TargetID  string       `json:"target_id"`
	Action    FriendAction `json:"action"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
