package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/apperr"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
)

const requestCols = `id, from_id, to_id, status, acted_by, created_at, updated_at`

type FriendRepository struct {
	pool *pgxpool.Pool
}

func NewFriendRepository(pool *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{pool: pool}
}

func scanRequest(s interface{ Scan(dest ...any) error }, fr *model.FriendRequest) error {
	return s.Scan(&fr.ID, &fr.FromID, &fr.ToID, &fr.Status, &fr.ActedBy, &fr.CreatedAt, &fr.UpdatedAt)
}

func (r *FriendRepository) GetRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.GetRequest", time.Now())()
	fr := &model.FriendRequest{}
	row := r.pool.QueryRow(ctx, `SELECT `+requestCols+` FROM friend_requests WHERE id = $1`, id)
	if err := scanRequest(row, fr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("friendRepo.GetRequest: %w", err)
	}
	return fr, nil
}

// CreateRequest inserts a pending friend request unless a pending request
// already exists in either direction or the pair is already friends.
func (r *FriendRepository) CreateRequest(ctx context.Context, fromID, toID string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.CreateRequest", time.Now())()

	already, err := r.AreFriends(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, apperr.Conflictf("already friends")
	}

	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM friend_requests
		 WHERE status = 'pending'
		   AND ((from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)))`,
		fromID, toID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.CreateRequest check: %w", err)
	}
	if exists {
		return nil, apperr.Conflictf("a pending request already exists")
	}

	now := time.Now().UTC()
	fr := &model.FriendRequest{
		ID:        uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		Status:    model.FriendRequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO friend_requests (id, from_id, to_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fr.ID, fr.FromID, fr.ToID, fr.Status, fr.CreatedAt, fr.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.CreateRequest insert: %w", err)
	}
	return fr, nil
}

// UpdateRequestStatus transitions a pending request to accepted, rejected or
// cancelled, recording who acted. Non-pending requests are terminal.
func (r *FriendRepository) UpdateRequestStatus(ctx context.Context, id string, status model.FriendRequestStatus, actedBy string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.UpdateRequestStatus", time.Now())()
	fr := &model.FriendRequest{}
	row := r.pool.QueryRow(ctx,
		`UPDATE friend_requests
		 SET status = $2, acted_by = $3, updated_at = $4
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+requestCols, id, status, actedBy, time.Now().UTC(),
	)
	if err := scanRequest(row, fr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either unknown or already resolved; tell them apart.
			if _, getErr := r.GetRequest(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, apperr.Conflictf("request already resolved")
		}
		return nil, fmt.Errorf("friendRepo.UpdateRequestStatus: %w", err)
	}
	return fr, nil
}

// ListRequests returns all requests involving the user, newest first.
func (r *FriendRepository) ListRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.ListRequests", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestCols+` FROM friend_requests
		 WHERE from_id = $1 OR to_id = $1
		 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.ListRequests query: %w", err)
	}
	defer rows.Close()

	reqs := make([]model.FriendRequest, 0, 8)
	for rows.Next() {
		var fr model.FriendRequest
		if err := scanRequest(rows, &fr); err != nil {
			return nil, fmt.Errorf("friendRepo.ListRequests scan: %w", err)
		}
		reqs = append(reqs, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.ListRequests rows: %w", err)
	}
	return reqs, nil
}

// AddFriend records the friendship in both directions so lookups stay a
// single-column match.
func (r *FriendRepository) AddFriend(ctx context.Context, userID, friendID string) error {
	defer logger.DeferLogDuration("friend.AddFriend", time.Now())()
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO friends (user_id, friend_id, created_at)
		 VALUES ($1, $2, $3), ($2, $1, $3) ON CONFLICT DO NOTHING`,
		userID, friendID, now,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.AddFriend: %w", err)
	}
	return nil
}

func (r *FriendRepository) RemoveFriend(ctx context.Context, userID, friendID string) error {
	defer logger.DeferLogDuration("friend.RemoveFriend", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM friends
		 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`,
		userID, friendID,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.RemoveFriend: %w", err)
	}
	return nil
}

func (r *FriendRepository) AreFriends(ctx context.Context, userID, friendID string) (bool, error) {
	defer logger.DeferLogDuration("friend.AreFriends", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM friends WHERE user_id = $1 AND friend_id = $2)`,
		userID, friendID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("friendRepo.AreFriends: %w", err)
	}
	return exists, nil
}

// Friends returns the user's friends as public profiles, name order.
func (r *FriendRepository) Friends(ctx context.Context, userID string) ([]model.UserPublic, error) {
	defer logger.DeferLogDuration("friend.Friends", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.name, u.email, COALESCE(u.profile_pic,''), u.type
		 FROM users u
		 JOIN friends f ON f.friend_id = u.id
		 WHERE f.user_id = $1
		 ORDER BY u.name`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.Friends query: %w", err)
	}
	defer rows.Close()

	friends := make([]model.UserPublic, 0, 16)
	for rows.Next() {
		var p model.UserPublic
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.ProfilePic, &p.Type); err != nil {
			return nil, fmt.Errorf("friendRepo.Friends scan: %w", err)
		}
		friends = append(friends, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.Friends rows: %w", err)
	}
	return friends, nil
}

// Block adds targetID to the user's block list and severs any friendship.
// Blocking is one-directional.
func (r *FriendRepository) Block(ctx context.Context, userID, targetID string) error {
	defer logger.DeferLogDuration("friend.Block", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO blocked_users (user_id, blocked_id, created_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		userID, targetID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Block: %w", err)
	}
	return r.RemoveFriend(ctx, userID, targetID)
}

func (r *FriendRepository) Unblock(ctx context.Context, userID, targetID string) error {
	defer logger.DeferLogDuration("friend.Unblock", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM blocked_users WHERE user_id = $1 AND blocked_id = $2`,
		userID, targetID,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Unblock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FriendRepository) IsBlocked(ctx context.Context, userID, targetID string) (bool, error) {
	defer logger.DeferLogDuration("friend.IsBlocked", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocked_users WHERE user_id = $1 AND blocked_id = $2)`,
		userID, targetID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("friendRepo.IsBlocked: %w", err)
	}
	return exists, nil
}

// Ignore hides the target from the user's suggestions without affecting an
// existing friendship.
func (r *FriendRepository) Ignore(ctx context.Context, userID, targetID string) error {
	defer logger.DeferLogDuration("friend.Ignore", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ignored_users (user_id, ignored_id, created_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		userID, targetID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Ignore: %w", err)
	}
	return nil
}

// Audit appends an entry to the friend activity log.
func (r *FriendRepository) Audit(ctx context.Context, actorID, targetID string, action model.FriendAction, reason string) error {
	defer logger.DeferLogDuration("friend.Audit", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO friend_audit_log (id, actor_id, target_id, action, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), actorID, targetID, action, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Audit: %w", err)
	}
	return nil
}

// AuditLog lists the user's friend activity (as actor or target), newest
// first, paginated.
func (r *FriendRepository) AuditLog(ctx context.Context, userID string, limit, offset int) ([]model.FriendAuditEntry, error) {
	defer logger.DeferLogDuration("friend.AuditLog", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, actor_id, target_id, action, COALESCE(reason,''), created_at
		 FROM friend_audit_log
		 WHERE actor_id = $1 OR target_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.AuditLog query: %w", err)
	}
	defer rows.Close()

	entries := make([]model.FriendAuditEntry, 0, limit)
	for rows.Next() {
		var e model.FriendAuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.TargetID, &e.Action, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("friendRepo.AuditLog scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.AuditLog rows: %w", err)
	}
	return entries, nil
}
