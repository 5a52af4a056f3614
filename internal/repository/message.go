package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
)

// statusRankSQL ranks the message status enum inside UPDATE guards so that a
// transition can never move backward, no matter how acks interleave.
const statusRankSQL = `CASE %s WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 ELSE 3 END`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists a message (status as given, normally sent) and bumps the
// chat's last-message back-reference used by list previews.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, content_type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.ContentType, m.Status, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	if _, err := r.pool.Exec(ctx,
		`UPDATE chats SET last_message_id = $1, updated_at = $2 WHERE id = $3`,
		m.ID, m.CreatedAt, m.ChatID,
	); err != nil {
		return fmt.Errorf("msgRepo.Create last_message: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.content_type, m.status, m.created_at,
		        u.id, u.name, u.email, COALESCE(u.profile_pic,''), u.type
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ContentType, &m.Status, &m.CreatedAt,
		&sender.ID, &sender.Name, &sender.Email, &sender.ProfilePic, &sender.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender
	return m, nil
}

// ListByChat returns a chat's messages oldest first. Persisted creation order
// is the authoritative timeline: created_at, with id as the tie-break for
// equal timestamps.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.content_type, m.status, m.created_at,
		        u.id, u.name, u.email, COALESCE(u.profile_pic,''), u.type
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at, m.id
		 LIMIT $2 OFFSET $3`, chatID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChat query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ContentType, &m.Status, &m.CreatedAt,
			&sender.ID, &sender.Name, &sender.Email, &sender.ProfilePic, &sender.Type); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByChat scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChat rows: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) GetLastMessage(ctx context.Context, chatID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.content_type, m.status, m.created_at,
		        u.id, u.name, u.email, COALESCE(u.profile_pic,''), u.type
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT 1`, chatID,
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ContentType, &m.Status, &m.CreatedAt,
		&sender.ID, &sender.Name, &sender.Email, &sender.ProfilePic, &sender.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetLastMessage: %w", err)
	}
	m.Sender = sender
	return m, nil
}

// AdvanceStatus moves a message's status forward (sent -> delivered -> read)
// on behalf of ackerID. Acks by the sender and backward or repeated
// transitions are no-ops; the guard runs in SQL so concurrent acks cannot
// regress the status. Satisfies realtime.MessageStore.
func (r *MessageRepository) AdvanceStatus(ctx context.Context, messageID, ackerID string, to model.MessageStatus) (*model.Message, bool, error) {
	defer logger.DeferLogDuration("msg.AdvanceStatus", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`UPDATE messages SET status = $3
		 WHERE id = $1 AND sender_id <> $2
		   AND `+fmt.Sprintf(statusRankSQL, "status")+` < `+fmt.Sprintf(statusRankSQL, "$3::text")+`
		 RETURNING id, chat_id, sender_id, content, content_type, status, created_at`,
		messageID, ackerID, to,
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ContentType, &m.Status, &m.CreatedAt)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("msgRepo.AdvanceStatus: %w", err)
	}
	// Either the message does not exist, or the transition was a no-op
	// (already at or past the target state, or a self-ack). Distinguish.
	m, getErr := r.GetByID(ctx, messageID)
	if getErr != nil {
		return nil, false, getErr
	}
	return m, false, nil
}

// MarkSeen records a user in the message's seen-by set; duplicates are
// harmless.
func (r *MessageRepository) MarkSeen(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("msg.MarkSeen", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_seen (message_id, user_id, seen_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		messageID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkSeen: %w", err)
	}
	return nil
}

// SeenBy returns the user ids that have read the message.
func (r *MessageRepository) SeenBy(ctx context.Context, messageID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.SeenBy", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM message_seen WHERE message_id = $1 ORDER BY seen_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.SeenBy query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.SeenBy scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.SeenBy rows: %w", err)
	}
	return ids, nil
}
