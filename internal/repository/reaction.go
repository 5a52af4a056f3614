package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Add sets the user's reaction on a message. One reaction per user per
// message; repeating with a different emoji replaces the old one.
func (r *ReactionRepository) Add(ctx context.Context, re *model.Reaction) error {
	defer logger.DeferLogDuration("reaction.Add", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = $3, created_at = $4`,
		re.MessageID, re.UserID, re.Emoji, re.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Add: %w", err)
	}
	return nil
}

func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ReactionRepository) ListByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		 FROM reactions WHERE message_id = $1 ORDER BY created_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByMessage query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 4)
	for rows.Next() {
		var re model.Reaction
		if err := rows.Scan(&re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListByMessage scan: %w", err)
		}
		reactions = append(reactions, re)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByMessage rows: %w", err)
	}
	return reactions, nil
}
