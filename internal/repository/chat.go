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

const chatCols = `id, is_group, COALESCE(group_name,''), created_by, last_message_id, created_at, updated_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.IsGroup, &c.GroupName, &c.CreatedBy, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *ChatRepository) Create(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chats (id, is_group, group_name, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.IsGroup, c.GroupName, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	return nil
}

// directKey canonicalizes a member pair so both orderings map to the same
// uniqueness key.
func directKey(userID1, userID2 string) string {
	if userID2 < userID1 {
		userID1, userID2 = userID2, userID1
	}
	return userID1 + ":" + userID2
}

// CreateDirect inserts a direct chat guarded by the pair's uniqueness key.
// When a concurrent request already created the pair's chat, the existing row
// is returned and created reports false.
func (r *ChatRepository) CreateDirect(ctx context.Context, c *model.Chat, peerID string) (*model.Chat, bool, error) {
	defer logger.DeferLogDuration("chat.CreateDirect", time.Now())()
	key := directKey(c.CreatedBy, peerID)
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chats (id, is_group, created_by, direct_key, created_at, updated_at)
		 VALUES ($1, false, $2, $3, $4, $5)
		 ON CONFLICT (direct_key) DO NOTHING
		 RETURNING id`,
		c.ID, c.CreatedBy, key, c.CreatedAt, c.UpdatedAt,
	).Scan(&id)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("chatRepo.CreateDirect: %w", err)
	}
	// Lost the race. The winner's member rows may not exist yet, so fetch by
	// key instead of by membership.
	existing := &model.Chat{}
	row := r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE direct_key = $1`, key)
	if err := scanChat(row, existing); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("chatRepo.CreateDirect refetch: %w", err)
	}
	return existing, false, nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) AddMember(ctx context.Context, m *model.ChatMember) error {
	defer logger.DeferLogDuration("chat.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_members (chat_id, user_id, joined_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		m.ChatID, m.UserID, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.AddMember: %w", err)
	}
	return nil
}

// MemberIDs satisfies realtime.ChatDirectory; the hub calls it to scope
// fanout to chat membership.
func (r *ChatRepository) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.MemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = $1`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.MemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.MemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.MemberIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ChatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsMember: %w", err)
	}
	return exists, nil
}

// Members returns the user rows of all chat members, join order.
func (r *ChatRepository) Members(ctx context.Context, chatID string) ([]model.User, error) {
	defer logger.DeferLogDuration("chat.Members", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.name, u.email, u.password_hash, COALESCE(u.profile_pic,''), u.type, u.created_at
		 FROM users u
		 JOIN chat_members cm ON cm.user_id = u.id
		 WHERE cm.chat_id = $1
		 ORDER BY cm.joined_at`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.Members query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 8)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("chatRepo.Members scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.Members rows: %w", err)
	}
	return users, nil
}

func (r *ChatRepository) GetUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetUserChats", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.is_group, COALESCE(c.group_name,''), c.created_by, c.last_message_id, c.created_at, c.updated_at
		 FROM chats c
		 JOIN chat_members cm ON cm.chat_id = c.id
		 WHERE cm.user_id = $1
		 ORDER BY c.updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.GetUserChats scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats rows: %w", err)
	}
	return chats, nil
}

// FindDirectChat returns the direct (non-group) chat whose member set is
// exactly {userID1, userID2}, or ErrNotFound. Direct chats are unique per
// member pair; creation must consult this first.
func (r *ChatRepository) FindDirectChat(ctx context.Context, userID1, userID2 string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindDirectChat", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx,
		`SELECT c.id, c.is_group, COALESCE(c.group_name,''), c.created_by, c.last_message_id, c.created_at, c.updated_at
		 FROM chats c
		 WHERE c.is_group = false
		   AND EXISTS (SELECT 1 FROM chat_members WHERE chat_id = c.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM chat_members WHERE chat_id = c.id AND user_id = $2)
		   AND (SELECT COUNT(*) FROM chat_members WHERE chat_id = c.id) = 2
		 LIMIT 1`, userID1, userID2,
	)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.FindDirectChat: %w", err)
	}
	return c, nil
}
