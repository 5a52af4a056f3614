package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/apperr"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
)

// ErrNotFound is returned for unknown ids. It carries the not-found kind so
// callers may classify it either via errors.Is or apperr.KindOf.
var ErrNotFound = &apperr.Error{Kind: apperr.KindNotFound, Msg: "not found"}

const userCols = `id, name, email, password_hash, COALESCE(profile_pic,''), type, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.ProfilePic, &u.Type, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, profile_pic, type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.ProfilePic, u.Type, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ListAll(ctx context.Context, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users ORDER BY name LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListAll: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.ListAll scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListAll rows: %w", err)
	}
	return users, nil
}

// PublicProfile satisfies realtime.UserDirectory: the hub uses it to attach
// denormalized sender fields to fanout payloads.
func (r *UserRepository) PublicProfile(ctx context.Context, id string) (model.UserPublic, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return model.UserPublic{}, err
	}
	return u.ToPublic(), nil
}
