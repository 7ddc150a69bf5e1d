package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/everwear/tryonbot/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

// Find returns nil without error when the user has no row yet.
func (r *UserRepository) Find(ctx context.Context, userID int64) (*models.User, error) {
	const query = `
SELECT user_id, paid_tries, free_used, created_at, updated_at
FROM users WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var u models.User
	var freeUsed int
	if err := row.Scan(&u.UserID, &u.PaidTries, &freeUsed, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.FreeUsed = freeUsed != 0
	return &u, nil
}

func (r *UserRepository) PaidTries(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT paid_tries FROM users WHERE user_id = ?`
	var tries int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&tries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select paid tries: %w", err)
	}
	return tries, nil
}

func (r *UserRepository) FreeUsed(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT free_used FROM users WHERE user_id = ?`
	var used int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select free used: %w", err)
	}
	return used != 0, nil
}

// GrantPaidTries adds n credits, creating the row if absent. The add is a
// single statement so webhook arrivals interleave safely with session writes.
func (r *UserRepository) GrantPaidTries(ctx context.Context, userID int64, n int) error {
	if n < 0 {
		return fmt.Errorf("grant paid tries: negative amount %d", n)
	}
	const query = `
INSERT INTO users (user_id, paid_tries) VALUES (?, ?)
ON DUPLICATE KEY UPDATE paid_tries = paid_tries + VALUES(paid_tries), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, userID, n); err != nil {
		return fmt.Errorf("grant paid tries: %w", err)
	}
	return nil
}

// ConsumePaidTry decrements the counter only while it is positive and
// reports whether a credit was actually consumed.
func (r *UserRepository) ConsumePaidTry(ctx context.Context, userID int64) (bool, error) {
	const query = `
UPDATE users SET paid_tries = paid_tries - 1, updated_at = NOW()
WHERE user_id = ? AND paid_tries > 0`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("consume paid try: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("paid try rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) MarkFreeUsed(ctx context.Context, userID int64) error {
	const query = `
INSERT INTO users (user_id, free_used) VALUES (?, 1)
ON DUPLICATE KEY UPDATE free_used = 1, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("mark free used: %w", err)
	}
	return nil
}

func (r *UserRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT user_id FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
