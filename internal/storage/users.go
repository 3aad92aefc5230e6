package storage

import (
	"context"
	"database/sql"
	"time"
)

// UpsertUser registers a user or refreshes their username. The original
// joined_at is kept.
func (s *Store) UpsertUser(ctx context.Context, id int64, username string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, username, joined_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET username = excluded.username`,
		id, nullStr(username), toMillis(at),
	)
	return err
}

func (s *Store) User(ctx context.Context, id int64) (User, error) {
	var (
		u        User
		username sql.NullString
		joined   int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT user_id, username, joined_at FROM users WHERE user_id = ?`, id).
		Scan(&u.ID, &username, &joined)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.JoinedAt = fromMillis(joined)
	return u, nil
}

// UserIDs returns every registered user in registration order.
func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY joined_at, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) UserCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
