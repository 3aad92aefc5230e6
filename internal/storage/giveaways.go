package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const giveawayColumns = `id, start_at, end_at, description, num_winners, is_active,
	announce_text, announce_media_ref, announce_media_kind, created_by, created_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGiveaway(r rowScanner) (Giveaway, error) {
	var (
		g                   Giveaway
		start, end, created int64
		active              int
		text, ref, kind     sql.NullString
		ended               sql.NullInt64
	)
	if err := r.Scan(&g.ID, &start, &end, &g.Description, &g.NumWinners, &active,
		&text, &ref, &kind, &g.CreatedBy, &created, &ended); err != nil {
		return Giveaway{}, err
	}
	g.StartAt = fromMillis(start)
	g.EndAt = fromMillis(end)
	g.CreatedAt = fromMillis(created)
	g.Active = active != 0
	g.AnnounceText = text.String
	g.AnnounceMediaRef = ref.String
	g.AnnounceMediaKind = kind.String
	if ended.Valid {
		g.EndedAt = fromMillis(ended.Int64)
	}
	return g, nil
}

// CreateGiveaway stores g as the only active giveaway; any previously active
// one is ended. It returns the new id.
func (s *Store) CreateGiveaway(ctx context.Context, g Giveaway) (int64, error) {
	now := s.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE giveaways SET is_active = 0, ended_at = COALESCE(ended_at, ?) WHERE is_active = 1`,
			toMillis(now)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO giveaways(start_at, end_at, description, num_winners, is_active,
				announce_text, announce_media_ref, announce_media_kind, created_by, created_at)
			 VALUES(?,?,?,?,1,?,?,?,?,?)`,
			toMillis(g.StartAt), toMillis(g.EndAt), g.Description, g.NumWinners,
			nullStr(g.AnnounceText), nullStr(g.AnnounceMediaRef), nullStr(g.AnnounceMediaKind),
			g.CreatedBy, toMillis(g.CreatedAt),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (s *Store) Giveaway(ctx context.Context, id int64) (Giveaway, error) {
	g, err := scanGiveaway(s.db.QueryRowContext(ctx, `SELECT `+giveawayColumns+` FROM giveaways WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Giveaway{}, ErrNotFound
	}
	return g, err
}

func (s *Store) ActiveGiveaway(ctx context.Context) (Giveaway, error) {
	g, err := scanGiveaway(s.db.QueryRowContext(ctx,
		`SELECT `+giveawayColumns+` FROM giveaways WHERE is_active = 1 ORDER BY id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Giveaway{}, ErrNotFound
	}
	return g, err
}

// LatestGiveaway returns the most recently created giveaway, active or not.
func (s *Store) LatestGiveaway(ctx context.Context) (Giveaway, error) {
	g, err := scanGiveaway(s.db.QueryRowContext(ctx,
		`SELECT `+giveawayColumns+` FROM giveaways ORDER BY id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Giveaway{}, ErrNotFound
	}
	return g, err
}

// EndGiveaway deactivates a giveaway. Ending an already ended giveaway keeps
// its original ended_at.
func (s *Store) EndGiveaway(ctx context.Context, id int64, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE giveaways SET is_active = 0, ended_at = COALESCE(ended_at, ?) WHERE id = ?`,
		toMillis(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpiredActive lists active giveaways whose end time is at or before now.
func (s *Store) ExpiredActive(ctx context.Context, now time.Time) ([]Giveaway, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+giveawayColumns+` FROM giveaways WHERE is_active = 1 AND end_at <= ? ORDER BY end_at`,
		toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Giveaway
	for rows.Next() {
		g, err := scanGiveaway(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
