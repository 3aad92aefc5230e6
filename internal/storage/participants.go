package storage

import (
	"context"
	"database/sql"
	"time"
)

// AddParticipant records p. It returns ErrAlreadyParticipating when the user
// is already in the giveaway.
func (s *Store) AddParticipant(ctx context.Context, p Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO participants(giveaway_id, user_id, username_snapshot, joined_at, giveaway_end_snapshot)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(giveaway_id, user_id) DO NOTHING`,
		p.GiveawayID, p.UserID, nullStr(p.Username), toMillis(p.JoinedAt), toMillis(p.EndSnapshot),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyParticipating
	}
	return nil
}

func (s *Store) IsParticipant(ctx context.Context, giveawayID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM participants WHERE giveaway_id = ? AND user_id = ?`, giveawayID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Participants lists entries in join order.
func (s *Store) Participants(ctx context.Context, giveawayID int64) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username_snapshot, joined_at, giveaway_end_snapshot
		 FROM participants WHERE giveaway_id = ? ORDER BY joined_at, user_id`, giveawayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Participant
	for rows.Next() {
		var (
			p            Participant
			username     sql.NullString
			joined, snap int64
		)
		if err := rows.Scan(&p.UserID, &username, &joined, &snap); err != nil {
			return nil, err
		}
		p.GiveawayID = giveawayID
		p.Username = username.String
		p.JoinedAt = fromMillis(joined)
		p.EndSnapshot = fromMillis(snap)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ParticipantCount(ctx context.Context, giveawayID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE giveaway_id = ?`, giveawayID).Scan(&n)
	return n, err
}

// AddWinners stores the drawn winners in draw order. The check for an
// earlier draw and the insert share one transaction; a giveaway that
// already has winners is left untouched and ErrWinnersDrawn is returned.
func (s *Store) AddWinners(ctx context.Context, giveawayID int64, winners []Participant, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM winners WHERE giveaway_id = ?`, giveawayID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrWinnersDrawn
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO winners(giveaway_id, user_id, username, position, drawn_at) VALUES(?,?,?,?,?)
			 ON CONFLICT(giveaway_id, user_id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, w := range winners {
			if _, err := stmt.ExecContext(ctx, giveawayID, w.UserID, nullStr(w.Username), i+1, toMillis(at)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Winners(ctx context.Context, giveawayID int64) ([]Winner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, position, drawn_at FROM winners WHERE giveaway_id = ? ORDER BY position`, giveawayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Winner
	for rows.Next() {
		var (
			w        Winner
			username sql.NullString
			drawn    int64
		)
		if err := rows.Scan(&w.UserID, &username, &w.Position, &drawn); err != nil {
			return nil, err
		}
		w.GiveawayID = giveawayID
		w.Username = username.String
		w.DrawnAt = fromMillis(drawn)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) HasWinners(ctx context.Context, giveawayID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM winners WHERE giveaway_id = ?`, giveawayID).Scan(&n)
	return n > 0, err
}
