package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"giveawaybot/internal/broadcast"
	logx "giveawaybot/pkg/logx"
)

// RecordBroadcast stores a finished run. It implements broadcast.Recorder.
func (s *Store) RecordBroadcast(ctx context.Context, id, name string, res broadcast.Result, finishedAt time.Time) error {
	if finishedAt.IsZero() {
		finishedAt = s.now()
	}
	var errs any
	if len(res.Errors) > 0 {
		b, err := json.Marshal(res.Errors)
		if err != nil {
			return err
		}
		errs = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(id, name, total, sent, failed, skipped, duration_ms, errors_json, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET total = excluded.total, sent = excluded.sent, failed = excluded.failed,
			skipped = excluded.skipped, duration_ms = excluded.duration_ms, errors_json = excluded.errors_json,
			finished_at = excluded.finished_at`,
		id, name, res.Total, res.Sent, res.Failed, res.Skipped, res.Duration.Milliseconds(), errs, toMillis(finishedAt),
	)
	return err
}

// RecentBroadcasts returns up to limit runs, newest first.
func (s *Store) RecentBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, total, sent, failed, skipped, duration_ms, errors_json, finished_at
		 FROM broadcasts ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BroadcastRecord
	for rows.Next() {
		var (
			r          BroadcastRecord
			durMS, fin int64
			errs       sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Total, &r.Sent, &r.Failed, &r.Skipped, &durMS, &errs, &fin); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.FinishedAt = fromMillis(fin)
		r.Errors = map[string]int{}
		if errs.Valid && errs.String != "" {
			if err := json.Unmarshal([]byte(errs.String), &r.Errors); err != nil {
				s.log.Warn("bad errors_json in broadcasts", logx.String("id", r.ID), logx.Err(err))
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
