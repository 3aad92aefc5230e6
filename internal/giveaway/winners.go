package giveaway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"giveawaybot/internal/storage"
	logx "giveawaybot/pkg/logx"
	"giveawaybot/pkg/tgui"
)

// SelectWinners draws min(NumWinners, participants) distinct winners
// uniformly at random. A giveaway that already has winners returns them
// unchanged.
func (s *Service) SelectWinners(ctx context.Context, id int64) ([]storage.Winner, error) {
	s.drawing.Lock()
	defer s.drawing.Unlock()

	g, err := s.store.Giveaway(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load giveaway %d: %w", id, err)
	}
	has, err := s.store.HasWinners(ctx, id)
	if err != nil {
		return nil, err
	}
	if has {
		return s.store.Winners(ctx, id)
	}

	ps, err := s.store.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, ErrNoParticipants
	}
	n := min(g.NumWinners, len(ps))
	s.shuffle(len(ps), func(i, j int) { ps[i], ps[j] = ps[j], ps[i] })

	err = s.store.AddWinners(ctx, id, ps[:n], s.now())
	if errors.Is(err, storage.ErrWinnersDrawn) {
		return s.store.Winners(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store winners: %w", err)
	}
	s.log.Info("winners selected",
		logx.Int64("giveaway_id", id),
		logx.Int("winners", n),
		logx.Int("participants", len(ps)),
	)
	return s.store.Winners(ctx, id)
}

// FormatWinners renders "1. @name" lines, falling back to "ID: n".
func FormatWinners(ws []storage.Winner) tgui.H {
	if len(ws) == 0 {
		return tgui.Esc("No winners")
	}
	lines := make([]string, 0, len(ws))
	for i, w := range ws {
		lines = append(lines, strconv.Itoa(i+1)+". "+tgui.UserLabel(w.Username, w.UserID).String())
	}
	return tgui.Raw(strings.Join(lines, "\n"))
}
