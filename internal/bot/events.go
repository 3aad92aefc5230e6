package bot

import (
	"context"

	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/giveaway"
	kit "giveawaybot/internal/transport"
)

func (b *Bot) watchEvents(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.handleEvent(ctx, ev)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, ev eventbus.Event) {
	switch data := ev.Data.(type) {
	case broadcast.JobStatus:
		if ev.Type != broadcast.EventFinished || data.RequestedBy == 0 {
			return
		}
		summary := data.Result().Summary()
		if data.Err != "" {
			summary = data.Describe()
		}
		b.send(ctx, kit.ChatTarget{ChatID: data.RequestedBy}, b.msgs.T("admin.broadcast_finished",
			"name", esc(data.Name),
			"summary", esc(summary),
		))
	case giveaway.Closed:
		text := b.msgs.T("admin.giveaway_closed",
			"id", data.Giveaway.ID,
			"winners", giveaway.FormatWinners(data.Winners).String(),
		)
		if data.Err != "" {
			text = b.msgs.T("admin.giveaway_closed_failed", "id", data.Giveaway.ID, "error", esc(data.Err))
		}
		for _, id := range b.svc.Admins() {
			b.send(ctx, kit.ChatTarget{ChatID: id}, text)
		}
	}
}
