package telegram

import (
	"context"

	"giveawaybot/internal/broadcast"
	kit "giveawaybot/internal/transport"
)

// Transport exposes an Adapter as a broadcast.Transport. Messages are sent
// as HTML with link previews disabled; errors are classified into signals.
// Text is never split: the engine retries a throttled send as a whole.
type Transport struct {
	a *Adapter
}

func NewTransport(a *Adapter) *Transport { return &Transport{a: a} }

func (t *Transport) options(markup any) *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkup: markup}
}

func (t *Transport) SendText(ctx context.Context, recipient int64, text string, markup any) error {
	_, err := t.a.sendWhole(ctx, kit.ChatTarget{ChatID: recipient}, text, t.options(markup))
	return classify(err)
}

func (t *Transport) SendMedia(ctx context.Context, recipient int64, kind broadcast.MediaKind, ref, caption string, markup any) error {
	_, err := t.a.SendMedia(ctx, kit.ChatTarget{ChatID: recipient}, string(kind), ref, caption, t.options(markup))
	return classify(err)
}

var _ broadcast.Transport = (*Transport)(nil)
