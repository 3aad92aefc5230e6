package tgui

import (
	"strings"

	kit "giveawaybot/internal/transport"
)

// Card is rendered HTML plus the options to send it with.
type Card struct {
	Text string
	Opt  *kit.SendOptions
}

// Builder assembles a Card line by line. Plain strings are escaped.
type Builder struct {
	lines []string
	kb    *Inline
}

func New() *Builder { return &Builder{} }

// Title adds a bold title, optionally prefixed with an emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML appends an already-safe line.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds "• key: value" with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

func (b *Builder) Inline(kb *Inline) *Builder {
	b.kb = kb
	return b
}

// Build returns the card with HTML parse mode and previews disabled.
func (b *Builder) Build() Card {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if rm := b.kb.Markup(); rm != nil {
		opt.ReplyMarkup = rm
	}
	return Card{Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}
