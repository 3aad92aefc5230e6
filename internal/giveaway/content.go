package giveaway

import (
	"strconv"

	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/storage"
	"giveawaybot/pkg/tgui"
)

// captionDescription bounds the description inside media captions so the
// whole caption stays under the Bot API limit.
const captionDescription = 700

func (s *Service) description(g storage.Giveaway, media bool) string {
	if media {
		return tgui.TruncRunes(g.Description, captionDescription)
	}
	return g.Description
}

// AnnounceContent renders the public announcement with a join button.
func (s *Service) AnnounceContent(g storage.Giveaway) broadcast.MessageContent {
	opt := s.options()
	media := g.AnnounceMediaRef != ""

	b := tgui.New().
		Title("🎉", "New giveaway!").
		Blank().
		Line(s.description(g, media)).
		Blank().
		Line("🏆 Winners: " + strconv.Itoa(g.NumWinners)).
		Line("⏰ Until: " + s.FormatTime(g.EndAt) + " (" + opt.Location.String() + ")")
	if opt.JoinURL != "" {
		b.Blank().
			Line("👉 Press the button below to join!").
			Inline(tgui.NewInline().Row(tgui.URLBtn("🎁 Join", opt.JoinURL)))
	}
	card := b.Build()

	c := broadcast.MessageContent{Text: card.Text}
	if card.Opt.ReplyMarkup != nil {
		c.Markup = card.Opt.ReplyMarkup
	}
	if media {
		c.MediaRef = g.AnnounceMediaRef
		c.MediaKind = broadcast.ParseMediaKind(g.AnnounceMediaKind)
	}
	return c
}

// ResultsContent renders the winner list.
func (s *Service) ResultsContent(g storage.Giveaway, ws []storage.Winner) broadcast.MessageContent {
	card := tgui.New().
		Title("🏆", "Giveaway results!").
		Blank().
		Line(g.Description).
		Blank().
		HTML(tgui.B("Winners:")).
		HTML(FormatWinners(ws)).
		Blank().
		Line("Congratulations! 🎊").
		Build()
	return broadcast.MessageContent{Text: card.Text}
}
