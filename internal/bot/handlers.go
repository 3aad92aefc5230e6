package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/giveaway"
	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
	"giveawaybot/pkg/tgui"

	"github.com/dustin/go-humanize"
)

func (b *Bot) send(ctx context.Context, to kit.ChatTarget, html string) {
	b.sendCard(ctx, to, tgui.Card{Text: html, Opt: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}})
}

func (b *Bot) sendCard(ctx context.Context, to kit.ChatTarget, c tgui.Card) {
	if _, err := b.adapter.SendText(ctx, to, c.Text, c.Opt); err != nil {
		b.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

// fail replies with the generic error text and returns err for request logging.
func (b *Bot) fail(ctx context.Context, req *Request, err error) error {
	b.send(ctx, req.Chat, b.msgs.T("errors.generic"))
	return err
}

func esc(s string) string { return tgui.Esc(s).String() }

func (b *Bot) handleUnknown(ctx context.Context, req *Request) error {
	b.send(ctx, req.Chat, b.msgs.T("admin.unknown_command"))
	return nil
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	b.send(ctx, req.Chat, b.msgs.T("user.welcome"))
	return nil
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	out, g, err := b.svc.Join(ctx, req.FromID, req.Username)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	req.Logger.Info("start handled", logx.String("outcome", out.String()))
	switch out {
	case giveaway.NotSubscribed:
		b.send(ctx, req.Chat, b.msgs.T("user.not_subscribed"))
	case giveaway.NoActive:
		b.send(ctx, req.Chat, b.msgs.T("user.no_active_giveaway"))
	case giveaway.AlreadyJoined:
		b.send(ctx, req.Chat, b.msgs.T("user.already_participating"))
	case giveaway.Joined:
		b.send(ctx, req.Chat, b.msgs.T("user.participation_confirmed",
			"description", esc(g.Description),
			"end_at", b.svc.FormatTime(g.EndAt),
			"num_winners", g.NumWinners,
		))
	}
	return nil
}

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	st, err := b.svc.Stats(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	gw := b.msgs.T("admin.status_no_giveaway")
	if g := st.Giveaway; g != nil {
		state := "ended"
		if g.Active {
			state = "active"
		}
		gw = b.msgs.T("admin.status_giveaway",
			"id", g.ID,
			"state", state,
			"description", esc(tgui.TruncRunes(g.Description, 200)),
			"end_at", b.svc.FormatTime(g.EndAt),
			"participants", humanize.Comma(int64(st.Participants)),
			"winners", len(st.Winners),
		)
	}
	var jobs []string
	if b.sched != nil {
		for _, s := range b.sched.Snapshots() {
			line := fmt.Sprintf("⏱ %s: runs %d", s.Name, s.Runs)
			if !s.Next.IsZero() {
				line += ", next " + b.svc.FormatTime(s.Next)
			}
			if s.LastErr != "" {
				line += ", last error: " + s.LastErr
			}
			jobs = append(jobs, esc(line))
		}
	}
	b.send(ctx, req.Chat, b.msgs.T("admin.status",
		"users", humanize.Comma(int64(st.Users)),
		"giveaway", gw,
		"jobs", strings.Join(jobs, "\n"),
	))
	return nil
}

// skipFields drops the first n whitespace-separated fields of s.
func skipFields(s string, n int) string {
	s = strings.TrimSpace(s)
	for i := 0; i < n && s != ""; i++ {
		j := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' })
		if j < 0 {
			return ""
		}
		s = strings.TrimSpace(s[j:])
	}
	return s
}

// attachedMedia returns media carried by the command message itself or by
// the message it replies to.
func attachedMedia(m *kit.Message) (ref, kind string) {
	if m == nil {
		return "", ""
	}
	if m.MediaRef != "" {
		return m.MediaRef, m.MediaKind
	}
	if m.ReplyTo != nil && m.ReplyTo.MediaRef != "" {
		return m.ReplyTo.MediaRef, m.ReplyTo.MediaKind
	}
	return "", ""
}

func (b *Bot) handleNew(ctx context.Context, req *Request) error {
	if len(req.Args) < 4 {
		b.send(ctx, req.Chat, b.msgs.T("admin.new_usage"))
		return nil
	}
	end, err := b.svc.ParseTime(req.Args[0] + " " + req.Args[1])
	if err != nil {
		b.send(ctx, req.Chat, b.msgs.T("admin.new_invalid", "error", esc(err.Error())))
		return nil
	}
	n, err := strconv.Atoi(req.Args[2])
	if err != nil {
		b.send(ctx, req.Chat, b.msgs.T("admin.new_invalid", "error", esc("winners must be a number")))
		return nil
	}
	ref, kind := attachedMedia(req.Message)
	g, err := b.svc.Create(ctx, giveaway.Draft{
		Description: skipFields(req.ArgText, 3),
		NumWinners:  n,
		EndAt:       end,
		MediaRef:    ref,
		MediaKind:   kind,
		CreatedBy:   req.FromID,
	})
	if errors.Is(err, giveaway.ErrInvalidDraft) {
		b.send(ctx, req.Chat, b.msgs.T("admin.new_invalid", "error", esc(err.Error())))
		return nil
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	b.send(ctx, req.Chat, b.msgs.T("admin.created",
		"id", g.ID,
		"end_at", b.svc.FormatTime(g.EndAt),
		"num_winners", g.NumWinners,
	))
	return nil
}

// target parses the first argument; def is used when it is missing.
func (b *Bot) target(ctx context.Context, req *Request, def giveaway.Target) (giveaway.Target, bool) {
	raw := ""
	if len(req.Args) > 0 {
		raw = req.Args[0]
	}
	t, err := giveaway.ParseTarget(raw)
	if t == giveaway.TargetNone && raw == "" {
		t = def
	}
	if err != nil || t == giveaway.TargetNone {
		b.send(ctx, req.Chat, b.msgs.T("admin.target_usage", "command", "/"+req.Command))
		return "", false
	}
	return t, true
}

func (b *Bot) reportPublish(ctx context.Context, req *Request, rep giveaway.PublishReport) {
	job := ""
	if rep.JobID != "" {
		job = b.msgs.T("admin.published_job", "id", rep.JobID)
	}
	b.send(ctx, req.Chat, b.msgs.T("admin.published", "sent", humanize.Comma(int64(rep.Sent())), "job", job))
}

func (b *Bot) handleAnnounce(ctx context.Context, req *Request) error {
	t, ok := b.target(ctx, req, giveaway.TargetChannel)
	if !ok {
		return nil
	}
	rep, err := b.svc.Announce(ctx, t, req.FromID)
	if errors.Is(err, giveaway.ErrNoActiveGiveaway) {
		b.send(ctx, req.Chat, b.msgs.T("admin.no_active"))
		return nil
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	b.reportPublish(ctx, req, rep)
	return nil
}

func (b *Bot) handleFinish(ctx context.Context, req *Request) error {
	g, err := b.svc.Active(ctx)
	if errors.Is(err, giveaway.ErrNoActiveGiveaway) {
		b.send(ctx, req.Chat, b.msgs.T("admin.no_active"))
		return nil
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if _, err := b.svc.Finish(ctx, g.ID, req.FromID); err != nil {
		return b.fail(ctx, req, err)
	}
	ws, err := b.svc.SelectWinners(ctx, g.ID)
	if errors.Is(err, giveaway.ErrNoParticipants) {
		b.send(ctx, req.Chat, b.msgs.T("admin.no_participants"))
		return nil
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	b.send(ctx, req.Chat, b.msgs.T("admin.finished", "id", g.ID, "winners", giveaway.FormatWinners(ws).String()))
	return nil
}

func (b *Bot) handlePublish(ctx context.Context, req *Request) error {
	t, ok := b.target(ctx, req, giveaway.TargetNone)
	if !ok {
		return nil
	}
	g, err := b.svc.Latest(ctx)
	if errors.Is(err, giveaway.ErrNoActiveGiveaway) {
		b.send(ctx, req.Chat, b.msgs.T("admin.no_active"))
		return nil
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	rep, err := b.svc.PublishResults(ctx, g.ID, t, req.FromID)
	if errors.Is(err, giveaway.ErrNoWinners) {
		b.send(ctx, req.Chat, b.msgs.T("admin.no_winners"))
		return nil
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	b.reportPublish(ctx, req, rep)
	return nil
}

// broadcastContent takes the text after /broadcast, falling back to the
// replied-to message. Media comes from the command message or the reply.
func broadcastContent(req *Request) broadcast.MessageContent {
	c := broadcast.MessageContent{Text: req.ArgText}
	ref, kind := attachedMedia(req.Message)
	c.MediaRef, c.MediaKind = ref, broadcast.ParseMediaKind(kind)
	if strings.TrimSpace(c.Text) == "" && req.Message != nil && req.Message.ReplyTo != nil {
		c.Text = req.Message.ReplyTo.Text
	}
	return c
}

func (b *Bot) handleBroadcast(ctx context.Context, req *Request) error {
	c := broadcastContent(req)
	if c.Empty() {
		b.send(ctx, req.Chat, b.msgs.T("admin.broadcast_usage"))
		return nil
	}
	if err := c.Validate(); err != nil {
		b.send(ctx, req.Chat, b.msgs.T("admin.new_invalid", "error", esc(err.Error())))
		return nil
	}
	ids, err := b.svc.Recipients(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	id, err := b.jobs.Submit(broadcast.JobRequest{
		Name:        fmt.Sprintf("broadcast by %d", req.FromID),
		Recipients:  ids,
		Content:     c,
		Rate:        b.broadcastRate(),
		RequestedBy: req.Chat.ChatID,
	})
	if err != nil {
		return b.fail(ctx, req, err)
	}
	b.sendCard(ctx, req.Chat, tgui.New().
		HTML(tgui.Raw(b.msgs.T("admin.broadcast_queued", "id", id, "total", humanize.Comma(int64(len(ids)))))).
		Inline(b.refreshKeyboard(id)).
		Build())
	return nil
}

func (b *Bot) refreshKeyboard(id string) *tgui.Inline {
	data, err := tgui.Data("job", "refresh", id)
	if err != nil {
		return nil
	}
	return tgui.NewInline().Row(tgui.Btn(b.msgs.T("admin.job_refresh"), data))
}

func (b *Bot) jobCard(st broadcast.JobStatus) tgui.Card {
	bld := tgui.New().
		Title("📬", "Job "+st.ID).
		Line(st.Describe())
	if st.DoneAt.IsZero() {
		bld.Inline(b.refreshKeyboard(st.ID))
	}
	return bld.Build()
}

func (b *Bot) handleJob(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		b.send(ctx, req.Chat, b.msgs.T("admin.job_usage"))
		return nil
	}
	st, ok := b.jobs.Status(req.Args[0])
	if !ok {
		b.send(ctx, req.Chat, b.msgs.T("admin.job_not_found"))
		return nil
	}
	b.sendCard(ctx, req.Chat, b.jobCard(st))
	return nil
}

func (b *Bot) handleJobRefresh(ctx context.Context, req *Request, id string) error {
	st, ok := b.jobs.Status(id)
	if !ok {
		return nil
	}
	cb := req.Update.Callback
	card := b.jobCard(st)
	return b.adapter.EditText(ctx, kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, card.Text, card.Opt)
}
