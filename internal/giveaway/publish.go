package giveaway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/storage"
	logx "giveawaybot/pkg/logx"

	"github.com/google/uuid"
)

var ErrNoWinners = errors.New("giveaway: winners have not been drawn")

// Publish sends c to target. The channel gets a single send; admins get a
// synchronous broadcast at the admin rate; users get a queued job (or a
// synchronous broadcast without a job queue) at the announce rate.
func (s *Service) Publish(ctx context.Context, target Target, c broadcast.MessageContent, name string, actor int64) (PublishReport, error) {
	rep := PublishReport{Target: target}
	if err := c.Validate(); err != nil {
		return rep, err
	}
	opt := s.options()
	log := s.log.With(logx.String("publish", name), logx.String("target", string(target)))

	if target.channel() {
		rep.ChannelTried = true
		rep.ChannelOK = broadcast.SendOnce(ctx, s.tr, opt.ChannelID, c, log)
	}
	if target.admins() {
		res, err := s.broadcastNow(ctx, name+" (admins)", opt.AdminIDs, c, opt.AdminRate, log)
		rep.Admins = &res
		if err != nil {
			return rep, err
		}
	}
	if target.users() {
		ids, err := s.store.UserIDs(ctx)
		if err != nil {
			return rep, fmt.Errorf("load recipients: %w", err)
		}
		if s.jobs != nil {
			rep.JobID, err = s.jobs.Submit(broadcast.JobRequest{
				Name:        name,
				Recipients:  ids,
				Content:     c,
				Rate:        opt.AnnounceRate,
				RequestedBy: actor,
			})
			if err != nil {
				return rep, fmt.Errorf("queue broadcast: %w", err)
			}
		} else {
			res, err := s.broadcastNow(ctx, name, ids, c, opt.AnnounceRate, log)
			rep.Users = &res
			if err != nil {
				return rep, err
			}
		}
	}

	s.auditAction(ctx, actor, "publish", name, fmt.Sprintf("target=%s sent=%d job=%s", target, rep.Sent(), rep.JobID))
	return rep, nil
}

func (s *Service) broadcastNow(ctx context.Context, name string, ids []int64, c broadcast.MessageContent, rc broadcast.RateConfig, log logx.Logger) (broadcast.Result, error) {
	res, err := broadcast.Broadcast(ctx, s.tr, ids, c, rc, broadcast.WithLogger(log))
	if err != nil {
		return res, err
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := s.store.RecordBroadcast(rctx, uuid.NewString(), name, res, s.now()); rerr != nil {
		log.Warn("broadcast record failed", logx.Err(rerr))
	}
	return res, nil
}

// Announce publishes the active giveaway's announcement.
func (s *Service) Announce(ctx context.Context, target Target, actor int64) (PublishReport, error) {
	g, err := s.Active(ctx)
	if err != nil {
		return PublishReport{Target: target}, err
	}
	return s.Publish(ctx, target, s.AnnounceContent(g), fmt.Sprintf("announce #%d", g.ID), actor)
}

// PublishResults publishes the drawn winners of giveaway id.
func (s *Service) PublishResults(ctx context.Context, id int64, target Target, actor int64) (PublishReport, error) {
	g, err := s.store.Giveaway(ctx, id)
	if err != nil {
		return PublishReport{Target: target}, err
	}
	ws, err := s.store.Winners(ctx, id)
	if err != nil {
		return PublishReport{Target: target}, err
	}
	if len(ws) == 0 {
		return PublishReport{Target: target}, ErrNoWinners
	}
	return s.Publish(ctx, target, s.ResultsContent(g, ws), fmt.Sprintf("results #%d", id), actor)
}

// CloseExpired ends every active giveaway past its end time, draws the
// winners and publishes results to the configured auto-publish target.
// Each closed giveaway is published on the bus as EventClosed.
func (s *Service) CloseExpired(ctx context.Context) ([]Closed, error) {
	s.closing.Lock()
	defer s.closing.Unlock()

	expired, err := s.store.ExpiredActive(ctx, s.now())
	if err != nil {
		return nil, err
	}
	target := s.options().AutoPublish

	out := make([]Closed, 0, len(expired))
	for _, g := range expired {
		cl := Closed{Report: PublishReport{Target: target}}
		ended, err := s.Finish(ctx, g.ID, 0)
		if err != nil {
			return out, err
		}
		cl.Giveaway = ended

		cl.Winners, err = s.SelectWinners(ctx, g.ID)
		switch {
		case errors.Is(err, ErrNoParticipants):
			cl.Err = "no participants"
		case err != nil:
			cl.Err = err.Error()
		case target != TargetNone:
			cl.Report, err = s.PublishResults(ctx, g.ID, target, 0)
			if err != nil {
				cl.Err = err.Error()
			}
		}
		s.log.Info("giveaway closed",
			logx.Int64("giveaway_id", g.ID),
			logx.Int("winners", len(cl.Winners)),
			logx.String("publish", string(target)),
			logx.String("err", cl.Err),
		)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventClosed, Time: s.now(), Data: cl})
		}
		out = append(out, cl)
	}
	return out, nil
}

func (s *Service) auditAction(ctx context.Context, actor int64, action, target, detail string) {
	err := s.store.AppendAudit(ctx, storage.AuditEntry{ActorID: actor, Action: action, Target: target, Detail: detail})
	if err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
