package giveaway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/storage"
	logx "giveawaybot/pkg/logx"
)

type Service struct {
	store   *storage.Store
	members Membership
	tr      broadcast.Transport
	jobs    JobSubmitter
	bus     eventbus.Bus
	log     logx.Logger

	mu  sync.RWMutex
	opt Options

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
	// closing serializes CloseExpired runs.
	closing sync.Mutex
	// drawing serializes SelectWinners.
	drawing sync.Mutex
}

// New builds the service. jobs and bus may be nil: without jobs the users
// fan-out runs synchronously.
func New(opt Options, store *storage.Store, members Membership, tr broadcast.Transport, jobs JobSubmitter, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		members: members,
		tr:      tr,
		jobs:    jobs,
		bus:     bus,
		log:     log.With(logx.String("comp", "giveaway")),
		now:     time.Now,
		shuffle: rand.Shuffle,
	}
	s.Apply(opt)
	return s
}

// Apply swaps the runtime options.
func (s *Service) Apply(opt Options) {
	if opt.Location == nil {
		opt.Location = time.UTC
	}
	if opt.AutoPublish == "" {
		opt.AutoPublish = TargetNone
	}
	opt.AdminIDs = append([]int64(nil), opt.AdminIDs...)
	s.mu.Lock()
	s.opt = opt
	s.mu.Unlock()
}

func (s *Service) options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opt
}

// Location is the display and input timezone.
func (s *Service) Location() *time.Location { return s.options().Location }

// ParseTime parses an admin-typed "YYYY-MM-DD HH:MM" in the configured timezone.
func (s *Service) ParseTime(v string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(v), s.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time must look like %s", ErrInvalidDraft, TimeLayout)
	}
	return t, nil
}

// FormatTime renders t in the configured timezone.
func (s *Service) FormatTime(t time.Time) string {
	return t.In(s.Location()).Format(TimeLayout)
}

// Subscribed reports channel membership. Lookup failures count as not
// subscribed and are logged.
func (s *Service) Subscribed(ctx context.Context, userID int64) bool {
	st, err := s.members.MemberStatus(ctx, s.options().ChannelID, userID)
	if err != nil {
		s.log.Warn("subscription check failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return st.Subscribed()
}

// Join registers the user and, when subscribed, enters the active giveaway.
// The returned giveaway is set for Joined and AlreadyJoined.
func (s *Service) Join(ctx context.Context, userID int64, username string) (JoinOutcome, storage.Giveaway, error) {
	now := s.now()
	if err := s.store.UpsertUser(ctx, userID, username, now); err != nil {
		return 0, storage.Giveaway{}, fmt.Errorf("register user: %w", err)
	}
	if !s.Subscribed(ctx, userID) {
		return NotSubscribed, storage.Giveaway{}, nil
	}
	g, err := s.store.ActiveGiveaway(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return NoActive, storage.Giveaway{}, nil
	}
	if err != nil {
		return 0, storage.Giveaway{}, err
	}
	err = s.store.AddParticipant(ctx, storage.Participant{
		GiveawayID:  g.ID,
		UserID:      userID,
		Username:    username,
		JoinedAt:    now,
		EndSnapshot: g.EndAt,
	})
	switch {
	case errors.Is(err, storage.ErrAlreadyParticipating):
		return AlreadyJoined, g, nil
	case err != nil:
		return 0, storage.Giveaway{}, fmt.Errorf("add participant: %w", err)
	}
	s.log.Info("user joined giveaway", logx.Int64("giveaway_id", g.ID), logx.Int64("user_id", userID))
	return Joined, g, nil
}

// Create validates d and stores it as the single active giveaway.
func (s *Service) Create(ctx context.Context, d Draft) (storage.Giveaway, error) {
	now := s.now()
	if err := d.validate(now); err != nil {
		return storage.Giveaway{}, err
	}
	if d.StartAt.IsZero() {
		d.StartAt = now
	}
	g := storage.Giveaway{
		StartAt:     d.StartAt,
		EndAt:       d.EndAt,
		Description: strings.TrimSpace(d.Description),
		NumWinners:  d.NumWinners,
		Active:      true,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   now,
	}
	if strings.TrimSpace(d.MediaRef) != "" {
		g.AnnounceMediaRef = d.MediaRef
		g.AnnounceMediaKind = string(broadcast.ParseMediaKind(d.MediaKind))
	}
	id, err := s.store.CreateGiveaway(ctx, g)
	if err != nil {
		return storage.Giveaway{}, fmt.Errorf("create giveaway: %w", err)
	}
	g.ID = id
	s.audit(ctx, d.CreatedBy, "giveaway.create", id, fmt.Sprintf("winners=%d end=%s", d.NumWinners, s.FormatTime(d.EndAt)))
	s.log.Info("giveaway created", logx.Int64("giveaway_id", id), logx.Int("winners", d.NumWinners))
	return g, nil
}

// Active returns the active giveaway or ErrNoActiveGiveaway.
func (s *Service) Active(ctx context.Context) (storage.Giveaway, error) {
	g, err := s.store.ActiveGiveaway(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Giveaway{}, ErrNoActiveGiveaway
	}
	return g, err
}

// Latest returns the newest giveaway, active or ended.
func (s *Service) Latest(ctx context.Context) (storage.Giveaway, error) {
	g, err := s.store.LatestGiveaway(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Giveaway{}, ErrNoActiveGiveaway
	}
	return g, err
}

// Finish ends the giveaway. Finishing an ended giveaway is a no-op.
func (s *Service) Finish(ctx context.Context, id, actor int64) (storage.Giveaway, error) {
	if err := s.store.EndGiveaway(ctx, id, s.now()); err != nil {
		return storage.Giveaway{}, fmt.Errorf("end giveaway %d: %w", id, err)
	}
	s.audit(ctx, actor, "giveaway.finish", id, "")
	return s.store.Giveaway(ctx, id)
}

// Stats is a snapshot for the admin status card.
type Stats struct {
	Users        int
	Giveaway     *storage.Giveaway
	Participants int
	Winners      []storage.Winner
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Users, err = s.store.UserCount(ctx); err != nil {
		return st, err
	}
	g, err := s.Latest(ctx)
	if errors.Is(err, ErrNoActiveGiveaway) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.Giveaway = &g
	if st.Participants, err = s.store.ParticipantCount(ctx, g.ID); err != nil {
		return st, err
	}
	st.Winners, err = s.store.Winners(ctx, g.ID)
	return st, err
}

func (s *Service) audit(ctx context.Context, actor int64, action string, id int64, detail string) {
	s.auditAction(ctx, actor, action, fmt.Sprintf("giveaway:%d", id), detail)
}

// Recipients lists every registered user in registration order.
func (s *Service) Recipients(ctx context.Context) ([]int64, error) {
	return s.store.UserIDs(ctx)
}

// Admins returns the configured admin ids.
func (s *Service) Admins() []int64 {
	return append([]int64(nil), s.options().AdminIDs...)
}
