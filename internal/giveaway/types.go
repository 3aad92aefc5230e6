package giveaway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/storage"
	kit "giveawaybot/internal/transport"
)

var (
	ErrNoActiveGiveaway = errors.New("giveaway: no active giveaway")
	ErrNoParticipants   = errors.New("giveaway: no participants")
	ErrInvalidDraft     = errors.New("giveaway: invalid draft")
	ErrUnknownTarget    = errors.New("giveaway: unknown publish target")
)

// EventClosed is published after an automatic close. Data is a Closed value.
const EventClosed = "giveaway.closed"

// TimeLayout is how giveaway times are typed by admins and shown to users.
const TimeLayout = "2006-01-02 15:04"

// Membership reports a user's status in the subscription channel.
type Membership interface {
	MemberStatus(ctx context.Context, chatID, userID int64) (kit.MemberStatus, error)
}

// JobSubmitter queues large fan-outs. broadcast.Jobs implements it.
type JobSubmitter interface {
	Submit(req broadcast.JobRequest) (string, error)
}

// Options are the runtime knobs; Apply swaps them on config reload.
type Options struct {
	ChannelID int64
	AdminIDs  []int64
	JoinURL   string
	Location  *time.Location

	AnnounceRate broadcast.RateConfig
	AdminRate    broadcast.RateConfig

	// AutoPublish is where CloseExpired sends results.
	AutoPublish Target
}

// Target selects the audience of Publish.
type Target string

const (
	TargetNone       Target = "none"
	TargetChannel    Target = "channel"
	TargetAdmins     Target = "admins"
	TargetUsers      Target = "users"
	TargetEverywhere Target = "everywhere"
)

// ParseTarget accepts the config and command spellings. "" is TargetNone.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TargetNone, nil
	case TargetNone, TargetChannel, TargetAdmins, TargetUsers, TargetEverywhere:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
	}
}

func (t Target) channel() bool { return t == TargetChannel || t == TargetEverywhere }
func (t Target) users() bool   { return t == TargetUsers || t == TargetEverywhere }
func (t Target) admins() bool  { return t == TargetAdmins }

// JoinOutcome is the result of a /start join attempt.
type JoinOutcome int

const (
	Joined JoinOutcome = iota
	NotSubscribed
	NoActive
	AlreadyJoined
)

func (o JoinOutcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case NotSubscribed:
		return "not_subscribed"
	case NoActive:
		return "no_active"
	case AlreadyJoined:
		return "already_joined"
	default:
		return "unknown"
	}
}

// Draft is an admin's request to start a giveaway.
type Draft struct {
	Description string
	NumWinners  int
	// StartAt defaults to now.
	StartAt time.Time
	EndAt   time.Time

	MediaRef  string
	MediaKind string

	CreatedBy int64
}

func (d Draft) validate(now time.Time) error {
	var errs []error
	if strings.TrimSpace(d.Description) == "" {
		errs = append(errs, errors.New("description is empty"))
	}
	if d.NumWinners <= 0 {
		errs = append(errs, fmt.Errorf("winners must be > 0 (got %d)", d.NumWinners))
	}
	start := d.StartAt
	if start.IsZero() {
		start = now
	}
	if !d.EndAt.After(start) {
		errs = append(errs, errors.New("end time must be after start"))
	}
	if strings.TrimSpace(d.MediaRef) != "" {
		if k := broadcast.ParseMediaKind(d.MediaKind); !k.Supported() {
			errs = append(errs, &broadcast.UnsupportedMediaKindError{Kind: k})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidDraft, errors.Join(errs...))
}

// PublishReport summarizes one Publish call.
type PublishReport struct {
	Target Target

	ChannelTried bool
	ChannelOK    bool

	// Admins and Users are set when those audiences were sent synchronously.
	Admins *broadcast.Result
	Users  *broadcast.Result
	// JobID is set when the users fan-out was queued instead.
	JobID string
}

// Sent counts the deliveries known at return time.
func (r PublishReport) Sent() int {
	n := 0
	if r.ChannelOK {
		n++
	}
	if r.Admins != nil {
		n += r.Admins.Sent
	}
	if r.Users != nil {
		n += r.Users.Sent
	}
	return n
}

// Closed describes one automatically closed giveaway.
type Closed struct {
	Giveaway storage.Giveaway
	Winners  []storage.Winner
	Report   PublishReport
	// Err is set when the draw or the publish failed.
	Err string
}
