package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound             = errors.New("storage: not found")
	ErrAlreadyParticipating = errors.New("storage: user already participates")
	ErrWinnersDrawn         = errors.New("storage: winners already drawn")
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type User struct {
	ID       int64
	Username string
	JoinedAt time.Time
}

type Giveaway struct {
	ID          int64
	StartAt     time.Time
	EndAt       time.Time
	Description string
	NumWinners  int
	Active      bool

	AnnounceText      string
	AnnounceMediaRef  string
	AnnounceMediaKind string

	CreatedBy int64
	CreatedAt time.Time
	// EndedAt is zero while the giveaway is open.
	EndedAt time.Time
}

// Participant is one entry in a giveaway. EndSnapshot is the giveaway end
// time as seen when the user joined.
type Participant struct {
	GiveawayID  int64
	UserID      int64
	Username    string
	JoinedAt    time.Time
	EndSnapshot time.Time
}

type Winner struct {
	GiveawayID int64
	UserID     int64
	Username   string
	Position   int
	DrawnAt    time.Time
}

type BroadcastRecord struct {
	ID         string
	Name       string
	Total      int
	Sent       int
	Failed     int
	Skipped    int
	Duration   time.Duration
	Errors     map[string]int
	FinishedAt time.Time
}

// AuditEntry records an admin action.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	Detail  string
}
