package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"giveawaybot/internal/eventbus"
	logx "giveawaybot/pkg/logx"
)

// Event types published by Jobs. Event.Data is a JobStatus snapshot.
const (
	EventStarted  = "broadcast.started"
	EventProgress = "broadcast.progress"
	EventFinished = "broadcast.finished"
)

var (
	ErrJobsStopped = errors.New("broadcast: job service is not running")
	ErrQueueFull   = errors.New("broadcast: job queue is full")
)

type JobsConfig struct {
	Workers       int
	QueueSize     int
	ProgressEvery int
	StatusMax     int
	StatusTTL     time.Duration
}

// JobRequest describes one queued broadcast.
type JobRequest struct {
	Name       string
	Recipients []int64
	Content    MessageContent
	Rate       RateConfig
	// RequestedBy is the chat that asked for the job (0 for system jobs).
	RequestedBy int64
}

type JobStatus struct {
	ID          string
	Name        string
	RequestedBy int64

	Total     int
	Processed int
	Sent      int
	Failed    int
	Skipped   int
	Errors    map[string]int
	Duration  time.Duration
	Err       string

	// CreatedAt is set on Submit.
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

// Result converts a finished status back into delivery accounting.
func (s JobStatus) Result() Result {
	return Result{
		Total:    s.Total,
		Sent:     s.Sent,
		Failed:   s.Failed,
		Skipped:  s.Skipped,
		Duration: s.Duration,
		Errors:   s.Errors,
	}
}

// Recorder persists a finished run. Storage implements it.
type Recorder interface {
	RecordBroadcast(ctx context.Context, id, name string, res Result, finishedAt time.Time) error
}

type job struct {
	id  string
	req JobRequest
}

// Jobs runs queued broadcasts on a worker pool. Each job gets its own
// Limiter; jobs only share the Transport.
type Jobs struct {
	mu sync.Mutex

	cfg       JobsConfig
	transport Transport
	bus       eventbus.Bus
	recorder  Recorder
	log       logx.Logger

	queue  chan job
	stopCh chan struct{}
	// stopDone is non-nil while Stop is in progress.
	stopDone chan struct{}

	statusMu sync.RWMutex
	status   map[string]*JobStatus

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	now func() time.Time
}
