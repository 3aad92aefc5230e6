package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "giveawaybot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work. Timeout 0 means no per-run deadline.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Snapshot is the observable state of a job.
type Snapshot struct {
	Name     string
	Spec     string
	Next     time.Time
	LastRun  time.Time
	LastTook time.Duration
	LastErr  string
	Runs     int
	Skipped  int
}

type entry struct {
	job Job
	id  cron.EntryID

	mu      sync.Mutex
	running bool
	stat    Snapshot
}

type Service struct {
	log logx.Logger

	mu     sync.Mutex
	loc    *time.Location
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]*entry
	order  []string
}

func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		loc:  loc,
		log:  log.With(logx.String("comp", "scheduler")),
		jobs: map[string]*entry{},
	}
}

// Add registers or replaces a job. Jobs added while running are scheduled immediately.
func (s *Service) Add(j Job) error {
	spec, err := Normalize(j.Spec)
	if err != nil {
		return err
	}
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a func")
	}
	j.Spec = spec

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[j.Name]; ok {
		if s.c != nil {
			s.c.Remove(old.id)
		}
	} else {
		s.order = append(s.order, j.Name)
	}
	e := &entry{job: j, stat: Snapshot{Name: j.Name, Spec: spec}}
	s.jobs[j.Name] = e
	if s.c != nil {
		return s.scheduleLocked(e)
	}
	return nil
}

// Remove unregisters a job. Unknown names are ignored.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return
	}
	if s.c != nil {
		s.c.Remove(e.id)
	}
	delete(s.jobs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Service) scheduleLocked(e *entry) error {
	id, err := s.c.AddFunc(e.job.Spec, func() { s.run(e) })
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	e.id = id
	return nil
}

// Start begins firing jobs. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(s.loc))
	for _, name := range s.order {
		if err := s.scheduleLocked(s.jobs[name]); err != nil {
			s.log.Error("schedule failed", logx.String("job", name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.order)))
}

// Stop halts the cron loop and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
}

// SetLocation restarts the cron loop in loc when it changed.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	if s.loc.String() == loc.String() {
		s.mu.Unlock()
		return
	}
	s.loc = loc
	running := s.c != nil
	parent := s.ctx
	s.mu.Unlock()

	if running {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.Stop(stopCtx)
		cancel()
		if parent != nil {
			s.Start(context.WithoutCancel(parent))
		}
	}
}

// Snapshots lists jobs in registration order.
func (s *Service) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.order))
	for _, name := range s.order {
		e := s.jobs[name]
		e.mu.Lock()
		snap := e.stat
		e.mu.Unlock()
		if s.c != nil {
			snap.Next = s.c.Entry(e.id).Next
		}
		out = append(out, snap)
	}
	return out
}

// RunNow executes a job synchronously, honoring the overlap guard.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.run(e)
}

// run reports whether the job actually ran.
func (s *Service) run(e *entry) (ran bool) {
	e.mu.Lock()
	if e.running {
		e.stat.Skipped++
		e.mu.Unlock()
		s.log.Debug("job still running; skipped", logx.String("job", e.job.Name))
		return false
	}
	e.running = true
	e.mu.Unlock()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("panic in scheduled job",
					logx.String("job", e.job.Name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		err = e.job.Run(ctx)
	}()
	took := time.Since(start)

	e.mu.Lock()
	e.running = false
	e.stat.Runs++
	e.stat.LastRun = start
	e.stat.LastTook = took
	e.stat.LastErr = ""
	if err != nil {
		e.stat.LastErr = err.Error()
	}
	e.mu.Unlock()

	if err != nil {
		s.log.Warn("scheduled job failed", logx.String("job", e.job.Name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("scheduled job done", logx.String("job", e.job.Name), logx.Duration("took", took))
	}
	return true
}
