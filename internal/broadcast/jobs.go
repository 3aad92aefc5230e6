package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"giveawaybot/internal/eventbus"
	logx "giveawaybot/pkg/logx"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// NewJobs creates the job service. bus and rec may be nil.
func NewJobs(cfg JobsConfig, t Transport, bus eventbus.Bus, rec Recorder, log logx.Logger) *Jobs {
	if log.IsZero() {
		log = logx.Nop()
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	return &Jobs{
		cfg:       cfg,
		transport: t,
		bus:       bus,
		recorder:  rec,
		log:       log,
		queue:     make(chan job, qs),
		status:    map[string]*JobStatus{},
		now:       time.Now,
	}
}

// Apply swaps runtime-tunable settings. Worker count and queue size only
// change on the next Start.
func (j *Jobs) Apply(cfg JobsConfig) {
	j.mu.Lock()
	j.cfg = cfg
	j.mu.Unlock()
}

func (j *Jobs) config() JobsConfig {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cfg
}

// Submit validates req and queues it. The returned id is usable with Status.
func (j *Jobs) Submit(req JobRequest) (string, error) {
	if err := req.Rate.Validate(); err != nil {
		return "", err
	}
	if !req.Content.Empty() {
		if err := req.Content.Validate(); err != nil {
			return "", err
		}
	}

	j.mu.Lock()
	running := j.stopCh != nil && j.stopDone == nil
	q := j.queue
	j.mu.Unlock()
	if !running {
		return "", ErrJobsStopped
	}

	now := j.now()
	id := uuid.NewString()
	j.pruneStatus(now)
	j.statusMu.Lock()
	j.status[id] = &JobStatus{
		ID:          id,
		Name:        req.Name,
		RequestedBy: req.RequestedBy,
		Total:       len(req.Recipients),
		Errors:      map[string]int{},
		CreatedAt:   now,
	}
	j.statusMu.Unlock()

	select {
	case q <- job{id: id, req: req}:
		j.log.Debug("broadcast job enqueued", logx.String("job", id), logx.String("name", req.Name), logx.Int("total", len(req.Recipients)), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
		return id, nil
	default:
		j.statusMu.Lock()
		delete(j.status, id)
		j.statusMu.Unlock()
		j.log.Warn("broadcast queue full; rejecting job", logx.String("name", req.Name), logx.Int("queue_cap", cap(q)))
		return "", ErrQueueFull
	}
}

// Status returns a copy of the job status.
func (j *Jobs) Status(id string) (JobStatus, bool) {
	j.statusMu.RLock()
	defer j.statusMu.RUnlock()
	st, ok := j.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return st.snapshot(), true
}

func (s *JobStatus) snapshot() JobStatus {
	cp := *s
	cp.Errors = make(map[string]int, len(s.Errors))
	for k, v := range s.Errors {
		cp.Errors[k] = v
	}
	return cp
}

// Start launches the worker pool. Calling Start on a running service is a no-op.
func (j *Jobs) Start(ctx context.Context) {
	for {
		j.mu.Lock()
		if j.stopCh == nil {
			break
		}
		done := j.stopDone
		j.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer j.mu.Unlock()

	j.stopCh = make(chan struct{})
	j.runCtx, j.runCancel = context.WithCancel(ctx)

	workers := j.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queue := j.queue
	stopCh := j.stopCh
	runCtx := j.runCtx

	j.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer j.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					j.log.Error("panic in broadcast worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			j.worker(runCtx, stopCh, queue)
		}()
	}
	j.log.Info("broadcast jobs started", logx.Int("workers", workers), logx.Int("queue_cap", cap(queue)))
}

// Stop cancels running jobs and waits for workers until ctx ends.
func (j *Jobs) Stop(ctx context.Context) {
	start := time.Now()
	j.mu.Lock()
	if j.stopCh == nil {
		j.mu.Unlock()
		return
	}
	if j.stopDone != nil {
		done := j.stopDone
		j.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	j.stopDone = done
	stopCh := j.stopCh
	cancel := j.runCancel
	j.runCancel = nil
	j.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		j.workerWG.Wait()
		j.mu.Lock()
		j.stopCh = nil
		j.runCtx = nil
		j.stopDone = nil
		j.mu.Unlock()
		close(done)
		j.log.Info("broadcast jobs stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (j *Jobs) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case jb := <-queue:
			j.exec(ctx, jb)
		}
	}
}

func (j *Jobs) exec(ctx context.Context, jb job) {
	cfg := j.config()
	log := j.log.With(logx.String("job", jb.id), logx.String("name", jb.req.Name))

	j.update(jb.id, func(st *JobStatus) {
		st.StartedAt = j.now()
		st.Running = true
	})
	j.publish(EventStarted, jb.id)

	every := cfg.ProgressEvery
	if every == 0 {
		every = DefaultProgressEvery
	}
	res, err := Broadcast(ctx, j.transport, jb.req.Recipients, jb.req.Content, jb.req.Rate,
		WithLogger(log),
		WithProgressEvery(every),
		WithProgress(func(p Progress) {
			j.update(jb.id, func(st *JobStatus) {
				st.Processed = p.Processed
				st.Sent = p.Sent
				st.Failed = p.Failed
				st.Skipped = p.Skipped
			})
			j.publish(EventProgress, jb.id)
		}),
	)

	doneAt := j.now()
	j.update(jb.id, func(st *JobStatus) {
		st.Total = res.Total
		st.Processed = res.Sent + res.Failed + res.Skipped
		st.Sent = res.Sent
		st.Failed = res.Failed
		st.Skipped = res.Skipped
		st.Duration = res.Duration
		st.Errors = res.Errors
		if err != nil {
			st.Err = err.Error()
		}
		st.DoneAt = doneAt
		st.Running = false
	})

	if j.recorder != nil && err == nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := j.recorder.RecordBroadcast(rctx, jb.id, jb.req.Name, res, doneAt); rerr != nil {
			log.Warn("failed recording broadcast", logx.Err(rerr))
		}
		cancel()
	}
	j.publish(EventFinished, jb.id)
	j.pruneStatus(doneAt)
}

func (j *Jobs) update(id string, fn func(*JobStatus)) {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	if st := j.status[id]; st != nil {
		fn(st)
	}
}

func (j *Jobs) publish(typ, id string) {
	if j.bus == nil {
		return
	}
	st, ok := j.Status(id)
	if !ok {
		return
	}
	j.bus.Publish(eventbus.Event{Type: typ, Data: st})
}

// Describe is a short admin-facing status line.
func (s JobStatus) Describe() string {
	switch {
	case s.Running:
		return fmt.Sprintf("%s: running, %d/%d processed", s.Name, s.Processed, s.Total)
	case !s.DoneAt.IsZero() && s.Err != "":
		return fmt.Sprintf("%s: aborted (%s), %s", s.Name, s.Err, s.Result().Summary())
	case !s.DoneAt.IsZero():
		return fmt.Sprintf("%s: %s", s.Name, s.Result().Summary())
	default:
		return fmt.Sprintf("%s: queued, %d recipients", s.Name, s.Total)
	}
}
