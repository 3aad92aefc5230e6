package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"giveawaybot/internal/eventbus"
	logx "giveawaybot/pkg/logx"
)

type memRecorder struct {
	mu   sync.Mutex
	runs map[string]Result
}

func (m *memRecorder) RecordBroadcast(_ context.Context, id, _ string, res Result, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]Result{}
	}
	m.runs[id] = res
	return nil
}

func (m *memRecorder) get(id string) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}

func TestJobsSubmitRequiresStart(t *testing.T) {
	t.Parallel()
	j := NewJobs(JobsConfig{}, newFakeTransport(nil), nil, nil, logx.Nop())
	if _, err := j.Submit(JobRequest{Name: "x", Recipients: []int64{1}, Content: MessageContent{Text: "x"}, Rate: fastRate}); !errors.Is(err, ErrJobsStopped) {
		t.Fatalf("Submit before Start = %v, want ErrJobsStopped", err)
	}
}

func TestJobsSubmitValidates(t *testing.T) {
	t.Parallel()
	j := NewJobs(JobsConfig{Workers: 1}, newFakeTransport(nil), nil, nil, logx.Nop())
	j.Start(context.Background())
	defer j.Stop(context.Background())

	_, err := j.Submit(JobRequest{Content: MessageContent{MediaRef: "f", MediaKind: "voice"}, Rate: fastRate})
	if !errors.Is(err, ErrUnsupportedMediaKind) {
		t.Fatalf("err = %v, want ErrUnsupportedMediaKind", err)
	}
	if _, err := j.Submit(JobRequest{Content: MessageContent{Text: "x"}}); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("err = %v, want ErrInvalidRate", err)
	}
}

func TestJobsRunPublishAndRecord(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32, EventStarted, EventFinished)
	defer unsub()

	tr := newFakeTransport(func(r int64, _ int) error {
		if r == 3 {
			return Forbidden("")
		}
		return nil
	})
	rec := &memRecorder{}
	j := NewJobs(JobsConfig{Workers: 2}, tr, bus, rec, logx.Nop())
	j.Start(context.Background())
	defer j.Stop(context.Background())

	id, err := j.Submit(JobRequest{Name: "announce", Recipients: []int64{1, 2, 3}, Content: MessageContent{Text: "hello"}, Rate: fastRate, RequestedBy: 99})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var finished JobStatus
	timeout := time.After(3 * time.Second)
	for finished.ID == "" {
		select {
		case e := <-events:
			st := e.Data.(JobStatus)
			if e.Type == EventFinished && st.ID == id {
				finished = st
			}
		case <-timeout:
			t.Fatal("no finished event")
		}
	}
	if finished.Sent != 2 || finished.Failed != 1 || finished.Total != 3 || finished.RequestedBy != 99 || finished.Running {
		t.Fatalf("finished status = %+v", finished)
	}
	if finished.Errors[KeyBlocked] != 1 {
		t.Fatalf("errors = %v", finished.Errors)
	}

	st, ok := j.Status(id)
	if !ok || st.DoneAt.IsZero() {
		t.Fatalf("Status(%s) = %+v, %v", id, st, ok)
	}
	if r, ok := rec.get(id); !ok || r.Sent != 2 {
		t.Fatalf("recorded = %+v, %v", r, ok)
	}
}

func TestJobsPruneStatus(t *testing.T) {
	t.Parallel()
	j := NewJobs(JobsConfig{StatusMax: 3, StatusTTL: time.Hour}, newFakeTransport(nil), nil, nil, logx.Nop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j.status = map[string]*JobStatus{
		"expired": {ID: "expired", CreatedAt: now.Add(-3 * time.Hour), DoneAt: now.Add(-2 * time.Hour)},
		"old":     {ID: "old", CreatedAt: now.Add(-30 * time.Minute), DoneAt: now.Add(-20 * time.Minute)},
		"new":     {ID: "new", CreatedAt: now.Add(-10 * time.Minute), DoneAt: now.Add(-5 * time.Minute)},
		"running": {ID: "running", CreatedAt: now.Add(-50 * time.Minute), StartedAt: now.Add(-40 * time.Minute), Running: true},
		"queued":  {ID: "queued", Name: "queued", CreatedAt: now.Add(-5 * time.Hour)},
	}
	j.pruneStatus(now)

	for _, id := range []string{"new", "running", "queued"} {
		if _, ok := j.status[id]; !ok {
			t.Fatalf("%s should be kept: %v", id, j.status)
		}
	}
	if len(j.status) != 3 {
		t.Fatalf("kept %d statuses, want 3", len(j.status))
	}
	if st, ok := j.Status("queued"); !ok || st.Describe() != "queued: queued, 0 recipients" {
		t.Fatalf("queued job status = %+v, %v", st, ok)
	}
}

func TestJobStatusDescribe(t *testing.T) {
	t.Parallel()
	queued := JobStatus{Name: "news", Total: 10}
	if got := queued.Describe(); got != "news: queued, 10 recipients" {
		t.Fatalf("queued = %q", got)
	}
	running := JobStatus{Name: "news", Total: 10, Processed: 4, Running: true}
	if got := running.Describe(); got != "news: running, 4/10 processed" {
		t.Fatalf("running = %q", got)
	}
}
