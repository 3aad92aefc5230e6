package broadcast

import (
	"sort"
	"time"
)

const (
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

func (j *Jobs) pruneStatus(now time.Time) {
	cfg := j.config()
	max := cfg.StatusMax
	if max <= 0 {
		max = defaultStatusMax
	}
	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}

	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	if len(j.status) == 0 {
		return
	}

	for id, st := range j.status {
		if st == nil {
			delete(j.status, id)
			continue
		}
		if st.live() {
			continue
		}
		if ref := st.DoneAt; !ref.IsZero() && now.Sub(ref) > ttl {
			delete(j.status, id)
		}
	}
	if len(j.status) <= max {
		return
	}

	// still too big: drop the oldest finished; queued and running stay
	type kv struct {
		id string
		t  time.Time
	}
	items := make([]kv, 0, len(j.status))
	for id, st := range j.status {
		if st.live() {
			continue
		}
		items = append(items, kv{id: id, t: st.DoneAt})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].t.Before(items[b].t) })
	excess := len(j.status) - max
	for i := 0; i < excess && i < len(items); i++ {
		delete(j.status, items[i].id)
	}
}

// live reports a job that is queued or running; its status is never pruned.
func (s *JobStatus) live() bool {
	return s.Running || (s.StartedAt.IsZero() && s.DoneAt.IsZero())
}
