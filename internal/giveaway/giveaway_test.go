package giveaway

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/storage"
	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
)

type sent struct {
	to      int64
	text    string
	media   broadcast.MediaKind
	hasMark bool
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sent
	fail map[int64]error
}

func (f *fakeTransport) record(s sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[s.to]; err != nil {
		return err
	}
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, to int64, text string, markup any) error {
	return f.record(sent{to: to, text: text, hasMark: markup != nil})
}

func (f *fakeTransport) SendMedia(_ context.Context, to int64, kind broadcast.MediaKind, _ string, caption string, markup any) error {
	return f.record(sent{to: to, text: caption, media: kind, hasMark: markup != nil})
}

func (f *fakeTransport) recipients() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.to)
	}
	return out
}

type fakeMembers map[int64]kit.MemberStatus

func (m fakeMembers) MemberStatus(_ context.Context, _ int64, userID int64) (kit.MemberStatus, error) {
	st, ok := m[userID]
	if !ok {
		return "", errors.New("user not found")
	}
	return st, nil
}

type fakeJobs struct{ reqs []broadcast.JobRequest }

func (j *fakeJobs) Submit(req broadcast.JobRequest) (string, error) {
	j.reqs = append(j.reqs, req)
	return "job-1", nil
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *storage.Store
	tr    *fakeTransport
	mem   fakeMembers
}

func newFixture(t *testing.T, jobs JobSubmitter, bus eventbus.Bus) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fast := broadcast.RateConfig{RequestsPerSecond: 1000, Burst: 100}
	f := &fixture{store: st, tr: &fakeTransport{}, mem: fakeMembers{}}
	f.svc = New(Options{
		ChannelID:    -100,
		AdminIDs:     []int64{900, 901},
		JoinURL:      "https://t.me/gbot?start=join",
		Location:     time.UTC,
		AnnounceRate: fast,
		AdminRate:    fast,
		AutoPublish:  TargetChannel,
	}, st, f.mem, f.tr, jobs, bus, logx.Nop())
	f.svc.now = func() time.Time { return base }
	// deterministic draw: reverse order
	f.svc.shuffle = func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	return f
}

func (f *fixture) create(t *testing.T, winners int, end time.Time) storage.Giveaway {
	t.Helper()
	g, err := f.svc.Create(context.Background(), Draft{
		Description: "Win a <prize>",
		NumWinners:  winners,
		EndAt:       end,
		CreatedBy:   900,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return g
}

func TestJoinFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.mem[1] = kit.MemberMember
	f.mem[2] = kit.MemberLeft

	if out, _, err := f.svc.Join(ctx, 1, "alice"); err != nil || out != NoActive {
		t.Fatalf("join without giveaway = %v, %v", out, err)
	}
	g := f.create(t, 1, base.Add(time.Hour))

	tests := []struct {
		name string
		user int64
		want JoinOutcome
	}{
		{"member joins", 1, Joined},
		{"second join", 1, AlreadyJoined},
		{"left user", 2, NotSubscribed},
		{"lookup error", 3, NotSubscribed},
	}
	for _, tt := range tests {
		out, got, err := f.svc.Join(ctx, tt.user, "u")
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if out != tt.want {
			t.Fatalf("%s: outcome = %v, want %v", tt.name, out, tt.want)
		}
		if (out == Joined || out == AlreadyJoined) && got.ID != g.ID {
			t.Fatalf("%s: giveaway = %d", tt.name, got.ID)
		}
	}
	if n, _ := f.store.UserCount(ctx); n != 3 {
		t.Fatalf("every caller must be registered, got %d", n)
	}
	ps, _ := f.store.Participants(ctx, g.ID)
	if len(ps) != 1 || !ps[0].EndSnapshot.Equal(g.EndAt) {
		t.Fatalf("participants = %+v", ps)
	}
}

func TestCreateValidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	_, err := f.svc.Create(context.Background(), Draft{
		NumWinners: 0,
		EndAt:      base.Add(-time.Hour),
		MediaRef:   "file",
		MediaKind:  "sticker",
	})
	if !errors.Is(err, ErrInvalidDraft) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, broadcast.ErrUnsupportedMediaKind) {
		t.Fatalf("media kind error lost: %v", err)
	}
	for _, want := range []string{"description", "winners", "end time"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q misses %q", err, want)
		}
	}
}

func TestCreateKeepsSingleActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	first := f.create(t, 1, base.Add(time.Hour))
	second := f.create(t, 2, base.Add(2*time.Hour))

	act, err := f.svc.Active(context.Background())
	if err != nil || act.ID != second.ID {
		t.Fatalf("active = %+v, %v", act, err)
	}
	old, _ := f.store.Giveaway(context.Background(), first.ID)
	if old.Active {
		t.Fatal("first giveaway must be deactivated")
	}
}

func TestSelectWinners(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	g := f.create(t, 2, base.Add(time.Hour))

	if _, err := f.svc.SelectWinners(ctx, g.ID); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("empty draw err = %v", err)
	}
	for i, name := range []string{"a", "b", ""} {
		id := int64(i + 1)
		f.mem[id] = kit.MemberMember
		if _, _, err := f.svc.Join(ctx, id, name); err != nil {
			t.Fatal(err)
		}
	}
	ws, err := f.svc.SelectWinners(ctx, g.ID)
	if err != nil {
		t.Fatalf("SelectWinners: %v", err)
	}
	if len(ws) != 2 || ws[0].UserID != 3 || ws[1].UserID != 2 {
		t.Fatalf("winners = %+v", ws)
	}
	again, err := f.svc.SelectWinners(ctx, g.ID)
	if err != nil || len(again) != 2 || again[0].UserID != ws[0].UserID {
		t.Fatalf("redraw must be idempotent: %+v %v", again, err)
	}
	if got := FormatWinners(ws).String(); got != "1. ID: 3\n2. @b" {
		t.Fatalf("FormatWinners = %q", got)
	}
}

func TestSelectWinnersConcurrentDrawsKeepOneResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	g := f.create(t, 1, base.Add(time.Hour))
	for id := int64(1); id <= 4; id++ {
		f.mem[id] = kit.MemberMember
		if _, _, err := f.svc.Join(ctx, id, ""); err != nil {
			t.Fatal(err)
		}
	}
	// every draw puts a different participant first
	var draws atomic.Int32
	f.svc.shuffle = func(n int, swap func(i, j int)) {
		k := int(draws.Add(1)) % n
		swap(0, k)
	}

	const callers = 4
	start := make(chan struct{})
	results := make([][]storage.Winner, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.svc.SelectWinners(ctx, g.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	stored, err := f.store.Winners(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("num_winners=1 giveaway has %d stored winners: %+v", len(stored), stored)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if len(results[i]) != 1 || results[i][0].UserID != stored[0].UserID {
			t.Fatalf("caller %d saw %+v, stored %+v", i, results[i], stored)
		}
	}
}

func TestSelectWinnersCapsAtParticipants(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	g := f.create(t, 10, base.Add(time.Hour))
	f.mem[1] = kit.MemberCreator
	if _, _, err := f.svc.Join(ctx, 1, "solo"); err != nil {
		t.Fatal(err)
	}
	ws, err := f.svc.SelectWinners(ctx, g.ID)
	if err != nil || len(ws) != 1 {
		t.Fatalf("winners = %+v, %v", ws, err)
	}
}

func TestAnnounceContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	g := f.create(t, 3, base.Add(time.Hour))
	c := f.svc.AnnounceContent(g)
	if c.HasMedia() || c.Markup == nil {
		t.Fatalf("content = %+v", c)
	}
	for _, want := range []string{"Win a &lt;prize&gt;", "Winners: 3", "2025-06-01 13:00"} {
		if !strings.Contains(c.Text, want) {
			t.Fatalf("announce %q misses %q", c.Text, want)
		}
	}

	g.AnnounceMediaRef, g.AnnounceMediaKind = "file-1", "Photo"
	c = f.svc.AnnounceContent(g)
	if c.MediaKind != broadcast.MediaPhoto || c.Validate() != nil {
		t.Fatalf("media content = %+v", c)
	}
}

func TestPublishTargets(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{}
	f := newFixture(t, jobs, nil)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		if err := f.store.UpsertUser(ctx, id, "", base); err != nil {
			t.Fatal(err)
		}
	}
	c := broadcast.MessageContent{Text: "hello"}

	rep, err := f.svc.Publish(ctx, TargetEverywhere, c, "test", 900)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !rep.ChannelOK || rep.JobID != "job-1" || rep.Admins != nil {
		t.Fatalf("report = %+v", rep)
	}
	if len(jobs.reqs) != 1 || len(jobs.reqs[0].Recipients) != 2 || jobs.reqs[0].RequestedBy != 900 {
		t.Fatalf("job requests = %+v", jobs.reqs)
	}

	rep, err = f.svc.Publish(ctx, TargetAdmins, c, "test", 900)
	if err != nil || rep.Admins == nil || rep.Admins.Sent != 2 || rep.Sent() != 2 {
		t.Fatalf("admins report = %+v, %v", rep, err)
	}
	recs, _ := f.store.RecentBroadcasts(ctx, 10)
	if len(recs) != 1 || recs[0].Sent != 2 {
		t.Fatalf("records = %+v", recs)
	}

	if _, err := f.svc.Publish(ctx, TargetChannel, broadcast.MessageContent{}, "empty", 900); !errors.Is(err, broadcast.ErrEmptyContent) {
		t.Fatalf("empty content err = %v", err)
	}
}

func TestPublishUsersWithoutJobsRunsInline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	for _, id := range []int64{5, 6, 7} {
		_ = f.store.UpsertUser(ctx, id, "", base)
	}
	f.tr.fail = map[int64]error{6: broadcast.Forbidden("blocked")}

	rep, err := f.svc.Publish(ctx, TargetUsers, broadcast.MessageContent{Text: "x"}, "inline", 0)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Users == nil || rep.Users.Sent != 2 || rep.Users.Errors[broadcast.KeyBlocked] != 1 {
		t.Fatalf("users = %+v", rep.Users)
	}
	if rep.ChannelTried {
		t.Fatal("channel must not be tried for users target")
	}
}

func TestCloseExpired(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, EventClosed)
	defer unsub()

	f := newFixture(t, nil, bus)
	ctx := context.Background()
	g := f.create(t, 1, base.Add(time.Hour))
	f.mem[1] = kit.MemberMember
	if _, _, err := f.svc.Join(ctx, 1, "alice"); err != nil {
		t.Fatal(err)
	}

	if closed, err := f.svc.CloseExpired(ctx); err != nil || len(closed) != 0 {
		t.Fatalf("nothing expired yet: %+v %v", closed, err)
	}

	f.svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	closed, err := f.svc.CloseExpired(ctx)
	if err != nil || len(closed) != 1 {
		t.Fatalf("CloseExpired = %+v, %v", closed, err)
	}
	cl := closed[0]
	if cl.Giveaway.ID != g.ID || cl.Giveaway.Active || len(cl.Winners) != 1 || cl.Err != "" {
		t.Fatalf("closed = %+v", cl)
	}
	if !cl.Report.ChannelOK {
		t.Fatalf("results should be published to the channel: %+v", cl.Report)
	}
	if got := f.tr.recipients(); len(got) != 1 || got[0] != -100 {
		t.Fatalf("sent to %v", got)
	}

	select {
	case ev := <-events:
		if ev.Data.(Closed).Giveaway.ID != g.ID {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("expected giveaway.closed event")
	}

	if again, _ := f.svc.CloseExpired(ctx); len(again) != 0 {
		t.Fatal("closed giveaways must not be closed twice")
	}
}

func TestCloseExpiredWithoutParticipants(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	f.create(t, 1, base.Add(time.Minute))
	f.svc.now = func() time.Time { return base.Add(time.Hour) }

	closed, err := f.svc.CloseExpired(context.Background())
	if err != nil || len(closed) != 1 || closed[0].Err != "no participants" {
		t.Fatalf("closed = %+v, %v", closed, err)
	}
	if len(f.tr.recipients()) != 0 {
		t.Fatal("nothing should be published")
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Target{"": TargetNone, "Channel": TargetChannel, " users ": TargetUsers} {
		got, err := ParseTarget(in)
		if err != nil || got != want {
			t.Fatalf("ParseTarget(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTarget("moon"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("err = %v", err)
	}
}
