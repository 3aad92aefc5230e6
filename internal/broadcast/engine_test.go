package broadcast

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	logx "giveawaybot/pkg/logx"
)

var fastRate = RateConfig{RequestsPerSecond: 1000, Burst: 100, MaxRetries: 5}

func TestBroadcastDeliversToAllInOrder(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	res, err := Broadcast(context.Background(), tr, []int64{1, 2, 3}, MessageContent{Text: "hi"}, fastRate)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Total != 3 || res.Sent != 3 || res.Failed != 0 || res.Skipped != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v, want empty", res.Errors)
	}
	calls := tr.snapshot()
	for i, want := range []int64{1, 2, 3} {
		if calls[i].recipient != want || calls[i].text != "hi" || calls[i].media {
			t.Fatalf("call %d = %+v", i, calls[i])
		}
	}
}

func TestBroadcastEmptyContentSkipsWithoutSending(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	res, err := Broadcast(context.Background(), tr, []int64{1, 2}, MessageContent{}, fastRate)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Total != 2 || res.Skipped != 2 || res.Sent != 0 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := len(tr.snapshot()); n != 0 {
		t.Fatalf("transport called %d times", n)
	}
}

func TestBroadcastEmptyRecipients(t *testing.T) {
	t.Parallel()
	res, err := Broadcast(context.Background(), newFakeTransport(nil), nil, MessageContent{Text: "x"}, fastRate)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Total != 0 || res.Sent != 0 || res.Failed != 0 || res.Skipped != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestBroadcastMediaUsesTextAsCaption(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	c := MessageContent{Text: "winner list", MediaRef: "AgAD-file", MediaKind: MediaAnimation}
	if _, err := Broadcast(context.Background(), tr, []int64{42}, c, fastRate); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	calls := tr.snapshot()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	got := calls[0]
	if !got.media || got.kind != MediaAnimation || got.ref != "AgAD-file" || got.text != "winner list" {
		t.Fatalf("media call = %+v", got)
	}
}

func TestBroadcastFailureHistogram(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(func(r int64, _ int) error {
		switch r {
		case 2:
			return Forbidden("blocked")
		case 3:
			return APIError(400, "chat not found")
		case 4:
			return APIError(0, "")
		case 5:
			return errors.New("network down")
		}
		return nil
	})
	res, err := Broadcast(context.Background(), tr, []int64{1, 2, 3, 4, 5, 6}, MessageContent{Text: "hi"}, fastRate)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Sent != 2 || res.Failed != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := map[string]int{"blocked": 1, "api_error_400": 1, "api_error": 1, "unexpected": 1}
	if len(res.Errors) != len(want) {
		t.Fatalf("errors = %v, want %v", res.Errors, want)
	}
	for k, v := range want {
		if res.Errors[k] != v {
			t.Fatalf("errors[%q] = %d, want %d (all: %v)", k, res.Errors[k], v, res.Errors)
		}
	}
}

func TestBroadcastRetryAfterSucceeds(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(func(r int64, attempt int) error {
		if r == 1 && attempt == 1 {
			return RetryAfter(10 * time.Millisecond)
		}
		return nil
	})
	res, err := Broadcast(context.Background(), tr, []int64{1}, MessageContent{Text: "hi"}, fastRate)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Sent != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	calls := tr.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if gap := calls[1].at.Sub(calls[0].at); gap < 10*time.Millisecond {
		t.Fatalf("retry came %v after throttle, want >= 10ms", gap)
	}
}

func TestBroadcastRetryAfterRetriesOnlyOnce(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newFakeTransport(func(r int64, _ int) error {
		if r == 1 {
			return RetryAfter(3 * time.Second)
		}
		return nil
	})
	res, err := Broadcast(context.Background(), tr, []int64{1, 2}, MessageContent{Text: "hi"}, fastRate, withClock(clk))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Sent != 1 || res.Failed != 1 || res.Errors[KeyRetryFailed] != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := len(tr.snapshot()); n != 3 {
		t.Fatalf("calls = %d, want 3 (two for recipient 1)", n)
	}
	found := false
	for _, d := range clk.sleeps {
		if d == 3*time.Second {
			found = true
		}
	}
	if !found {
		t.Fatalf("engine did not sleep the requested 3s: %v", clk.sleeps)
	}
}

func TestBroadcastRetryFailureOfAnyKindIsRetryFailed(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(func(_ int64, attempt int) error {
		if attempt == 1 {
			return RetryAfter(0)
		}
		return Forbidden("")
	})
	res, _ := Broadcast(context.Background(), tr, []int64{9}, MessageContent{Text: "hi"}, fastRate, withClock(newFakeClock()))
	if res.Errors[KeyRetryFailed] != 1 || res.Errors[KeyBlocked] != 0 {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestBroadcastDuplicatesSentTwice(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	res, err := Broadcast(context.Background(), tr, []int64{7, 8, 7}, MessageContent{Text: "hi"}, fastRate)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Sent != 3 {
		t.Fatalf("sent = %d, want 3", res.Sent)
	}
	calls := tr.snapshot()
	if calls[0].recipient != 7 || calls[1].recipient != 8 || calls[2].recipient != 7 {
		t.Fatalf("order not preserved: %+v", calls)
	}
}

func TestBroadcastRejectsUnsupportedMediaBeforeSending(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	_, err := Broadcast(context.Background(), tr, []int64{1, 2}, MessageContent{MediaRef: "f", MediaKind: "sticker"}, fastRate)
	if !errors.Is(err, ErrUnsupportedMediaKind) {
		t.Fatalf("err = %v, want ErrUnsupportedMediaKind", err)
	}
	if n := len(tr.snapshot()); n != 0 {
		t.Fatalf("transport called %d times", n)
	}
}

func TestBroadcastRejectsInvalidRate(t *testing.T) {
	t.Parallel()
	_, err := Broadcast(context.Background(), newFakeTransport(nil), []int64{1}, MessageContent{Text: "x"}, RateConfig{})
	if !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("err = %v, want ErrInvalidRate", err)
	}
}

func TestBroadcastSpacingAfterBurst(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newFakeTransport(nil)
	tr.now = clk.Now
	rc := RateConfig{RequestsPerSecond: 10, Burst: 2}
	if _, err := Broadcast(context.Background(), tr, []int64{1, 2, 3, 4, 5}, MessageContent{Text: "hi"}, rc, withClock(clk)); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	calls := tr.snapshot()
	if !calls[1].at.Equal(calls[0].at) {
		t.Fatalf("second burst send waited %v", calls[1].at.Sub(calls[0].at))
	}
	for i := 2; i < len(calls); i++ {
		if gap := calls[i].at.Sub(calls[i-1].at); gap < rc.Interval() {
			t.Fatalf("send %d gap %v < %v", i, gap, rc.Interval())
		}
	}
}

func TestBroadcastSpacingAfterRetry(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newFakeTransport(func(r int64, attempt int) error {
		if r == 2 && attempt == 1 {
			return RetryAfter(2 * time.Second)
		}
		return nil
	})
	tr.now = clk.Now
	rc := RateConfig{RequestsPerSecond: 10, Burst: 1}
	res, err := Broadcast(context.Background(), tr, []int64{1, 2, 3}, MessageContent{Text: "hi"}, rc, withClock(clk))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Sent != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	calls := tr.snapshot()
	if len(calls) != 4 || calls[2].recipient != 2 || calls[3].recipient != 3 {
		t.Fatalf("calls = %+v", calls)
	}
	if gap := calls[3].at.Sub(calls[2].at); gap < rc.Interval() {
		t.Fatalf("send after retry came %v later, want >= %v", gap, rc.Interval())
	}
}

func TestBroadcastProgressCallback(t *testing.T) {
	t.Parallel()
	var got []Progress
	_, err := Broadcast(context.Background(), newFakeTransport(nil), []int64{1, 2, 3, 4, 5}, MessageContent{Text: "x"}, fastRate,
		WithProgressEvery(2),
		WithProgress(func(p Progress) { got = append(got, p) }),
	)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(got) != 2 || got[0].Processed != 2 || got[1].Processed != 4 || got[1].Total != 5 {
		t.Fatalf("progress = %+v", got)
	}
}

func TestBroadcastCancellationReturnsPartialResult(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newFakeTransport(func(r int64, _ int) error {
		if r == 2 {
			cancel()
		}
		return nil
	})
	res, err := Broadcast(ctx, tr, []int64{1, 2, 3, 4}, MessageContent{Text: "x"}, fastRate)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Sent != 2 || res.Total != 2 {
		t.Fatalf("partial result = %+v", res)
	}
	if res.Total != res.Sent+res.Failed+res.Skipped {
		t.Fatalf("invariant broken: %+v", res)
	}
}

func TestBroadcastAccountingInvariant(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	for run := 0; run < 20; run++ {
		n := rng.IntN(60)
		recipients := make([]int64, n)
		outcomes := make(map[int64]error, n)
		for i := range recipients {
			id := int64(i + 1)
			recipients[i] = id
			switch rng.IntN(5) {
			case 1:
				outcomes[id] = Forbidden("")
			case 2:
				outcomes[id] = APIError(400+rng.IntN(3), "")
			case 3:
				outcomes[id] = errors.New("boom")
			case 4:
				outcomes[id] = RetryAfter(time.Duration(rng.IntN(3)) * time.Second)
			}
		}
		tr := newFakeTransport(func(r int64, _ int) error { return outcomes[r] })
		res, err := Broadcast(context.Background(), tr, recipients, MessageContent{Text: "x"}, fastRate, withClock(newFakeClock()))
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.Total != n || res.Total != res.Sent+res.Failed+res.Skipped {
			t.Fatalf("run %d: invariant broken: %+v", run, res)
		}
		sum := 0
		for _, v := range res.Errors {
			sum += v
		}
		if sum != res.Failed {
			t.Fatalf("run %d: histogram sums to %d, failed = %d", run, sum, res.Failed)
		}
	}
}

func TestSendOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ok := newFakeTransport(nil)
	if !SendOnce(ctx, ok, 1, MessageContent{Text: "hi"}, logx.Nop()) {
		t.Fatal("expected success")
	}

	empty := newFakeTransport(nil)
	if SendOnce(ctx, empty, 1, MessageContent{}, logx.Nop()) {
		t.Fatal("empty content must not succeed")
	}
	if len(empty.snapshot()) != 0 {
		t.Fatal("empty content reached the transport")
	}

	throttled := newFakeTransport(func(int64, int) error { return RetryAfter(time.Second) })
	if SendOnce(ctx, throttled, 1, MessageContent{Text: "hi"}, logx.Nop()) {
		t.Fatal("throttled send must fail without retry")
	}
	if n := len(throttled.snapshot()); n != 1 {
		t.Fatalf("SendOnce retried: %d calls", n)
	}

	panicky := newFakeTransport(func(int64, int) error { panic("transport bug") })
	if SendOnce(ctx, panicky, 1, MessageContent{Text: "hi"}, logx.Nop()) {
		t.Fatal("panicking transport must report failure")
	}
}

func TestResultSummary(t *testing.T) {
	t.Parallel()
	r := Result{Total: 12345, Sent: 12000, Failed: 345, Duration: 1500 * time.Millisecond, Errors: map[string]int{"unexpected": 45, "blocked": 300}}
	want := "sent 12,000 of 12,345, failed 345 in 1.5s (blocked=300, unexpected=45)"
	if got := r.Summary(); got != want {
		t.Fatalf("Summary = %q, want %q", got, want)
	}
}
