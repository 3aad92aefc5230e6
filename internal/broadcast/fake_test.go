package broadcast

import (
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sendCall struct {
	recipient int64
	media     bool
	kind      MediaKind
	ref       string
	text      string
	at        time.Time
}

// fakeTransport records every call. script decides the outcome of the
// n-th attempt (1-based) for a recipient; nil means success.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []sendCall
	attempts map[int64]int
	script   func(recipient int64, attempt int) error
	now      func() time.Time
}

func newFakeTransport(script func(int64, int) error) *fakeTransport {
	return &fakeTransport{attempts: map[int64]int{}, script: script, now: time.Now}
}

func (f *fakeTransport) record(c sendCall) error {
	f.mu.Lock()
	c.at = f.now()
	f.calls = append(f.calls, c)
	f.attempts[c.recipient]++
	n := f.attempts[c.recipient]
	script := f.script
	f.mu.Unlock()
	if script == nil {
		return nil
	}
	return script(c.recipient, n)
}

func (f *fakeTransport) SendText(_ context.Context, recipient int64, text string, _ any) error {
	return f.record(sendCall{recipient: recipient, text: text})
}

func (f *fakeTransport) SendMedia(_ context.Context, recipient int64, kind MediaKind, ref, caption string, _ any) error {
	return f.record(sendCall{recipient: recipient, media: true, kind: kind, ref: ref, text: caption})
}

func (f *fakeTransport) snapshot() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}
