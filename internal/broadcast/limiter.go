package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateConfig is read once per run; the engine never mutates it.
type RateConfig struct {
	RequestsPerSecond float64
	Burst             int
	// MaxRetries is carried for configuration parity. The throttle path
	// retries exactly once regardless of its value.
	MaxRetries int
}

const (
	DefaultRequestsPerSecond = 20
	DefaultBurst             = 5
	DefaultMaxRetries        = 5
)

var ErrInvalidRate = errors.New("broadcast: invalid rate config")

func DefaultRateConfig() RateConfig {
	return RateConfig{RequestsPerSecond: DefaultRequestsPerSecond, Burst: DefaultBurst, MaxRetries: DefaultMaxRetries}
}

// Validate rejects non-positive rates and bursts and negative retry counts.
func (c RateConfig) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: requests_per_second must be > 0 (got %v)", ErrInvalidRate, c.RequestsPerSecond)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("%w: burst must be > 0 (got %d)", ErrInvalidRate, c.Burst)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0 (got %d)", ErrInvalidRate, c.MaxRetries)
	}
	return nil
}

// Interval is the minimum spacing between dispatches once the burst is spent.
func (c RateConfig) Interval() time.Duration {
	if c.RequestsPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.RequestsPerSecond)
}

// Clock abstracts time for the limiter and the retry backoff.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !t.Stop() {
			<-t.C
		}
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limiter spaces the sends of one broadcast run. The first Burst calls pass
// immediately; every later call waits until at least Interval has passed
// since the previous dispatch. Tokens bound the average rate and the gap
// check keeps post-burst sends an interval apart. Sends made outside Wait,
// such as a throttle retry, must be reported through mark so the next call
// is spaced from them.
//
// A Limiter belongs to a single run and is not safe for concurrent use.
type Limiter struct {
	cfg   RateConfig
	clock Clock

	bucket     *rate.Limiter
	dispatched int
	last       time.Time
}

func NewLimiter(cfg RateConfig) *Limiter {
	return newLimiter(cfg, realClock{})
}

func newLimiter(cfg RateConfig, clock Clock) *Limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	l := &Limiter{cfg: cfg, clock: clock}
	l.Reset()
	return l
}

// Reset restores the fresh-run state: a full burst and no previous dispatch.
func (l *Limiter) Reset() {
	l.bucket = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
	l.dispatched = 0
	l.last = time.Time{}
}

// Wait blocks until the next dispatch is allowed. It only fails when ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	now := l.clock.Now()
	r := l.bucket.ReserveN(now, 1)

	var delay time.Duration
	if l.dispatched >= l.cfg.Burst {
		if r.OK() {
			delay = r.DelayFrom(now)
		}
		if gap := l.last.Add(l.cfg.Interval()).Sub(now); gap > delay {
			delay = gap
		}
	}
	if delay > 0 {
		if err := l.clock.Sleep(ctx, delay); err != nil {
			r.CancelAt(now)
			return err
		}
	}
	l.last = l.clock.Now()
	l.dispatched++
	return nil
}

// mark records a dispatch made without Wait at time t. It takes a token and
// moves the gap reference, so the following Wait is spaced from t.
func (l *Limiter) mark(t time.Time) {
	l.bucket.ReserveN(t, 1)
	l.last = t
	l.dispatched++
}
