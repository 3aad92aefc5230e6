package broadcast

import (
	"context"
	"time"

	logx "giveawaybot/pkg/logx"
)

// DefaultProgressEvery is how often (in processed recipients) a run reports progress.
const DefaultProgressEvery = 100

type options struct {
	log        logx.Logger
	onProgress func(Progress)
	every      int
	clock      Clock
}

// Option customizes a single Broadcast call.
type Option func(*options)

func WithLogger(l logx.Logger) Option {
	return func(o *options) {
		if !l.IsZero() {
			o.log = l
		}
	}
}

// WithProgress registers a callback invoked synchronously from the run loop.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.onProgress = fn }
}

// WithProgressEvery overrides DefaultProgressEvery. n <= 0 disables progress.
func WithProgressEvery(n int) Option {
	return func(o *options) { o.every = n }
}

func withClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// Broadcast sends content to every recipient in order, one at a time, and
// returns the delivery accounting.
//
// Content and rate are validated before the first send; a validation error
// aborts the run with no sends. Empty content is not an error: every
// recipient is counted as skipped without touching the transport.
//
// Per-recipient failures never abort the run. A RetryAfter signal pauses for
// exactly the requested duration and retries that recipient once.
//
// When ctx ends mid-list the partial result (Total set to the number of
// recipients processed so far) is returned together with ctx.Err().
func Broadcast(ctx context.Context, t Transport, recipients []int64, content MessageContent, rc RateConfig, opts ...Option) (Result, error) {
	o := options{log: logx.Nop(), every: DefaultProgressEvery, clock: realClock{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := rc.Validate(); err != nil {
		return Result{Errors: map[string]int{}}, err
	}
	empty := content.Empty()
	if !empty {
		if err := content.Validate(); err != nil {
			return Result{Errors: map[string]int{}}, err
		}
	}

	log := o.log.With(logx.Int("total", len(recipients)))
	start := o.clock.Now()
	lim := newLimiter(rc, o.clock)
	tl := newTally(len(recipients))

	log.Info("broadcast started",
		logx.Float64("rps", rc.RequestsPerSecond),
		logx.Int("burst", rc.Burst),
		logx.Bool("media", content.HasMedia()),
	)

	for _, rcpt := range recipients {
		if err := ctx.Err(); err != nil {
			return abort(log, tl, o.clock.Now().Sub(start), err)
		}
		if empty {
			tl.skip()
		} else {
			if err := lim.Wait(ctx); err != nil {
				return abort(log, tl, o.clock.Now().Sub(start), err)
			}
			if err := deliver(ctx, t, rcpt, content, tl, lim, log); err != nil {
				return abort(log, tl, o.clock.Now().Sub(start), err)
			}
		}
		if o.every > 0 && tl.processed%o.every == 0 {
			p := tl.progress()
			log.Info("broadcast progress",
				logx.Int("processed", p.Processed),
				logx.Int("sent", p.Sent),
				logx.Int("failed", p.Failed),
				logx.Int("skipped", p.Skipped),
			)
			if o.onProgress != nil {
				o.onProgress(p)
			}
		}
	}

	res := tl.result(o.clock.Now().Sub(start))
	fields := []logx.Field{
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped),
		logx.Duration("dur", res.Duration),
	}
	if len(res.Errors) > 0 {
		fields = append(fields, logx.Any("errors", res.Errors))
	}
	log.Info("broadcast finished", fields...)
	return res, nil
}

// deliver sends to one recipient and records the outcome in tl. It only
// returns an error when ctx ends during the RetryAfter pause.
func deliver(ctx context.Context, t Transport, rcpt int64, c MessageContent, tl *tally, lim *Limiter, log logx.Logger) error {
	sig := Classify(dispatch(ctx, t, rcpt, c))
	switch sig.Kind {
	case SignalOK:
		tl.ok()
	case SignalRetryAfter:
		log.Warn("throttled; retrying once", logx.Int64("recipient", rcpt), logx.Duration("after", sig.After))
		if err := lim.clock.Sleep(ctx, sig.After); err != nil {
			return err
		}
		err := dispatch(ctx, t, rcpt, c)
		lim.mark(lim.clock.Now())
		if err != nil {
			tl.fail(KeyRetryFailed)
			log.Warn("retry failed", logx.Int64("recipient", rcpt), logx.Err(err))
			return nil
		}
		tl.ok()
	case SignalForbidden:
		tl.fail(errorKey(sig))
		log.Debug("recipient blocked the bot", logx.Int64("recipient", rcpt))
	case SignalAPIError:
		tl.fail(errorKey(sig))
		log.Warn("api error", logx.Int64("recipient", rcpt), logx.Int("code", sig.Code), logx.String("detail", sig.Detail))
	default:
		tl.fail(errorKey(sig))
		log.Error("unexpected send error", logx.Int64("recipient", rcpt), logx.String("detail", sig.Detail))
	}
	return nil
}

func abort(log logx.Logger, tl *tally, d time.Duration, err error) (Result, error) {
	tl.total = tl.processed
	res := tl.result(d)
	log.Warn("broadcast aborted",
		logx.Int("processed", res.Total),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Err(err),
	)
	return res, err
}
