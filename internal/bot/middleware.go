package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "giveawaybot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a handler. The first middleware given to Chain runs
// outermost.
type Middleware func(next HandlerFunc) HandlerFunc

// ErrAccessDenied is returned by MWAdminOnly when a non-admin reaches an
// admin route. The sender has already been told.
var ErrAccessDenied = errors.New("bot: access denied")

// slowRequest promotes successful requests to info level.
const slowRequest = 750 * time.Millisecond

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWAdminOnly stops requests from non-admins. deny reports the refusal to
// the sender; the wrapped handler never runs.
func MWAdminOnly(deny func(ctx context.Context, req *Request)) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.Admin {
				return next(ctx, req)
			}
			if deny != nil {
				deny(ctx, req)
			}
			return ErrAccessDenied
		}
	}
}

// MWTimeout bounds the handler; a zero duration leaves ctx untouched.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error so one bad update
// cannot take a worker down.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				requestLogger(log, req).Error("handler panicked",
					logx.String("cmd", req.Command),
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("bot: %s panicked: %v", req.Command, rec)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs each routed command or callback once it completes.
// Denials and slow successes go to info; failures go to warn.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			logger := requestLogger(log, req)
			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.String("cmd", req.Command),
				logx.Bool("is_admin", req.Admin),
				logx.Int("args", len(req.Args)),
				logx.Duration("dur", d),
			}
			switch {
			case errors.Is(err, ErrAccessDenied):
				logger.Info("request denied", fields...)
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= slowRequest:
				logger.Info("slow request", fields...)
			default:
				logger.Debug("request handled", fields...)
			}
			return err
		}
	}
}

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}
