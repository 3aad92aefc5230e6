package broadcast

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SignalKind is the closed set of outcomes of one transport send attempt.
type SignalKind int

const (
	SignalOK SignalKind = iota
	SignalRetryAfter
	SignalForbidden
	SignalAPIError
	SignalUnexpected
)

func (k SignalKind) String() string {
	switch k {
	case SignalOK:
		return "ok"
	case SignalRetryAfter:
		return "retry_after"
	case SignalForbidden:
		return "forbidden"
	case SignalAPIError:
		return "api_error"
	case SignalUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Signal is a classified send failure. Transports return *Signal as their
// error value so the engine can match on Kind instead of on error types.
type Signal struct {
	Kind SignalKind
	// After is the mandatory wait for SignalRetryAfter.
	After time.Duration
	// Code is the platform error code for SignalAPIError (0 when unknown).
	Code   int
	Detail string
}

func (s *Signal) Error() string {
	switch s.Kind {
	case SignalRetryAfter:
		return fmt.Sprintf("retry after %s", s.After)
	case SignalForbidden:
		if s.Detail != "" {
			return "forbidden: " + s.Detail
		}
		return "forbidden"
	case SignalAPIError:
		msg := "api error"
		if s.Code != 0 {
			msg += " " + strconv.Itoa(s.Code)
		}
		if s.Detail != "" {
			msg += ": " + s.Detail
		}
		return msg
	case SignalUnexpected:
		return "unexpected: " + s.Detail
	default:
		return s.Kind.String()
	}
}

func RetryAfter(d time.Duration) *Signal {
	if d < 0 {
		d = 0
	}
	return &Signal{Kind: SignalRetryAfter, After: d}
}

func Forbidden(detail string) *Signal { return &Signal{Kind: SignalForbidden, Detail: detail} }

func APIError(code int, detail string) *Signal {
	return &Signal{Kind: SignalAPIError, Code: code, Detail: detail}
}

func Unexpected(detail string) *Signal { return &Signal{Kind: SignalUnexpected, Detail: detail} }

// Classify maps a transport error onto a Signal. nil is SignalOK; errors
// that are not a *Signal (network faults, context errors) are SignalUnexpected.
func Classify(err error) Signal {
	if err == nil {
		return Signal{Kind: SignalOK}
	}
	var sig *Signal
	if errors.As(err, &sig) && sig != nil {
		return *sig
	}
	return Signal{Kind: SignalUnexpected, Detail: err.Error()}
}

// histogram keys
const (
	KeyBlocked     = "blocked"
	KeyRetryFailed = "retry_failed"
	KeyAPIError    = "api_error"
	KeyUnexpected  = "unexpected"
)

// errorKey is the histogram label for a failed signal.
func errorKey(s Signal) string {
	switch s.Kind {
	case SignalForbidden:
		return KeyBlocked
	case SignalAPIError:
		if s.Code != 0 {
			return KeyAPIError + "_" + strconv.Itoa(s.Code)
		}
		return KeyAPIError
	case SignalRetryAfter:
		return KeyRetryFailed
	default:
		return KeyUnexpected
	}
}
