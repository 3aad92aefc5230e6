package broadcast

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		kind SignalKind
		key  string
	}{
		{name: "nil", err: nil, kind: SignalOK},
		{name: "retry after", err: RetryAfter(3 * time.Second), kind: SignalRetryAfter, key: KeyRetryFailed},
		{name: "forbidden", err: Forbidden("bot was blocked by the user"), kind: SignalForbidden, key: KeyBlocked},
		{name: "api error with code", err: APIError(400, "chat not found"), kind: SignalAPIError, key: "api_error_400"},
		{name: "api error without code", err: APIError(0, "bad"), kind: SignalAPIError, key: "api_error"},
		{name: "wrapped signal", err: fmt.Errorf("send: %w", Forbidden("")), kind: SignalForbidden, key: KeyBlocked},
		{name: "plain error", err: errors.New("connection reset"), kind: SignalUnexpected, key: KeyUnexpected},
		{name: "context", err: context.DeadlineExceeded, kind: SignalUnexpected, key: KeyUnexpected},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sig := Classify(tc.err)
			if sig.Kind != tc.kind {
				t.Fatalf("Classify kind = %v, want %v", sig.Kind, tc.kind)
			}
			if tc.kind == SignalOK {
				return
			}
			if got := errorKey(sig); got != tc.key {
				t.Fatalf("errorKey = %q, want %q", got, tc.key)
			}
		})
	}
}

func TestRetryAfterClampsNegative(t *testing.T) {
	t.Parallel()
	if got := RetryAfter(-time.Second).After; got != 0 {
		t.Fatalf("After = %v, want 0", got)
	}
}
