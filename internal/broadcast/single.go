package broadcast

import (
	"context"
	"fmt"

	logx "giveawaybot/pkg/logx"
)

// SendOnce delivers content to a single recipient with no limiter and no
// retry. It reports success and logs every failure; it never panics.
func SendOnce(ctx context.Context, t Transport, recipient int64, c MessageContent, log logx.Logger) (ok bool) {
	log = log.With(logx.Int64("recipient", recipient))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in single send", logx.String("panic", fmt.Sprint(r)))
			ok = false
		}
	}()

	if err := c.Validate(); err != nil {
		log.Error("nothing valid to send", logx.Err(err))
		return false
	}
	if err := dispatch(ctx, t, recipient, c); err != nil {
		sig := Classify(err)
		log.Error("single send failed", logx.String("signal", sig.Kind.String()), logx.Err(err))
		return false
	}
	return true
}
