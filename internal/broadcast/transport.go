package broadcast

import "context"

// Transport delivers one message to one recipient. Failures are reported as
// *Signal values; any other error is treated as SignalUnexpected.
//
// Implementations must be safe for concurrent use: independent runs share
// the transport.
type Transport interface {
	SendText(ctx context.Context, recipient int64, text string, markup any) error
	SendMedia(ctx context.Context, recipient int64, kind MediaKind, ref, caption string, markup any) error
}

// dispatch picks the transport call for content: media (with Text as the
// caption) when MediaRef is set, plain text otherwise.
func dispatch(ctx context.Context, t Transport, recipient int64, c MessageContent) error {
	if c.HasMedia() {
		return t.SendMedia(ctx, recipient, c.MediaKind, c.MediaRef, c.Text, c.Markup)
	}
	return t.SendText(ctx, recipient, c.Text, c.Markup)
}
