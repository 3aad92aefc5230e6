package broadcast

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MediaKind tags the attachment carried by a MessageContent.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
	MediaDocument  MediaKind = "document"
)

// Bot API limits.
const (
	MaxTextLength    = 4096
	MaxCaptionLength = 1024
)

var (
	ErrEmptyContent         = errors.New("broadcast: content has neither text nor media")
	ErrUnsupportedMediaKind = errors.New("broadcast: unsupported media kind")
	ErrTextTooLong          = errors.New("broadcast: text too long")
)

// UnsupportedMediaKindError carries the offending kind. It matches
// ErrUnsupportedMediaKind with errors.Is.
type UnsupportedMediaKindError struct {
	Kind MediaKind
}

func (e *UnsupportedMediaKindError) Error() string {
	if e.Kind == "" {
		return "broadcast: media kind is required when media is set"
	}
	return fmt.Sprintf("broadcast: unsupported media kind %q", string(e.Kind))
}

func (e *UnsupportedMediaKindError) Is(target error) bool { return target == ErrUnsupportedMediaKind }

// Supported reports whether k is one of the four deliverable kinds.
func (k MediaKind) Supported() bool {
	switch k {
	case MediaPhoto, MediaVideo, MediaAnimation, MediaDocument:
		return true
	}
	return false
}

// ParseMediaKind normalizes a stored or user-supplied kind ("Photo", " gif ").
// Unknown values are returned as-is so Validate can reject them.
func ParseMediaKind(s string) MediaKind {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "gif" {
		return MediaAnimation
	}
	return MediaKind(s)
}

// MessageContent describes what a broadcast sends: text and/or one media
// attachment. For media messages Text is used as the caption.
//
// Markup is opaque to this package; the transport decides what it accepts
// (the Telegram transport expects *telebot.ReplyMarkup).
type MessageContent struct {
	Text      string
	MediaRef  string
	MediaKind MediaKind
	Markup    any
}

func (c MessageContent) HasText() bool  { return strings.TrimSpace(c.Text) != "" }
func (c MessageContent) HasMedia() bool { return strings.TrimSpace(c.MediaRef) != "" }

// Empty reports whether there is nothing to send.
func (c MessageContent) Empty() bool { return !c.HasText() && !c.HasMedia() }

// Validate checks the content before any send. It returns ErrEmptyContent,
// an *UnsupportedMediaKindError, or ErrTextTooLong.
func (c MessageContent) Validate() error {
	if c.Empty() {
		return ErrEmptyContent
	}
	if c.HasMedia() {
		if !c.MediaKind.Supported() {
			return &UnsupportedMediaKindError{Kind: c.MediaKind}
		}
		if n := utf8.RuneCountInString(c.Text); n > MaxCaptionLength {
			return fmt.Errorf("%w: caption has %d runes, max %d", ErrTextTooLong, n, MaxCaptionLength)
		}
		return nil
	}
	if n := utf8.RuneCountInString(c.Text); n > MaxTextLength {
		return fmt.Errorf("%w: text has %d runes, max %d", ErrTextTooLong, n, MaxTextLength)
	}
	return nil
}
