package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
)

func TestMWAdminOnly(t *testing.T) {
	t.Parallel()
	var ran, denied int
	h := Chain(func(context.Context, *Request) error {
		ran++
		return nil
	}, MWAdminOnly(func(context.Context, *Request) { denied++ }))

	if err := h(context.Background(), &Request{FromID: 5}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("non-admin err = %v, want ErrAccessDenied", err)
	}
	if ran != 0 || denied != 1 {
		t.Fatalf("ran=%d denied=%d after non-admin", ran, denied)
	}
	if err := h(context.Background(), &Request{FromID: adminID, Admin: true}); err != nil {
		t.Fatalf("admin err = %v", err)
	}
	if ran != 1 || denied != 1 {
		t.Fatalf("ran=%d denied=%d after admin", ran, denied)
	}
}

func TestMWRequestLogRecordsCommandAndAdmin(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := logx.New(zerolog.New(&buf))
	h := Chain(func(context.Context, *Request) error { return nil },
		MWRequestLog(log),
		MWAdminOnly(nil),
	)

	req := &Request{Update: kit.Update{Kind: kit.UpdateMessage}, Command: "finish", FromID: 5}
	if err := h(context.Background(), req); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["message"] != "request denied" || line["level"] != "info" {
		t.Fatalf("log = %v", line)
	}
	if line["cmd"] != "finish" || line["is_admin"] != false {
		t.Fatalf("log fields = %v", line)
	}

	buf.Reset()
	req.Admin = true
	if err := h(context.Background(), req); err != nil {
		t.Fatalf("admin err = %v", err)
	}
	if !strings.Contains(buf.String(), `"is_admin":true`) || !strings.Contains(buf.String(), `"cmd":"finish"`) {
		t.Fatalf("admin log = %s", buf.String())
	}
}

func TestMWPanicRecoverReturnsError(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	err := h(context.Background(), &Request{Command: "new"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestMWTimeoutBoundsContext(t *testing.T) {
	t.Parallel()
	var deadline bool
	h := Chain(func(ctx context.Context, _ *Request) error {
		_, deadline = ctx.Deadline()
		return nil
	}, MWTimeout(time.Second))
	_ = h(context.Background(), &Request{})
	if !deadline {
		t.Fatal("handler ctx has no deadline")
	}

	h = Chain(func(ctx context.Context, _ *Request) error {
		_, deadline = ctx.Deadline()
		return nil
	}, MWTimeout(0))
	_ = h(context.Background(), &Request{})
	if deadline {
		t.Fatal("zero timeout must leave ctx alone")
	}
}
