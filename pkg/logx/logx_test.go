package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
	l.With(Int("n", 1)).Error("boom", Err(nil))
}

func TestLoggerWithKeepsFieldsOrdered(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(zerolog.New(&buf)).With(String("comp", "broadcast"))
	l.Info("sent", Int("n", 3), String("comp", "override"))

	out := buf.String()
	if !strings.Contains(out, `"n":3`) {
		t.Fatalf("missing call-site field: %s", out)
	}
	if strings.Index(out, `"comp":"broadcast"`) > strings.Index(out, `"comp":"override"`) {
		t.Fatalf("fixed fields must be written before call-site fields: %s", out)
	}
}

func TestFormatForChat(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"broadcast finished","sent":3,"failed":1}`)
	got := formatForChat(line)
	want := "[WARN] broadcast finished\n- failed=1\n- sent=3"
	if got != want {
		t.Fatalf("formatForChat = %q, want %q", got, want)
	}

	raw := formatForChat([]byte("  not json \n"))
	if raw != "not json" {
		t.Fatalf("raw line = %q", raw)
	}
}

type captureSender struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureSender) SendLog(_ context.Context, _ int64, text string) error {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func TestServiceTelegramSinkRespectsMinLevel(t *testing.T) {
	snd := &captureSender{}
	svc, log := NewService(Config{
		Level:    "debug",
		Console:  false,
		File:     FileConfig{Enabled: true, Path: t.TempDir() + "/bot.log"},
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50},
	}, snd)
	defer svc.Close()
	svc.SetChat(-100123)

	log.Info("quiet")
	log.Warn("loud")

	deadline := time.Now().Add(2 * time.Second)
	for snd.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := snd.count(); n != 1 {
		t.Fatalf("expected exactly 1 forwarded line, got %d", n)
	}
}
