package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("scheduler: invalid schedule")

// parser accepts 5 or 6 field specs and descriptors such as "@every 1m".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Normalize turns a user schedule into a cron spec. Accepted forms:
// "*/5 * * * *", "cron:0 0 * * *", "@hourly", "@every 1m", "30s" and
// "interval:45s".
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidSchedule)
	case strings.HasPrefix(s, "cron:"):
		s = strings.TrimSpace(strings.TrimPrefix(s, "cron:"))
	case strings.HasPrefix(s, "interval:"):
		return every(strings.TrimPrefix(s, "interval:"))
	case !strings.HasPrefix(s, "@") && !strings.Contains(s, " "):
		return every(s)
	}
	if _, err := parser.Parse(s); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, raw, err)
	}
	return s, nil
}

func every(v string) (string, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d < time.Second {
		return "", fmt.Errorf("%w: interval %q must be a duration of at least 1s", ErrInvalidSchedule, v)
	}
	return "@every " + d.String(), nil
}
