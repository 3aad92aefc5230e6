package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"giveawaybot/internal/broadcast"
	"giveawaybot/pkg/logx"
)

const (
	DefaultTimezone    = "Europe/Moscow"
	DefaultCloseSpec   = "@every 1m"
	DefaultStoragePath = "./data/giveawaybot.db"
)

// ApplyDefaults fills every zero field that has a default.
func ApplyDefaults(c *Config) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Telegram.MinLevel == "" {
		c.Logging.Telegram.MinLevel = "warn"
	}
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}

	r := &c.RateLimits
	if r.BroadcastRPS == 0 {
		r.BroadcastRPS = broadcast.DefaultRequestsPerSecond
	}
	if r.AnnounceRPS == 0 {
		r.AnnounceRPS = broadcast.DefaultRequestsPerSecond
	}
	if r.AdminRPS == 0 {
		r.AdminRPS = 10
	}
	if r.Burst == 0 {
		r.Burst = broadcast.DefaultBurst
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = broadcast.DefaultMaxRetries
	}

	if c.Giveaway.Timezone == "" {
		c.Giveaway.Timezone = DefaultTimezone
	}
	if c.Giveaway.CloseSpec == "" {
		c.Giveaway.CloseSpec = DefaultCloseSpec
	}

	b := &c.Broadcast
	if b.Workers <= 0 {
		b.Workers = 2
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.ProgressEvery == 0 {
		b.ProgressEvery = broadcast.DefaultProgressEvery
	}
	if b.StatusMax <= 0 {
		b.StatusMax = 200
	}
	if b.StatusTTL == "" {
		b.StatusTTL = "24h"
	}
}

// Validate reports every problem at once.
func Validate(c *Config) error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or BOT_TOKEN)"))
	}
	if len(c.Telegram.AdminIDs) == 0 {
		errs = append(errs, errors.New("telegram.admin_ids must not be empty (or ADMIN_IDS)"))
	}
	if c.Telegram.ChannelID == 0 {
		errs = append(errs, errors.New("telegram.channel_id is required (or CHANNEL_ID)"))
	}
	if _, err := ParseDuration("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if d := strings.ToLower(c.Storage.Driver); d != "sqlite" && d != "sqlite3" {
		errs = append(errs, fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver))
	}
	if _, err := ParseDuration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	for name, rc := range map[string]broadcast.RateConfig{
		"broadcast": c.BroadcastRate(),
		"announce":  c.AnnounceRate(),
		"admin":     c.AdminRate(),
	} {
		if err := rc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rate_limits (%s): %w", name, err))
		}
	}
	if _, err := time.LoadLocation(c.Giveaway.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("giveaway.timezone: %w", err))
	}
	switch strings.ToLower(c.Giveaway.AutoPublish) {
	case "", "none", "channel", "admins", "users", "everywhere":
	default:
		errs = append(errs, fmt.Errorf("giveaway.auto_publish: unknown target %q", c.Giveaway.AutoPublish))
	}
	if _, err := ParseDuration("broadcast.status_ttl", c.Broadcast.StatusTTL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseDuration parses an optional non-negative duration; "" is zero.
func ParseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDuration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) rate(rps float64) broadcast.RateConfig {
	return broadcast.RateConfig{RequestsPerSecond: rps, Burst: c.RateLimits.Burst, MaxRetries: c.RateLimits.MaxRetries}
}

// BroadcastRate is used for admin-initiated mailings to all users.
func (c *Config) BroadcastRate() broadcast.RateConfig { return c.rate(c.RateLimits.BroadcastRPS) }

// AnnounceRate is used when publishing giveaway announcements and results to users.
func (c *Config) AnnounceRate() broadcast.RateConfig { return c.rate(c.RateLimits.AnnounceRPS) }

func (c *Config) AdminRate() broadcast.RateConfig { return c.rate(c.RateLimits.AdminRPS) }

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Giveaway.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) BusyTimeout() time.Duration { return durationOr(c.Storage.BusyTimeout, 0) }

func (c *Config) JobsConfig() broadcast.JobsConfig {
	return broadcast.JobsConfig{
		Workers:       c.Broadcast.Workers,
		QueueSize:     c.Broadcast.QueueSize,
		ProgressEvery: c.Broadcast.ProgressEvery,
		StatusMax:     c.Broadcast.StatusMax,
		StatusTTL:     durationOr(c.Broadcast.StatusTTL, 24*time.Hour),
	}
}

// IsAdmin reports whether userID is listed in telegram.admin_ids.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// LogConfig converts the logging section for logx.Service.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}
