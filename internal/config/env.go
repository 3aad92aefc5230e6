package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvBotToken     = "BOT_TOKEN"
	EnvAdminIDs     = "ADMIN_IDS"
	EnvChannelID    = "CHANNEL_ID"
	EnvLogChatID    = "LOG_CHAT_ID"
	EnvDatabasePath = "DATABASE_PATH"
	EnvLogLevel     = "LOG_LEVEL"
	EnvJoinURL      = "JOIN_URL"
	EnvTimezone     = "TIMEZONE"
)

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides config fields from the environment. getenv is usually os.Getenv.
func ApplyEnv(c *Config, getenv func(string) string) error {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := get(EnvBotToken); v != "" {
		c.Telegram.Token = v
	}
	if v := get(EnvAdminIDs); v != "" {
		ids, err := ParseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAdminIDs, err)
		}
		c.Telegram.AdminIDs = ids
	}
	if v := get(EnvChannelID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvChannelID, err)
		}
		c.Telegram.ChannelID = id
	}
	if v := get(EnvLogChatID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogChatID, err)
		}
		c.Telegram.LogChatID = id
	}
	if v := get(EnvDatabasePath); v != "" {
		c.Storage.Path = v
	}
	if v := get(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := get(EnvJoinURL); v != "" {
		c.Giveaway.JoinURL = v
	}
	if v := get(EnvTimezone); v != "" {
		c.Giveaway.Timezone = v
	}
	return nil
}

// ParseIDList parses "1, 2,3" into ids. Empty items are skipped.
func ParseIDList(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
