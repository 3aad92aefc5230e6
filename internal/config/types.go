package config

// Config is the full bot configuration. All durations are Go duration
// strings ("500ms", "10s", "1m").
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
	Giveaway   GiveawayConfig   `json:"giveaway"`
	Broadcast  BroadcastConfig  `json:"broadcast"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	AdminIDs []int64 `json:"admin_ids"`
	// ChannelID is the channel users must be subscribed to and where
	// announcements are published.
	ChannelID int64 `json:"channel_id"`
	// LogChatID receives log lines when logging.telegram is enabled.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the database. Only the sqlite driver exists.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RateLimitsConfig mirrors the delivery limits of the Bot API.
//
// Defaults: broadcast_rps 20, announce_rps 20, admin_rps 10, burst 5, max_retries 5.
type RateLimitsConfig struct {
	BroadcastRPS float64 `json:"broadcast_rps"`
	AnnounceRPS  float64 `json:"announce_rps"`
	AdminRPS     float64 `json:"admin_rps"`
	Burst        int     `json:"burst"`
	MaxRetries   int     `json:"max_retries"`
}

type GiveawayConfig struct {
	// Timezone is used to parse and display giveaway times.
	Timezone string `json:"timezone"`
	JoinURL  string `json:"join_url"`
	// AutoClose ends expired giveaways and draws winners on CloseSpec.
	AutoClose bool   `json:"auto_close"`
	CloseSpec string `json:"close_spec,omitempty"`
	// AutoPublish is the results target after an auto-close:
	// "", "none", "channel", "admins", "users" or "everywhere".
	AutoPublish string `json:"auto_publish,omitempty"`
}

type BroadcastConfig struct {
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	ProgressEvery int    `json:"progress_every"`
	StatusMax     int    `json:"status_max"`
	StatusTTL     string `json:"status_ttl"`
}
