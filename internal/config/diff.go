package config

import (
	"slices"
	"sort"

	"giveawaybot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe attrs for
// logging. Secrets such as the token are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChannelID != nt.ChannelID || ot.LogChatID != nt.LogChatID ||
		ot.PollTimeout != nt.PollTimeout || !slices.Equal(ot.AdminIDs, nt.AdminIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.admin_count", len(nt.AdminIDs)),
			logx.Int64("telegram.channel_id", nt.ChannelID),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.RateLimits != newCfg.RateLimits {
		changed = append(changed, "rate_limits")
		attrs = append(attrs,
			logx.Float64("rate_limits.broadcast_rps", newCfg.RateLimits.BroadcastRPS),
			logx.Float64("rate_limits.announce_rps", newCfg.RateLimits.AnnounceRPS),
			logx.Int("rate_limits.burst", newCfg.RateLimits.Burst),
		)
	}
	if oldCfg.Giveaway != newCfg.Giveaway {
		changed = append(changed, "giveaway")
		attrs = append(attrs,
			logx.String("giveaway.timezone", newCfg.Giveaway.Timezone),
			logx.Bool("giveaway.auto_close", newCfg.Giveaway.AutoClose),
		)
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs, logx.Int("broadcast.workers", newCfg.Broadcast.Workers))
	}
	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string, oldCfg, newCfg *Config) []string {
	var out []string
	if oldCfg == nil || newCfg == nil {
		return out
	}
	if slices.Contains(changed, "storage") {
		out = append(out, "storage")
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.Broadcast.Workers != newCfg.Broadcast.Workers || oldCfg.Broadcast.QueueSize != newCfg.Broadcast.QueueSize {
		out = append(out, "broadcast")
	}
	return out
}
