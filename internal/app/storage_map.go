package app

import (
	"errors"
	"strings"

	"giveawaybot/internal/config"
	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/storage"
	logx "giveawaybot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, errors.New("storage.path is required")
	}
	return storage.Config{Path: path, BusyTimeout: cfg.BusyTimeout()}, nil
}

func mapGiveawayOptions(cfg *config.Config) giveaway.Options {
	target, err := giveaway.ParseTarget(cfg.Giveaway.AutoPublish)
	if err != nil {
		target = giveaway.TargetNone
	}
	return giveaway.Options{
		ChannelID:    cfg.Telegram.ChannelID,
		AdminIDs:     append([]int64(nil), cfg.Telegram.AdminIDs...),
		JoinURL:      cfg.Giveaway.JoinURL,
		Location:     cfg.Location(),
		AnnounceRate: cfg.AnnounceRate(),
		AdminRate:    cfg.AdminRate(),
		AutoPublish:  target,
	}
}

// OpenStore loads the config and opens the database, applying the schema.
func OpenStore(cfgPath string) (*storage.Store, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "storage")))
}
