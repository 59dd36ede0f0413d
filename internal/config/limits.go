package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type LimitsConfig struct {
	DownloadCooldown time.Duration `env:"CLIPCAST_DOWNLOAD_COOLDOWN, default=10s"`
	DownloadTimeout  time.Duration `env:"CLIPCAST_DOWNLOAD_TIMEOUT, default=120s"`
	MaxDownloadBytes int64         `env:"CLIPCAST_MAX_DOWNLOAD_BYTES, default=8388608"`
	MaxClipsPerOwner int           `env:"CLIPCAST_MAX_CLIPS_PER_OWNER, default=50"`
	MaxActiveFetches int           `env:"CLIPCAST_MAX_ACTIVE_FETCHES, default=8"`

	PlayBurst    int           `env:"CLIPCAST_PLAY_BURST, default=5"`
	PlayWindow   time.Duration `env:"CLIPCAST_PLAY_WINDOW, default=30s"`
	PlayCooldown time.Duration `env:"CLIPCAST_PLAY_COOLDOWN, default=5s"`

	ShareCacheTTL time.Duration `env:"CLIPCAST_SHARE_CACHE_TTL, default=5m"`
	ShareCacheCap int           `env:"CLIPCAST_SHARE_CACHE_CAP, default=256"`
}

func NewLimitsConfigFromEnv() (*LimitsConfig, error) {
	var cfg LimitsConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
