package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type ServerConfig struct {
	ListenAddr string `env:"CLIPCAST_LISTEN_ADDR, default=0.0.0.0:27100"`
	RelayAddr  string `env:"CLIPCAST_RELAY_ADDR, required"`
	DataDir    string `env:"CLIPCAST_DATA_DIR, default=/var/lib/clipcast/clips"`

	// MaintenanceCron schedules the sweep that removes stale temp files,
	// expired share-cache rows, and idle limiter entries.
	MaintenanceCron string `env:"CLIPCAST_MAINTENANCE_CRON, default=*/5 * * * *"`

	WorkerBin string `env:"CLIPCAST_WORKER_BIN, default=clipcast-fetchworker"`
}

func NewServerConfigFromEnv() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
