package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// PostgresConfig locates the clip metadata database.
type PostgresConfig struct {
	Host     string `env:"CLIPCAST_POSTGRES_HOST, required"`
	Port     string `env:"CLIPCAST_POSTGRES_PORT, default=5432"`
	Username string `env:"CLIPCAST_POSTGRES_USERNAME, required"`
	Password string `env:"CLIPCAST_POSTGRES_PASSWORD, required"`
	Database string `env:"CLIPCAST_POSTGRES_DATABASE, default=clipcast"`
	SSLMode  string `env:"CLIPCAST_POSTGRES_SSLMODE, default=disable"`
	// PoolSize caps pgxpool connections. The dispatcher is single
	// threaded, so a handful covers the side goroutines.
	PoolSize int `env:"CLIPCAST_POSTGRES_POOL_SIZE, default=4"`
}

func NewPostgresConfigFromEnv() (*PostgresConfig, error) {
	var cfg PostgresConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
		c.PoolSize,
	)
}
