package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// MinioConfig configures the optional clip mirror. An empty endpoint
// disables mirroring entirely.
type MinioConfig struct {
	Endpoint string `env:"MINIO_ENDPOINT"`
	Username string `env:"MINIO_USERNAME"`
	Password string `env:"MINIO_PASSWORD"`
	Bucket   string `env:"MINIO_BUCKET, default=clipcast"`
}

func NewMinioConfigFromEnv() (*MinioConfig, error) {
	var cfg MinioConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *MinioConfig) Enabled() bool {
	return c.Endpoint != ""
}
