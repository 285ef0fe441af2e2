package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr    string `env:"LISTEN_ADDR, default=0.0.0.0:6480"`
	DBPath        string `env:"DB_PATH, default=runwatch.db"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	Dev           bool   `env:"DEV, default=false"`
}

type Forge struct {
	APIBase string `env:"API_BASE, default=https://api.github.com"`
	Token   string `env:"TOKEN"`
}

type Sync struct {
	Organization       string `env:"ORGANIZATION"`
	PageSize           int    `env:"PAGE_SIZE, default=50"`
	MaxRunsPerWorkflow int    `env:"MAX_RUNS_PER_WORKFLOW, default=100"`
}

type Config struct {
	Server Server `env:",prefix=RUNWATCH_SERVER_"`
	Forge  Forge  `env:",prefix=RUNWATCH_FORGE_"`
	Sync   Sync   `env:",prefix=RUNWATCH_SYNC_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
