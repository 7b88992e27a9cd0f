package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Notify     NotifyConfig     `koanf:"notify"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// MonitoringConfig tunes the detection and alerting pipeline.
type MonitoringConfig struct {
	DedupWindow        time.Duration `koanf:"dedup_window"`
	ZScoreThreshold    float64       `koanf:"zscore_threshold"`
	FrequencyThreshold float64       `koanf:"frequency_threshold"`
	MinMagnitude       float64       `koanf:"min_magnitude"`
	EvaluationTick     time.Duration `koanf:"evaluation_tick"`
	SweepInterval      time.Duration `koanf:"sweep_interval"`
}

type NotifyConfig struct {
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`
	SigningSecret  string        `koanf:"signing_secret"`
}

type MetricsConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Monitoring: MonitoringConfig{
			DedupWindow:        60 * time.Minute,
			ZScoreThreshold:    2.0,
			FrequencyThreshold: 0.5,
			EvaluationTick:     time.Minute,
			SweepInterval:      5 * time.Minute,
		},
		Notify: NotifyConfig{
			WebhookTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9091",
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		_ = err
	}

	// Override with environment variables
	if err := k.Load(env.Provider("BSM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "BSM_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
