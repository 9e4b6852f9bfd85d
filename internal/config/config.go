// Package config loads service configuration from environment variables and
// an optional config file. The confidence threshold and inference endpoint
// are deployment-level settings, never compiled-in constants.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gate      GateConfig      `mapstructure:"gate"`
	Inference InferenceConfig `mapstructure:"inference"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GateConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

type InferenceConfig struct {
	EndpointURL string        `mapstructure:"endpoint_url"`
	ContentType string        `mapstructure:"content_type"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration with defaults overridden by a config file (if
// present) and VISIONGATE_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("gate.threshold", 0.93)
	v.SetDefault("inference.endpoint_url", "")
	v.SetDefault("inference.content_type", "image/png")
	v.SetDefault("storage.connection_string", "")
	v.SetDefault("auth.jwt_audience", "")
	v.SetDefault("inference.timeout", "60s")
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=visiongate port=5432 sslmode=disable")
	v.SetDefault("auth.jwt_secret", "dev-secret")
	v.SetDefault("logging.level", "info")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vision-gate")
	}

	v.SetEnvPrefix("VISIONGATE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Gate.Threshold < 0 || c.Gate.Threshold >= 1 {
		return fmt.Errorf("gate.threshold must be in [0, 1), got %f", c.Gate.Threshold)
	}
	if c.Inference.EndpointURL == "" {
		return fmt.Errorf("inference.endpoint_url is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage.connection_string is required")
	}
	return nil
}
