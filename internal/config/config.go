package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WEBCHAT"

// Config holds the application configuration.
type Config struct {
	ServerURL      string        `mapstructure:"server_url"`
	UserID         string        `mapstructure:"user_id"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ICEServers     []string      `mapstructure:"ice_servers"`
	LogLevel       string        `mapstructure:"log_level"`
	// VideoOut is a file path for the received H264 stream, "-" for
	// stdout, or empty to discard it.
	VideoOut string `mapstructure:"video_out"`
}

// Load reads configuration from a .env file (if present), an optional
// config file named by WEBCHAT_CONFIG, and environment variables.
// Environment variables take precedence.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("reconnect_delay", "3s")
	v.SetDefault("ping_interval", "30s")
	v.SetDefault("ice_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("log_level", "info")
	v.SetDefault("video_out", "")

	// Unmarshal only sees env vars for keys viper already knows about.
	for _, key := range []string{"server_url", "user_id", "config"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, fmt.Errorf("%s_SERVER_URL environment variable is required", EnvPrefix))
	}
	if c.UserID == "" {
		errs = append(errs, fmt.Errorf("%s_USER_ID environment variable is required", EnvPrefix))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_delay must be positive, got %s", c.ReconnectDelay))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("ping_interval must be positive, got %s", c.PingInterval))
	}
	return errors.Join(errs...)
}
