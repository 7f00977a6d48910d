package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	SignalURL   string        `mapstructure:"signal_url"`
	UserID      string        `mapstructure:"user_id"`
	DisplayName string        `mapstructure:"display_name"`
	STUNServers []string      `mapstructure:"stun_servers"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	ReadLimit   int64         `mapstructure:"read_limit"`

	// Signaling transport redial policy.
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`

	// Negotiation timings.
	GatherTimeout  time.Duration `mapstructure:"gather_timeout"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RelinkDelay    time.Duration `mapstructure:"relink_delay"`
	DeviceCooldown time.Duration `mapstructure:"device_cooldown"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("signal_url", "ws://localhost:8080/ws")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ping_period", "54s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_delay", "2s")
	v.SetDefault("gather_timeout", "5s")
	v.SetDefault("retry_delay", "2500ms")
	v.SetDefault("relink_delay", "2s")
	v.SetDefault("device_cooldown", "300ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
