// Package config contains the node configuration definitions.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/pinmesh/pinmesh/moderation"
	"github.com/pinmesh/pinmesh/p2p/room"
	"github.com/pinmesh/pinmesh/session"
	"github.com/pinmesh/pinmesh/syncer"
)

// Config defines the top level configuration for a pinmesh node.
type Config struct {
	BaseConfig `mapstructure:",squash"`
	P2P        room.Config       `mapstructure:"p2p"`
	Sync       syncer.Config     `mapstructure:"sync"`
	Moderation moderation.Config `mapstructure:"moderation"`
}

// BaseConfig defines the default configuration options for the node.
type BaseConfig struct {
	DataDir    string `mapstructure:"data-dir"`
	ConfigFile string `mapstructure:"config"`
	LogLevel   string `mapstructure:"log-level"`

	CollectMetrics bool `mapstructure:"metrics"`
	MetricsPort    int  `mapstructure:"metrics-port"`

	TokenValidity time.Duration `mapstructure:"token-validity"`
}

// DefaultConfig returns the default node configuration.
func DefaultConfig() Config {
	return Config{
		BaseConfig: BaseConfig{
			DataDir:       "./data",
			LogLevel:      "info",
			MetricsPort:   9095,
			TokenValidity: session.DefaultTokenValidity,
		},
		P2P:        room.DefaultConfig(),
		Sync:       syncer.DefaultConfig(),
		Moderation: moderation.DefaultConfig(),
	}
}

// LoadConfig reads the config file, if one is set, on top of the defaults.
func LoadConfig(path string, vip *viper.Viper) (Config, error) {
	conf := DefaultConfig()
	if path != "" {
		vip.SetConfigFile(path)
		if err := vip.ReadInConfig(); err != nil {
			return conf, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := vip.Unmarshal(&conf, viper.DecodeHook(hook)); err != nil {
		return conf, fmt.Errorf("unmarshal config: %w", err)
	}
	return conf, nil
}
