package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration, loaded from SPRITZ_* environment
// variables with an optional YAML file underneath.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	RedisURL   string `mapstructure:"redis_url"`

	// SessionSecret is the HMAC key for session and rescue tokens. Must be
	// at least 32 bytes.
	SessionSecret string `mapstructure:"session_secret"`

	RPID          string   `mapstructure:"rp_id"`
	RPDisplayName string   `mapstructure:"rp_display_name"`
	RPOrigins     []string `mapstructure:"rp_origins"`

	RPCURL     string `mapstructure:"rpc_url"`
	RelayerKey string `mapstructure:"relayer_key"`

	RescueAddressCeiling int `mapstructure:"rescue_address_ceiling"`
	RescueIPCeiling      int `mapstructure:"rescue_ip_ceiling"`
}

// Load reads configuration from the environment and, when present, the file
// at path ("" skips the file).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":9000")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("rp_id", "localhost")
	v.SetDefault("rp_display_name", "Spritz")
	v.SetDefault("rp_origins", []string{"http://localhost:3000"})
	v.SetDefault("rescue_address_ceiling", 3)
	v.SetDefault("rescue_ip_ceiling", 10)

	v.SetEnvPrefix("SPRITZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper has already seen, so keys without
	// a default must be bound explicitly or their env variables are ignored.
	for _, key := range []string{
		"listen_addr", "redis_url", "session_secret",
		"rp_id", "rp_display_name", "rp_origins",
		"rpc_url", "relayer_key",
		"rescue_address_ceiling", "rescue_ip_ceiling",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("session_secret must be at least 32 bytes")
	}
	return &cfg, nil
}
