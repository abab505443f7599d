// Package config loads blefs settings from viper and validates them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// BLEFS_ADVERTISE_NAME.
const EnvPrefix = "BLEFS"

// Config is the full set of daemon and CLI settings.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	Adapter   string          `mapstructure:"adapter" validate:"required"`
	Advertise AdvertiseConfig `mapstructure:"advertise"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	Output string `mapstructure:"output" validate:"required"`
}

type StoreConfig struct {
	// Dir is the flat directory served to peers.
	Dir string `mapstructure:"dir" validate:"required"`
	// CacheEntries bounds the read cache; zero disables it.
	CacheEntries int `mapstructure:"cache_entries" validate:"gte=0"`
}

type AdvertiseConfig struct {
	// Name is the local name; legacy advertising leaves little room.
	Name     string        `mapstructure:"name" validate:"required,max=29"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type LifecycleConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	CancelTimeout  time.Duration `mapstructure:"cancel_timeout" validate:"gt=0"`
	ResetDelay     time.Duration `mapstructure:"reset_delay" validate:"gte=0"`
	ResponsePacing time.Duration `mapstructure:"response_pacing" validate:"gte=0"`
}

type ProtocolConfig struct {
	TransportUnit  int  `mapstructure:"transport_unit" validate:"gte=23,lte=65535"`
	DownloadErrors bool `mapstructure:"download_errors"`
	VerifyDigest   bool `mapstructure:"verify_digest"`
}

type MetricsConfig struct {
	// Addr enables the Prometheus endpoint when set, e.g. ":9100".
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type MirrorConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1,lte=64"`
	// Level is the zstd level for layers: 1 fastest, 2 default, 3 better.
	Level int `mapstructure:"level" validate:"gte=1,lte=3"`
	// Username and Password override the docker keychain when set.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" validate:"required_with=Username"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("store.dir", DefaultDataDir())
	v.SetDefault("store.cache_entries", 64)

	v.SetDefault("adapter", "hci0")

	v.SetDefault("advertise.name", "pico2w_ble")
	v.SetDefault("advertise.interval", 2*time.Second)
	v.SetDefault("advertise.timeout", 30*time.Second)

	v.SetDefault("lifecycle.poll_interval", 500*time.Millisecond)
	v.SetDefault("lifecycle.cancel_timeout", time.Second)
	v.SetDefault("lifecycle.reset_delay", time.Second)
	v.SetDefault("lifecycle.response_pacing", 0)

	v.SetDefault("protocol.transport_unit", 512)
	v.SetDefault("protocol.download_errors", false)
	v.SetDefault("protocol.verify_digest", false)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("mirror.concurrency", 4)
	v.SetDefault("mirror.level", 2)
	v.SetDefault("mirror.username", "")
	v.SetDefault("mirror.password", "")
}

// Setup points v at the config file and environment. An empty path
// searches DefaultConfigDir for config.yaml.
func Setup(v *viper.Viper, path string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	SetDefaults(v)
}

// ReadFile reads the configured file. A missing file is not an error.
func ReadFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultConfigDir is $XDG_CONFIG_HOME/blefs or ~/.config/blefs.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "blefs")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "blefs")
	}
	return ".blefs"
}

// DefaultDataDir is $XDG_DATA_HOME/blefs or ~/.local/share/blefs.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "blefs")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "blefs")
	}
	return ".blefs"
}
