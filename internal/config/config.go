package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string          `mapstructure:"mode"`
	Port         int             `mapstructure:"port"`
	StaticPath   string          `mapstructure:"static_path"`
	ReadLimit    int64           `mapstructure:"read_limit"`
	Origins      []string        `mapstructure:"allowed_origins"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	KeepAlive    KeepAliveConfig `mapstructure:"keepalive"`
	Queue        QueueConfig     `mapstructure:"queue"`
	Rooms        RoomsConfig     `mapstructure:"rooms"`
	Store        StoreConfig     `mapstructure:"store"`
	Log          LogConfig       `mapstructure:"log"`
}

type KeepAliveConfig struct {
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
}

type QueueConfig struct {
	Capacity int    `mapstructure:"capacity"`
	Overflow string `mapstructure:"overflow"`
}

type RoomsConfig struct {
	Default       string        `mapstructure:"default"`
	Preload       []string      `mapstructure:"preload"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	JoinLimit     int           `mapstructure:"join_limit"`
	JoinInterval  time.Duration `mapstructure:"join_interval"`
}

type StoreConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	Table       string        `mapstructure:"table"`
	Timeout     time.Duration `mapstructure:"timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisDB     int           `mapstructure:"redis_db"`
	S3Bucket    string        `mapstructure:"s3_bucket"`
	S3Region    string        `mapstructure:"s3_region"`
	S3Endpoint  string        `mapstructure:"s3_endpoint"`
	S3AccessKey string        `mapstructure:"s3_access_key"`
	S3SecretKey string        `mapstructure:"s3_secret_key"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8020)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("keepalive.receive_timeout", "30s")
	v.SetDefault("keepalive.probe_timeout", "10s")
	v.SetDefault("queue.capacity", 0)
	v.SetDefault("queue.overflow", "disconnect")
	v.SetDefault("rooms.default", "default")
	v.SetDefault("rooms.preload", []string{})
	v.SetDefault("rooms.idle_timeout", "10m")
	v.SetDefault("rooms.sweep_interval", "1m")
	v.SetDefault("rooms.join_limit", 20)
	v.SetDefault("rooms.join_interval", "10s")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "huddle.db")
	v.SetDefault("store.table", "entries")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("store.key_prefix", "huddle:room:")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.s3_bucket", "")
	v.SetDefault("store.s3_region", "")
	v.SetDefault("store.s3_endpoint", "")
	v.SetDefault("store.s3_access_key", "")
	v.SetDefault("store.s3_secret_key", "")
	v.SetDefault("log.level", "info")
}

// Load reads the config file at path, or config/config.<CONFIG_ENV>.yaml
// when path is empty. A missing file is not an error; defaults and
// HUDDLE_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("huddle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit && !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Rooms.Default == "" {
		return errors.New("rooms.default must not be empty")
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("invalid queue.capacity %d", c.Queue.Capacity)
	}
	switch c.Queue.Overflow {
	case "", "disconnect", "drop":
	default:
		return fmt.Errorf("invalid queue.overflow %q", c.Queue.Overflow)
	}
	return nil
}
