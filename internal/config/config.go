package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	StaticPath  string        `mapstructure:"static_path"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	Secret      string        `mapstructure:"secret"`
	LogLevel    string        `mapstructure:"log_level"`
	DBPath      string        `mapstructure:"db_path"`
	Persist     Persist       `mapstructure:"persist"`
	Cursor      Cursor        `mapstructure:"cursor"`
}

type Persist struct {
	Enabled   bool          `mapstructure:"enabled"`
	Hydrate   bool          `mapstructure:"hydrate"`
	Debounce  time.Duration `mapstructure:"debounce"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Cursor limits how many cursor-move events one connection may send per interval.
type Cursor struct {
	Rate     int           `mapstructure:"rate"`
	Interval time.Duration `mapstructure:"interval"`
}

const envPrefix = "CANVAS"

// Load reads config/config.<CONFIG_ENV>.yaml, then CANVAS_* environment
// variables (a local .env file is honoured).
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Str("module", "config").Msg("loaded .env")
	}

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

	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Bool("persist", cfg.Persist.Enabled).Msg("config ready")
	return cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("idle_timeout", "0s")
	v.SetDefault("secret", "dev-secret-change")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "./data/canvas.db")
	v.SetDefault("persist.enabled", true)
	v.SetDefault("persist.hydrate", true)
	v.SetDefault("persist.debounce", "250ms")
	v.SetDefault("persist.queue_size", 1024)
	v.SetDefault("persist.timeout", "5s")
	v.SetDefault("cursor.rate", 60)
	v.SetDefault("cursor.interval", "1s")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	if c.Persist.Enabled && c.DBPath == "" {
		return fmt.Errorf("db_path is required when persist.enabled is set")
	}
	return nil
}
