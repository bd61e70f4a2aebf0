// Package config loads the qsync configuration file.
package config

import (
	"os"
	"slices"
	"time"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigRead is returned when the config file cannot be read.
	ErrConfigRead = zerr.New("failed to read config")
	// ErrConfigParse is returned when the config file is not valid YAML.
	ErrConfigParse = zerr.New("failed to parse config")
	// ErrInvalidConfig is returned when a value is out of range.
	ErrInvalidConfig = zerr.New("invalid config")
)

// Config is the qsync configuration. Zero fields keep the defaults.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	StaleTime time.Duration `yaml:"stale_time"`
	GCTime    time.Duration `yaml:"gc_time"`
	Retries   int           `yaml:"retries"`
	Log       Log           `yaml:"log"`
	Spill     Spill         `yaml:"spill"`
}

type Log struct {
	// Backend is zap, logrus or slog.
	Backend string `yaml:"backend"`
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

type Spill struct {
	// Backend is none, ristretto, bigcache or redis.
	Backend  string        `yaml:"backend"`
	Codec    string        `yaml:"codec"` // msgpack, json or cbor
	MaxBytes int64         `yaml:"max_bytes"`
	TTL      time.Duration `yaml:"ttl"`
	Redis    Redis         `yaml:"redis"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BaseURL:   "https://dummyjson.com",
		Timeout:   15 * time.Second,
		StaleTime: time.Minute,
		GCTime:    5 * time.Minute,
		Retries:   1,
		Log:       Log{Backend: "zap", Level: "warn"},
		Spill: Spill{
			Backend:  "none",
			Codec:    "msgpack",
			MaxBytes: 32 << 20,
			TTL:      10 * time.Minute,
			Redis:    Redis{Addr: "localhost:6379", Namespace: "qsync"},
		},
	}
}

// Load reads path over the defaults. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	// #nosec G304 -- path comes from the command line
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, zerr.With(zerr.Wrap(err, ErrConfigRead.Error()), "path", path)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, zerr.With(zerr.Wrap(err, ErrConfigParse.Error()), "path", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, zerr.With(err, "path", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return zerr.With(ErrInvalidConfig, "base_url", c.BaseURL)
	case c.Timeout < 0:
		return zerr.With(ErrInvalidConfig, "timeout", c.Timeout)
	case c.Retries < 0:
		return zerr.With(ErrInvalidConfig, "retries", c.Retries)
	case !slices.Contains([]string{"zap", "logrus", "slog"}, c.Log.Backend):
		return zerr.With(ErrInvalidConfig, "log.backend", c.Log.Backend)
	case !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level):
		return zerr.With(ErrInvalidConfig, "log.level", c.Log.Level)
	case !slices.Contains([]string{"none", "ristretto", "bigcache", "redis"}, c.Spill.Backend):
		return zerr.With(ErrInvalidConfig, "spill.backend", c.Spill.Backend)
	case !slices.Contains([]string{"msgpack", "json", "cbor"}, c.Spill.Codec):
		return zerr.With(ErrInvalidConfig, "spill.codec", c.Spill.Codec)
	case c.Spill.Backend != "none" && c.Spill.MaxBytes <= 0:
		return zerr.With(ErrInvalidConfig, "spill.max_bytes", c.Spill.MaxBytes)
	case c.Spill.Backend == "redis" && c.Spill.Redis.Addr == "":
		return zerr.With(ErrInvalidConfig, "spill.redis.addr", c.Spill.Redis.Addr)
	}
	return nil
}
