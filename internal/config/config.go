// Package config loads service configuration from a TOML file, a .env file
// and the environment, in increasing order of precedence. Command-line flags
// are applied on top by each binary.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/settings"
)

// Config is the full service configuration.
type Config struct {
	ServiceName string `toml:"serviceName"`
	HTTPAddr    string `toml:"httpAddr"`
	LogLevel    string `toml:"logLevel"`

	Store settings.StoreConfig `toml:"store"`

	NATSURL string `toml:"natsURL"`

	Kafka   KafkaConfig   `toml:"kafka"`
	Auth    AuthConfig    `toml:"auth"`
	Preview PreviewConfig `toml:"preview"`
}

// KafkaConfig configures request-log shipping. Shipping is off unless both
// Addr and Topic are set.
type KafkaConfig struct {
	Addr  string `toml:"addr"`
	Topic string `toml:"topic"`
	Batch int    `toml:"batch"`
}

// Enabled reports whether request logs should be shipped to Kafka.
func (k KafkaConfig) Enabled() bool {
	return k.Addr != "" && k.Topic != ""
}

// AuthConfig holds the signing secret and token lifetimes.
type AuthConfig struct {
	JWTSecret string   `toml:"jwtSecret"`
	TokenTTL  Duration `toml:"tokenTTL"`
	NonceTTL  Duration `toml:"nonceTTL"`
}

// PreviewConfig bounds the live-preview socket.
type PreviewConfig struct {
	MaxConnections int      `toml:"maxConnections"`
	MaxPerSubject  int      `toml:"maxPerSubject"`
	IdleTimeout    Duration `toml:"idleTimeout"`
	PingInterval   Duration `toml:"pingInterval"`
}

// Duration is a time.Duration that decodes from TOML strings like "15m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns a Config usable for local development.
func DefaultConfig() Config {
	return Config{
		ServiceName: "wordfilter",
		HTTPAddr:    ":8080",
		LogLevel:    "info",
		Store: settings.StoreConfig{
			Backend:   settings.BackendMemory,
			RedisAddr: "localhost:6379",
		},
		NATSURL: "nats://localhost:4222",
		Auth: AuthConfig{
			TokenTTL: Duration{time.Hour},
			NonceTTL: Duration{12 * time.Hour},
		},
		Preview: PreviewConfig{
			MaxConnections: 1000,
			MaxPerSubject:  8,
			IdleTimeout:    Duration{40 * time.Second},
			PingInterval:   Duration{30 * time.Second},
		},
	}
}

// Load builds a Config from DefaultConfig, the TOML file at path, the .env
// file in the working directory and the process environment. A missing file
// at either location is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("config: decode %s: %w", path, err)
			}
			log.Warnf("[config] %s not found, using defaults and environment", path)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any of the recognised environment variables.
func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"HTTP_ADDR":     &cfg.HTTPAddr,
		"LOG_LEVEL":     &cfg.LogLevel,
		"STORE_BACKEND": &cfg.Store.Backend,
		"REDIS_ADDR":    &cfg.Store.RedisAddr,
		"DATABASE_URL":  &cfg.Store.PostgresDSN,
		"NATS_URL":      &cfg.NATSURL,
		"KAFKA_ADDR":    &cfg.Kafka.Addr,
		"KAFKA_TOPIC":   &cfg.Kafka.Topic,
		"JWT_SECRET":    &cfg.Auth.JWTSecret,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("KAFKA_BATCH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: KAFKA_BATCH: %w", err)
		}
		cfg.Kafka.Batch = n
	}
	return nil
}

// Validate reports configuration that would make the service unusable.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("config: JWT secret is required")
	}
	switch c.Store.Backend {
	case "", settings.BackendMemory, settings.BackendRedis, settings.BackendPostgres:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == settings.BackendPostgres && c.Store.PostgresDSN == "" {
		return errors.New("config: postgres backend requires DATABASE_URL")
	}
	if c.HTTPAddr != "" && !strings.Contains(c.HTTPAddr, ":") {
		log.Warn("[config] use ':' before port number, e.g. ':8080'")
	}
	return nil
}

// SetupLogging sets the logrus level from a name. Unknown names keep info.
func SetupLogging(level string) {
	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
