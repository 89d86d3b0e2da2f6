package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/settings"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const sampleTOML = `
serviceName = "wordfilter-test"
httpAddr = ":9090"
logLevel = "debug"
natsURL = "nats://nats:4222"

[store]
backend = "redis"
redisAddr = "redis:6379"

[kafka]
addr = "kafka:9092"
topic = "logs"
batch = 5

[auth]
jwtSecret = "from-file"
tokenTTL = "30m"
nonceTTL = "2h"

[preview]
maxPerSubject = 2
pingInterval = "5s"
`

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "LOG_LEVEL", "STORE_BACKEND", "REDIS_ADDR", "DATABASE_URL",
		"NATS_URL", "KAFKA_ADDR", "KAFKA_TOPIC", "KAFKA_BATCH", "JWT_SECRET",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServiceName != "wordfilter-test" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Store.Backend != settings.BackendRedis || cfg.Store.RedisAddr != "redis:6379" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if !cfg.Kafka.Enabled() || cfg.Kafka.Batch != 5 {
		t.Errorf("Kafka = %+v", cfg.Kafka)
	}
	if cfg.Preview.MaxPerSubject != 2 || cfg.Preview.PingInterval.Duration != 5*time.Second {
		t.Errorf("Preview = %+v", cfg.Preview)
	}
	if cfg.Preview.MaxConnections != 1000 {
		t.Errorf("Preview.MaxConnections = %d, want default 1000", cfg.Preview.MaxConnections)
	}
	if cfg.Auth.TokenTTL.Duration != 30*time.Minute {
		t.Errorf("TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.NonceTTL.Duration != 2*time.Hour {
		t.Errorf("NonceTTL = %v", cfg.Auth.NonceTTL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("KAFKA_BATCH", "9")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q, want :7070", cfg.HTTPAddr)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want from-env", cfg.Auth.JWTSecret)
	}
	if cfg.Store.Backend != settings.BackendMemory {
		t.Errorf("Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Kafka.Batch != 9 {
		t.Errorf("Batch = %d, want 9", cfg.Kafka.Batch)
	}
	// Untouched file values survive.
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := DefaultConfig()
	if cfg.HTTPAddr != def.HTTPAddr || cfg.Store.Backend != def.Store.Backend {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "malformed toml", body: "httpAddr = "},
		{name: "bad duration", body: "[auth]\ntokenTTL = \"soon\""},
		{name: "bad kafka batch", body: "", env: map[string]string{"KAFKA_BATCH": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Auth.JWTSecret = "s"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "etcd" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = settings.BackendPostgres }, wantErr: true},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.Store.Backend = settings.BackendPostgres
			c.Store.PostgresDSN = "postgres://localhost/wordfilter"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"WARN", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"verbose", log.InfoLevel},
	}
	for _, tt := range tests {
		SetupLogging(tt.in)
		if got := log.GetLevel(); got != tt.want {
			t.Errorf("SetupLogging(%q) level = %v, want %v", tt.in, got, tt.want)
		}
	}
}
