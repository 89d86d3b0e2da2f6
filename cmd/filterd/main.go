package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/admin"
	"github.com/whisper/wordfilter/internal/api"
	"github.com/whisper/wordfilter/internal/config"
	"github.com/whisper/wordfilter/internal/messaging"
	"github.com/whisper/wordfilter/internal/moderation"
	"github.com/whisper/wordfilter/internal/ratelimit"
	"github.com/whisper/wordfilter/internal/settings"
	"github.com/whisper/wordfilter/internal/ws"
)

func main() {
	var (
		configPath string
		httpAddr   string
		logLevel   string
		backend    string
		natsURL    string
		kafkaAddr  string
		kafkaTopic string
		kafkaBatch int
	)

	flag.StringVar(&configPath, "config", "config.toml", "Path to TOML config file")
	flag.StringVar(&httpAddr, "http", "", "HTTP server address in the form 'host:port'.")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.StringVar(&backend, "store", "", "Settings store: memory, redis, postgres.")
	flag.StringVar(&natsURL, "nats", "", "NATS server URL; empty disables change notifications.")
	flag.StringVar(&kafkaAddr, "kafka", "", "Kafka server address in the form 'host:port'.")
	flag.StringVar(&kafkaTopic, "topic", "", "Kafka topic.")
	flag.IntVar(&kafkaBatch, "batch", 0, "Kafka batch size.")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	// Override config with flags if set
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.HTTPAddr = httpAddr
		case "log":
			cfg.LogLevel = logLevel
		case "store":
			cfg.Store.Backend = backend
		case "nats":
			cfg.NATSURL = natsURL
		case "kafka":
			cfg.Kafka.Addr = kafkaAddr
		case "topic":
			cfg.Kafka.Topic = kafkaTopic
		case "batch":
			cfg.Kafka.Batch = kafkaBatch
		}
	})

	config.SetupLogging(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[server] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := settings.Open(ctx, cfg.Store)
	cancel()
	if err != nil {
		log.Fatalf("[server] failed to open settings store: %v", err)
	}

	var limiter *ratelimit.Limiter
	if store.Redis != nil {
		limiter = ratelimit.NewLimiter(store.Redis)
	} else {
		log.Warn("[server] rate limiting disabled, it requires the redis store")
	}

	var natsClient *messaging.NATSClient
	var notifier api.SettingsNotifier
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServiceName
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Warnf("[server] NATS unavailable, settings changes will not be announced: %v", err)
		} else {
			notifier = natsClient
		}
	}

	var kafkaWriter *kafka.Writer
	if cfg.Kafka.Enabled() {
		kafkaWriter = &kafka.Writer{
			Addr:      kafka.TCP(cfg.Kafka.Addr),
			Topic:     cfg.Kafka.Topic,
			BatchSize: cfg.Kafka.Batch,
		}
		err := createTopic(kafkaWriter.Addr.String(), kafkaWriter.Topic)
		if err != nil {
			log.Warnf("[server] failed to create Kafka topic: %v", err)
		}
	} else {
		log.Warnf("[server] kafka was not configured, logs will not be sent to Kafka")
	}

	filter := moderation.NewFilter(store.Store)

	srvAPI, err := api.New(api.Options{
		ServiceName: cfg.ServiceName,
		Filter:      filter,
		Admin:       admin.NewService(store.Store),
		Secret:      cfg.Auth.JWTSecret,
		NonceTTL:    cfg.Auth.NonceTTL.Duration,
		Limiter:     limiter,
		KafkaWriter: kafkaWriter,
		Notifier:    notifier,
		Preview:     previewConfig(cfg.Preview),
	})
	if err != nil {
		log.Fatalf("[server] failed to create API: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srvAPI.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("[server] %s starting", cfg.ServiceName)
	log.Infof("  http_addr: %s", cfg.HTTPAddr)
	log.Infof("  store:     %s", cfg.Store.Backend)
	log.Infof("  nats_url:  %s", cfg.NATSURL)
	log.Infof("  kafka:     %v", cfg.Kafka.Enabled())

	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] failed to start: %v", err)
			return
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("[server] received signal %v, shutting down...", sig)

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] HTTP server shutdown error: %v", err)
	} else {
		log.Info("[server] HTTP server shut down gracefully")
	}

	srvAPI.Close()
	if natsClient != nil {
		natsClient.Close()
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			log.Errorf("[server] kafka writer close error: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		log.Errorf("[server] settings store close error: %v", err)
	}
}

func createTopic(broker, topic string) error {
	conn, err := kafka.DialContext(context.Background(), "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}

func previewConfig(c config.PreviewConfig) ws.ServerConfig {
	sc := ws.DefaultServerConfig()
	sc.MaxConnections = c.MaxConnections
	sc.MaxPerSubject = c.MaxPerSubject
	sc.IdleTimeout = c.IdleTimeout.Duration
	sc.PingInterval = c.PingInterval.Duration
	return sc
}
