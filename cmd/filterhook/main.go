package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/config"
	"github.com/whisper/wordfilter/internal/messaging"
	"github.com/whisper/wordfilter/internal/moderation"
	"github.com/whisper/wordfilter/internal/settings"
)

const renderTimeout = 3 * time.Second

func main() {
	var (
		configPath string
		natsURL    string
		logLevel   string
		selfCheck  bool
	)
	flag.StringVar(&configPath, "config", "config.toml", "Path to TOML config file")
	flag.StringVar(&natsURL, "nats", "", "NATS server URL.")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.BoolVar(&selfCheck, "check", true, "Send one render request through NATS after subscribing.")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[hook] %v", err)
	}
	if natsURL != "" {
		cfg.NATSURL = natsURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	config.SetupLogging(cfg.LogLevel)

	log.Info("[hook] starting word filter render hook...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := settings.Open(ctx, cfg.Store)
	cancel()
	if err != nil {
		log.Fatalf("[hook] failed to open settings store: %v", err)
	}
	if cfg.Store.Backend == "" || cfg.Store.Backend == settings.BackendMemory {
		log.Warn("[hook] memory store is not shared with filterd, saved settings will not be seen")
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.ServiceName + "-hook"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("[hook] failed to connect to NATS: %v", err)
	}

	filter := moderation.NewFilter(store.Store)

	if err := natsClient.SubscribeRender(messaging.NewRenderHandler(filter, renderTimeout)); err != nil {
		log.Fatalf("[hook] failed to subscribe to render requests: %v", err)
	}

	// Settings are read per document; the event is only logged.
	err = natsClient.SubscribeSettingsChanged(func(data []byte) {
		var ev messaging.SettingsChanged
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warnf("[hook] bad settings change event: %v", err)
			return
		}
		log.Infof("[hook] settings changed key=%s by=%s", ev.Key, ev.Subject)
	})
	if err != nil {
		log.Warnf("[hook] failed to subscribe to settings changes: %v", err)
	}

	if selfCheck {
		checkRenderPath(natsClient)
	}

	log.Info("[hook] word filter render hook running")
	log.Infof("  subject:  %s (queue %s)", messaging.SubjectRender, messaging.QueueRender)
	log.Infof("  store:    %s", cfg.Store.Backend)
	log.Infof("  nats_url: %s", cfg.NATSURL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("[hook] received signal %v, shutting down...", sig)

	natsClient.Close()
	if err := store.Close(); err != nil {
		log.Errorf("[hook] settings store close error: %v", err)
	}
}

// checkRenderPath sends a document through the render subject the way a host
// would and logs the reply. Failure is logged, not fatal: another worker in
// the queue group may have answered, or NATS may still be settling.
func checkRenderPath(c *messaging.NATSClient) {
	ctx, cancel := context.WithTimeout(context.Background(), renderTimeout)
	defer cancel()

	res, err := c.RenderDocument(ctx, moderation.RenderRequest{
		DocumentID: "filterhook-startup",
		Content:    "startup check",
	})
	if err != nil {
		log.Warnf("[hook] render path check failed: %v", err)
		return
	}
	log.Infof("[hook] render path ok (replacements=%d)", res.Replacements)
}
