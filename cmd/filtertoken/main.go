// Command filtertoken mints an admin bearer token for the filter service.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/auth"
	"github.com/whisper/wordfilter/internal/config"
)

func main() {
	var (
		configPath string
		subject    string
		caps       string
		ttl        time.Duration
	)
	flag.StringVar(&configPath, "config", "config.toml", "Path to TOML config file")
	flag.StringVar(&subject, "sub", "admin", "Token subject.")
	flag.StringVar(&caps, "caps", auth.CapManageOptions, "Comma-separated capabilities.")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime; defaults to the configured tokenTTL.")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[token] %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("[token] no JWT secret configured, set JWT_SECRET")
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL.Duration
	}

	var capList []string
	for _, c := range strings.Split(caps, ",") {
		if c = strings.TrimSpace(c); c != "" {
			capList = append(capList, c)
		}
	}

	token, err := auth.MakeJWT(subject, capList, cfg.Auth.JWTSecret, ttl)
	if err != nil {
		log.Fatalf("[token] %v", err)
	}
	fmt.Fprintln(os.Stdout, token)
}
