package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/wordfilter/loadtest/client"
	"github.com/whisper/wordfilter/loadtest/stats"
)

// runPreview opens a number of preview sockets and has each send drafts at a
// fixed interval, measuring the time until the matching preview_result.
func runPreview(args []string) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/admin/preview", "Preview WebSocket URL")
	token := fs.String("token", "", "Admin bearer token (see filtertoken)")
	connections := fs.Int("connections", 50, "Number of preview sockets")
	interval := fs.Duration("interval", 600*time.Millisecond, "Delay between drafts per socket")
	duration := fs.Duration("duration", 30*time.Second, "Test duration")
	size := fs.Int("size", 1024, "Approximate draft size in bytes")
	fs.Parse(args)

	if *token == "" {
		fmt.Println("preview: -token is required")
		return
	}

	fmt.Printf("Preview test: %d sockets to %s (interval=%s, duration=%s)\n",
		*connections, *url, *interval, *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	collector := stats.NewCollector()
	apiBase := strings.Replace(strings.SplitN(*url, "/admin/", 2)[0], "ws", "http", 1)
	scraper := stats.NewScraper(apiBase+"/metrics", time.Second)
	scraper.Start(ctx)
	defer scraper.Stop()
	collector.SetScraper(scraper)

	draft := sampleDocument(*size)

	var wg sync.WaitGroup
	for i := 0; i < *connections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runPreviewSocket(ctx, collector, *url, *token, draft, *interval)
		}()
	}

	wg.Wait()
	collector.Report()
}

func runPreviewSocket(ctx context.Context, collector *stats.Collector, url, token, draft string, interval time.Duration) {
	c, err := client.New(ctx, url, token)
	if err != nil {
		collector.AddError("connect")
		return
	}
	defer c.Close()

	if err := c.WaitConnected(ctx); err != nil {
		collector.AddError("handshake")
		return
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)

	var mu sync.Mutex
	sent := make(map[int64]time.Time)

	c.On(client.TypePreviewResult, func(raw json.RawMessage) {
		var res client.PreviewResult
		if err := json.Unmarshal(raw, &res); err != nil {
			collector.AddError("decode")
			return
		}
		mu.Lock()
		start, ok := sent[res.Seq]
		delete(sent, res.Seq)
		mu.Unlock()
		if ok {
			collector.AddLatency("preview", time.Since(start))
			collector.AddReplacements(res.Replacements)
		}
	})
	c.On(client.TypeRateLimited, func(json.RawMessage) { collector.AddError("rate_limited") })
	c.On(client.TypeError, func(json.RawMessage) { collector.AddError("server_error") })

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			seq, err := c.Preview(draft)
			if err != nil {
				collector.AddError("send")
				return
			}
			mu.Lock()
			sent[seq] = now
			mu.Unlock()
		}
	}
}
