package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/wordfilter/loadtest/stats"
)

// runFilter fires concurrent filter requests at the HTTP pipeline hook for a
// fixed duration and reports latency percentiles.
func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	apiBase := fs.String("api", "http://localhost:8080", "HTTP API base URL")
	workers := fs.Int("workers", 32, "Concurrent request loops")
	duration := fs.Duration("duration", 30*time.Second, "Test duration")
	size := fs.Int("size", 4096, "Approximate document size in bytes")
	scrape := fs.Bool("scrape", true, "Scrape server metrics during the run")
	fs.Parse(args)

	fmt.Printf("Filter test: %d workers against %s for %s (doc=%dB)\n",
		*workers, *apiBase, *duration, *size)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	collector := stats.NewCollector()
	if *scrape {
		scraper := stats.NewScraper(*apiBase+"/metrics", time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	body, _ := json.Marshal(map[string]string{"content": sampleDocument(*size)})
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: *workers,
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				start := time.Now()
				n, err := postFilter(ctx, httpClient, *apiBase, body)
				if err != nil {
					if ctx.Err() == nil {
						collector.AddError("http")
					}
					continue
				}
				collector.AddLatency("filter", time.Since(start))
				collector.AddReplacements(n)
			}
		}()
	}

	wg.Wait()
	collector.Report()
}

func postFilter(ctx context.Context, c *http.Client, apiBase string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/api/filter", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Replacements int `json:"replacements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Replacements, nil
}
