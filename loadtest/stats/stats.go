// Package stats collects client-side timings from load test workers and
// prints them, together with scraped server metrics, when the run ends.
package stats

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// Collector is shared by every worker of a run.
type Collector struct {
	mu           sync.Mutex
	began        time.Time
	connects     []time.Duration
	rounds       map[string][]time.Duration // by request kind, e.g. "filter"
	kinds        []string
	failures     map[string]int // by reason
	replacements int
	server       *Scraper
}

// NewCollector starts the run clock.
func NewCollector() *Collector {
	return &Collector{
		began:    time.Now(),
		rounds:   make(map[string][]time.Duration),
		failures: make(map[string]int),
	}
}

// SetScraper makes Report append the server-side view from s.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server = s
}

// AddConnect records how long one socket took to finish its handshake.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects = append(c.connects, d)
}

// AddLatency records one completed round trip of the given kind.
func (c *Collector) AddLatency(kind string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.rounds[kind]; !seen {
		c.kinds = append(c.kinds, kind)
	}
	c.rounds[kind] = append(c.rounds[kind], d)
}

// AddReplacements adds the server-reported replacement count of one response.
func (c *Collector) AddReplacements(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replacements += n
}

// AddError counts one failure under reason.
func (c *Collector) AddError(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[reason]++
}

// RequestCount returns the number of completed round trips of kind.
func (c *Collector) RequestCount(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rounds[kind])
}

// ConnectionCount returns the number of sockets that completed a handshake.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects)
}

// ErrorCount returns failures across all reasons.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.failures {
		total += n
	}
	return total
}

// Report prints the run summary to stdout.
func (c *Collector) Report() {
	errs := c.ErrorCount()

	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.began)
	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:  %d\n", len(c.connects))
	fmt.Printf("Replacements: %d\n", c.replacements)
	fmt.Printf("Errors:       %d\n", errs)

	reasons := make([]string, 0, len(c.failures))
	for r := range c.failures {
		reasons = append(reasons, r)
	}
	slices.Sort(reasons)
	for _, r := range reasons {
		fmt.Printf("  %-14s %d\n", r+":", c.failures[r])
	}

	if len(c.connects) > 0 {
		fmt.Println("\n--- Connect Latency ---")
		fmt.Println("  " + summarize(c.connects).String())
	}
	for _, kind := range c.kinds {
		d := c.rounds[kind]
		fmt.Printf("\n--- %s Latency ---\n", kind)
		fmt.Println("  " + summarize(d).String())
		fmt.Printf("  throughput: %.1f req/s\n", float64(len(d))/elapsed.Seconds())
	}

	if c.server != nil {
		c.server.Report()
	}
	fmt.Println()
}

// distribution is a latency summary over one set of samples.
type distribution struct {
	n                        int
	mean, p50, p95, p99, max time.Duration
}

// summarize sorts a copy of samples and picks nearest-rank percentiles.
func summarize(samples []time.Duration) distribution {
	if len(samples) == 0 {
		return distribution{}
	}
	s := slices.Clone(samples)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })

	rank := func(p float64) time.Duration {
		i := int(math.Ceil(p*float64(len(s)))) - 1
		return s[max(i, 0)]
	}
	var sum time.Duration
	for _, d := range s {
		sum += d
	}
	return distribution{
		n:    len(s),
		mean: sum / time.Duration(len(s)),
		p50:  rank(0.50),
		p95:  rank(0.95),
		p99:  rank(0.99),
		max:  s[len(s)-1],
	}
}

func (d distribution) String() string {
	r := func(v time.Duration) time.Duration { return v.Round(time.Microsecond) }
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		r(d.mean), r(d.p50), r(d.p95), r(d.p99), r(d.max), d.n)
}
