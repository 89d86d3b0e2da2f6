package stats

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Server-side series the report tracks. Counters and gauges are summed over
// all label combinations.
const (
	seriesPreviewConns = "wordfilter_preview_connections"
	seriesDocuments    = "wordfilter_documents_total"
	seriesReplacements = "wordfilter_replacements_total"
	seriesSaves        = "wordfilter_settings_saves_total"
	seriesLatency      = "wordfilter_filter_latency_seconds"
)

var reportRows = []struct {
	label  string
	series string
}{
	{"Preview Conns", seriesPreviewConns},
	{"Documents", seriesDocuments},
	{"Replacements", seriesReplacements},
	{"Settings Saves", seriesSaves},
}

// sample is one scrape of the server's /metrics page.
type sample struct {
	at     time.Time
	values map[string]float64
	// filter latency histogram totals
	latencySum   float64
	latencyCount uint64
}

// Scraper polls the server's Prometheus endpoint while a load test runs so
// the report can show what the server saw alongside client-side numbers.
type Scraper struct {
	url    string
	every  time.Duration
	client *http.Client

	mu      sync.Mutex
	samples []sample

	stop     context.CancelFunc
	finished chan struct{}
}

// NewScraper returns a Scraper for metricsURL polling once per interval.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      metricsURL,
		every:    interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		finished: make(chan struct{}),
	}
}

// Start records a first sample synchronously, then keeps polling in the
// background until ctx ends or Stop is called. A last sample is taken on the
// way out.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	s.record()

	go func() {
		defer close(s.finished)
		t := time.NewTicker(s.every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.record()
			case <-ctx.Done():
				s.record()
				return
			}
		}
	}()
}

// Stop ends polling and waits for the final sample.
func (s *Scraper) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.finished
}

// record appends one sample. Failed scrapes are dropped; the server is often
// still starting when the first one runs.
func (s *Scraper) record() {
	smp, err := s.scrape()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, smp)
	s.mu.Unlock()
}

func (s *Scraper) scrape() (sample, error) {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return sample{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return sample{}, fmt.Errorf("metrics: status %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return sample{}, fmt.Errorf("metrics: parse: %w", err)
	}
	return newSample(time.Now(), families), nil
}

func newSample(at time.Time, families map[string]*dto.MetricFamily) sample {
	smp := sample{at: at, values: make(map[string]float64)}
	for _, row := range reportRows {
		if mf, ok := families[row.series]; ok {
			smp.values[row.series] = total(mf)
		}
	}
	if mf, ok := families[seriesLatency]; ok {
		for _, m := range mf.GetMetric() {
			h := m.GetHistogram()
			smp.latencySum += h.GetSampleSum()
			smp.latencyCount += h.GetSampleCount()
		}
	}
	return smp
}

// total sums a counter or gauge family across its label sets.
func total(mf *dto.MetricFamily) float64 {
	var sum float64
	for _, m := range mf.GetMetric() {
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			sum += m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			sum += m.GetGauge().GetValue()
		case dto.MetricType_UNTYPED:
			sum += m.GetUntyped().GetValue()
		}
	}
	return sum
}

// Report prints first, last, delta and peak for each tracked series, then the
// mean filter latency over the run.
func (s *Scraper) Report() {
	s.mu.Lock()
	samples := append([]sample(nil), s.samples...)
	s.mu.Unlock()

	if len(samples) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := samples[0], samples[len(samples)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(samples), last.at.Sub(first.at).Round(time.Second))

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, row := range reportRows {
		peak := math.Inf(-1)
		for _, smp := range samples {
			peak = math.Max(peak, smp.values[row.series])
		}
		from, to := first.values[row.series], last.values[row.series]
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n", row.label, from, to, to-from, peak)
	}

	fmt.Println()
	n := last.latencyCount - first.latencyCount
	if n == 0 {
		fmt.Printf("  %-16s avg: N/A  (no observations)\n", "Filter Latency")
		return
	}
	avg := (last.latencySum - first.latencySum) / float64(n)
	fmt.Printf("  %-16s avg: %.4fs  (%d observations)\n", "Filter Latency", avg, n)
}
