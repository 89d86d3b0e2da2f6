// Package main implements a standalone end-to-end test for the word filter
// service. It validates the full admin journey against a running stack:
// health, settings and nonces, saving the word list and replacement, the
// pipeline hook, the live preview, and permission checks. The settings found
// at the start are restored at the end.
//
// Usage:
//
//	go run ./cmd/e2etest/ -token $(filtertoken) [-api http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/whisper/wordfilter/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// settingsPage mirrors GET /admin/settings.
type settingsPage struct {
	WordsToFilter   string `json:"words_to_filter"`
	ReplacementText string `json:"replacement_text"`
	Nonces          struct {
		SaveWords       string `json:"saveFilterWords"`
		SaveReplacement string `json:"saveReplacementText"`
	} `json:"nonces"`
}

type runner struct {
	api   string
	token string
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	token := flag.String("token", "", "Admin bearer token (see filtertoken)")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "e2etest: -token is required")
		os.Exit(2)
	}

	fmt.Println("=== Word Filter E2E Test ===")
	fmt.Printf("Server: %s\n\n", *apiBase)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	r := runner{api: strings.TrimRight(*apiBase, "/"), token: *token}
	var results []scenarioResult

	results = append(results, r.scenario1Health(ctx))

	original, err := r.settings(ctx)
	if err != nil {
		results = append(results, scenarioResult{"Scenario 2: Settings", resultFail, err.Error()})
	} else {
		results = append(results, scenarioResult{"Scenario 2: Settings", resultPass,
			fmt.Sprintf("words=%q replacement=%q", original.WordsToFilter, original.ReplacementText)})
		results = append(results, r.scenario3SaveAndFilter(ctx))
		results = append(results, r.scenario4BlankReplacement(ctx))
		results = append(results, r.scenario5Preview(ctx))
		results = append(results, r.scenario6Permission(ctx))
		results = append(results, r.restore(ctx, original))
	}

	// ---------------------------------------------------------------------------
	// Summary
	// ---------------------------------------------------------------------------
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, res := range results {
		fmt.Printf("[%s] %s", res.tag(), res.name)
		if res.detail != "" {
			fmt.Printf(" (%s)", res.detail)
		}
		fmt.Println()

		switch res.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func (r runner) scenario1Health(ctx context.Context) scenarioResult {
	name := "Scenario 1: Health Check"

	if _, err := r.do(ctx, http.MethodGet, "/health", "", nil, http.StatusOK); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	body, err := r.do(ctx, http.MethodGet, "/metrics", "", nil, http.StatusOK)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(string(body), "wordfilter_replacements_total") {
		return scenarioResult{name, resultFail, "/metrics: missing wordfilter_replacements_total"}
	}
	return scenarioResult{name, resultPass, ""}
}

func (r runner) scenario3SaveAndFilter(ctx context.Context) scenarioResult {
	name := "Scenario 3: Save Words and Filter"

	if err := r.saveWords(ctx, "bad, mean"); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if err := r.saveReplacement(ctx, "***"); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}

	got, n, err := r.filter(ctx, "This is BAD. So mean!")
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if want := "This is ***. So ***!"; got != want {
		return scenarioResult{name, resultFail, fmt.Sprintf("got %q, want %q", got, want)}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("replacements=%d", n)}
}

func (r runner) scenario4BlankReplacement(ctx context.Context) scenarioResult {
	name := "Scenario 4: Blank Replacement Deletes"

	if err := r.saveWords(ctx, "ugh"); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if err := r.saveReplacement(ctx, ""); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	got, _, err := r.filter(ctx, "ugh, no")
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if got != ", no" {
		return scenarioResult{name, resultFail, fmt.Sprintf("got %q, want %q", got, ", no")}
	}
	return scenarioResult{name, resultPass, ""}
}

func (r runner) scenario5Preview(ctx context.Context) scenarioResult {
	name := "Scenario 5: Live Preview"

	if err := r.saveWords(ctx, "cat, catastrophe"); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if err := r.saveReplacement(ctx, "***"); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	wsURL := "ws" + strings.TrimPrefix(r.api, "http") + "/admin/preview"
	c, err := client.New(connCtx, wsURL, r.token)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("connect: %v", err)}
	}
	defer c.Close()

	if err := c.WaitConnected(connCtx); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("handshake: %v", err)}
	}

	results := make(chan client.PreviewResult, 1)
	c.On(client.TypePreviewResult, func(raw json.RawMessage) {
		var res client.PreviewResult
		if err := json.Unmarshal(raw, &res); err == nil {
			select {
			case results <- res:
			default:
			}
		}
	})

	if _, err := c.Preview("catastrophe"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("send: %v", err)}
	}

	select {
	case res := <-results:
		// Terms apply in order, so "cat" consumes the start of "catastrophe".
		if res.Text != "***astrophe" {
			return scenarioResult{name, resultFail, fmt.Sprintf("got %q, want %q", res.Text, "***astrophe")}
		}
		return scenarioResult{name, resultPass, fmt.Sprintf("connection=%s", truncateID(c.ConnectionID()))}
	case <-connCtx.Done():
		return scenarioResult{name, resultFail, "timeout waiting for preview_result"}
	}
}

func (r runner) scenario6Permission(ctx context.Context) scenarioResult {
	name := "Scenario 6: Stale Nonce Rejected"

	_, err := r.do(ctx, http.MethodPost, "/admin/words", r.token,
		map[string]string{"words_to_filter": "hijacked", "nonce": "stale"}, http.StatusForbidden)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	page, err := r.settings(ctx)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if page.WordsToFilter == "hijacked" {
		return scenarioResult{name, resultFail, "settings changed despite rejection"}
	}
	return scenarioResult{name, resultPass, ""}
}

func (r runner) restore(ctx context.Context, original settingsPage) scenarioResult {
	name := "Cleanup: Restore Settings"
	if err := r.saveWords(ctx, original.WordsToFilter); err != nil {
		return scenarioResult{name, resultInfo, err.Error()}
	}
	if err := r.saveReplacement(ctx, original.ReplacementText); err != nil {
		return scenarioResult{name, resultInfo, err.Error()}
	}
	return scenarioResult{name, resultInfo, "restored"}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (r runner) settings(ctx context.Context) (settingsPage, error) {
	var page settingsPage
	body, err := r.do(ctx, http.MethodGet, "/admin/settings", r.token, nil, http.StatusOK)
	if err != nil {
		return page, err
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return page, fmt.Errorf("settings JSON parse: %w", err)
	}
	return page, nil
}

func (r runner) saveWords(ctx context.Context, words string) error {
	page, err := r.settings(ctx)
	if err != nil {
		return err
	}
	_, err = r.do(ctx, http.MethodPost, "/admin/words", r.token,
		map[string]string{"words_to_filter": words, "nonce": page.Nonces.SaveWords}, http.StatusOK)
	return err
}

func (r runner) saveReplacement(ctx context.Context, text string) error {
	page, err := r.settings(ctx)
	if err != nil {
		return err
	}
	_, err = r.do(ctx, http.MethodPost, "/admin/options", r.token,
		map[string]string{"replacement_text": text, "nonce": page.Nonces.SaveReplacement}, http.StatusOK)
	return err
}

func (r runner) filter(ctx context.Context, content string) (string, int, error) {
	body, err := r.do(ctx, http.MethodPost, "/api/filter", "", map[string]string{"content": content}, http.StatusOK)
	if err != nil {
		return "", 0, err
	}
	var out struct {
		Content      string `json:"content"`
		Replacements int    `json:"replacements"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, fmt.Errorf("filter JSON parse: %w", err)
	}
	return out.Content, out.Replacements, nil
}

// do performs a request and checks the response status.
func (r runner) do(ctx context.Context, method, path, token string, payload interface{}, want int) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.api+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != want {
		return nil, fmt.Errorf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// truncateID returns the first 8 characters of an ID for display purposes.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
