// Package settings provides the persistent key-value store holding the word
// filter configuration. Values are plain strings; reads fall back to a caller
// supplied default when a key was never set or holds the empty string.
package settings

import (
	"context"
	"fmt"
)

// Persisted setting keys.
const (
	KeyWordsToFilter   = "words_to_filter"
	KeyReplacementText = "replacement_text"
)

// DefaultReplacementText is substituted for matched terms when no
// replacement has ever been configured.
const DefaultReplacementText = "***"

// Store is the configuration store consumed by the content filter and
// written by the admin service. Implementations must make Set atomic per key;
// nothing is promised across keys.
type Store interface {
	// Get returns the stored value, or def when the key is missing or empty.
	Get(ctx context.Context, key, def string) (string, error)

	// Set stores value under key. Last write wins.
	Set(ctx context.Context, key, value string) error

	// Lookup returns the stored value and whether the key was ever set.
	// Unlike Get it reports an explicitly stored empty string as present.
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// FilterConfig is a snapshot of both filter settings.
type FilterConfig struct {
	WordsToFilter   string `json:"words_to_filter"`
	ReplacementText string `json:"replacement_text"`
}

// Load reads both settings. The two keys are read independently, so a save
// racing with Load may yield values from different generations.
func Load(ctx context.Context, store Store) (FilterConfig, error) {
	words, err := store.Get(ctx, KeyWordsToFilter, "")
	if err != nil {
		return FilterConfig{}, fmt.Errorf("settings: load %s: %w", KeyWordsToFilter, err)
	}

	replacement, err := Replacement(ctx, store)
	if err != nil {
		return FilterConfig{}, err
	}

	return FilterConfig{WordsToFilter: words, ReplacementText: replacement}, nil
}

// Replacement returns the configured replacement text. A key that was never
// set yields DefaultReplacementText; a key explicitly set to "" yields "",
// which means matches are deleted.
func Replacement(ctx context.Context, store Store) (string, error) {
	value, ok, err := store.Lookup(ctx, KeyReplacementText)
	if err != nil {
		return "", fmt.Errorf("settings: load %s: %w", KeyReplacementText, err)
	}
	if !ok {
		return DefaultReplacementText, nil
	}
	return value, nil
}

// getWithDefault implements the Get contract on top of Lookup.
func getWithDefault(value string, ok bool, def string) string {
	if !ok || value == "" {
		return def
	}
	return value
}
