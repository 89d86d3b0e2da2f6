// Package admin implements the administrative save actions for the word
// filter settings. Every write is authorized against the caller's principal
// and sanitized once before it reaches the settings store.
package admin

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/auth"
	"github.com/whisper/wordfilter/internal/settings"
)

// Form actions, used as nonce actions.
const (
	ActionSaveWords       = "saveFilterWords"
	ActionSaveReplacement = "saveReplacementText"
)

// WordsPlaceholder is the example shown in an empty word list field.
const WordsPlaceholder = "bad, mean, awful"

// User-visible outcomes of a save.
const (
	MsgWordsSaved       = "Your filtered words were saved!"
	MsgReplacementSaved = "Settings saved."
	MsgPermissionDenied = "Sorry, you do not have permission to perform that action"
)

// ErrPermissionDenied is returned when the caller may not change settings.
// The settings are left untouched.
var ErrPermissionDenied = errors.New("admin: permission denied")

// View is what the settings pages render.
type View struct {
	WordsToFilter      string `json:"words_to_filter"`
	ReplacementText    string `json:"replacement_text"`
	WordsPlaceholder   string `json:"words_placeholder"`
	DefaultReplacement string `json:"default_replacement"`
}

// Service performs authorized reads and writes of the filter settings.
type Service struct {
	store settings.Store
}

// NewService creates a Service writing to store.
func NewService(store settings.Store) *Service {
	return &Service{store: store}
}

// Settings returns the current settings for display.
func (s *Service) Settings(ctx context.Context) (View, error) {
	cfg, err := settings.Load(ctx, s.store)
	if err != nil {
		return View{}, err
	}
	return View{
		WordsToFilter:      cfg.WordsToFilter,
		ReplacementText:    cfg.ReplacementText,
		WordsPlaceholder:   WordsPlaceholder,
		DefaultReplacement: settings.DefaultReplacementText,
	}, nil
}

// SaveWords stores a new comma-separated word list.
func (s *Service) SaveWords(ctx context.Context, p auth.Principal, raw string) error {
	return s.save(ctx, p, settings.KeyWordsToFilter, raw)
}

// SaveReplacement stores a new replacement text. A blank replacement makes
// the filter delete matched words.
func (s *Service) SaveReplacement(ctx context.Context, p auth.Principal, text string) error {
	return s.save(ctx, p, settings.KeyReplacementText, text)
}

func (s *Service) save(ctx context.Context, p auth.Principal, key, value string) error {
	if !p.Can(auth.CapManageOptions) {
		log.Warnf("[admin] denied %s update by %q", key, p.Subject)
		return ErrPermissionDenied
	}

	value = SanitizeTextField(value)
	if err := s.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("admin: save %s: %w", key, err)
	}

	log.Infof("[admin] %s updated by %q (%d bytes)", key, p.Subject, len(value))
	return nil
}
