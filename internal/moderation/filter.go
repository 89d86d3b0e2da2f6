// Package moderation provides the content filter. It rewrites outgoing
// documents by replacing every configured bad word, case-insensitively, with
// the configured replacement text before the document reaches a viewer.
package moderation

import (
	"context"
	"html"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/settings"
)

// ContentTransformer is implemented by anything the content pipeline can run
// a document through. Hosts invoke Apply and use its return value.
type ContentTransformer interface {
	Apply(ctx context.Context, content string) string
}

// Result describes one filter run.
type Result struct {
	Text         string `json:"text"`
	Replacements int    `json:"replacements"` // matches replaced across all terms
	Terms        int    `json:"terms"`        // active terms after parsing
}

// Filter rewrites documents using the settings held in a Store. It keeps no
// state of its own: the term list is parsed again on every call, so saved
// settings take effect on the next document.
type Filter struct {
	store settings.Store
}

var _ ContentTransformer = (*Filter)(nil)

// NewFilter creates a Filter reading its configuration from store.
func NewFilter(store settings.Store) *Filter {
	return &Filter{store: store}
}

// Stats is filled in by Apply when the context carries it. See WithStats.
type Stats struct {
	Replacements int
	Terms        int
	Err          error // store error that made Apply pass the document through
}

type statsKey struct{}

// WithStats returns a context that makes Apply record its outcome in s.
func WithStats(ctx context.Context, s *Stats) context.Context {
	return context.WithValue(ctx, statsKey{}, s)
}

// Apply returns content with every configured term replaced. It never fails:
// when the store cannot be read the document passes through unchanged.
func (f *Filter) Apply(ctx context.Context, content string) string {
	res, err := f.Rewrite(ctx, content)
	if s, ok := ctx.Value(statsKey{}).(*Stats); ok && s != nil {
		*s = Stats{Replacements: res.Replacements, Terms: res.Terms, Err: err}
	}
	if err != nil {
		log.Errorf("[filter] settings unavailable, passing content through: %v", err)
		return content
	}
	return res.Text
}

// Rewrite is Apply with the store error and match statistics exposed.
func (f *Filter) Rewrite(ctx context.Context, content string) (Result, error) {
	raw, err := f.store.Get(ctx, settings.KeyWordsToFilter, "")
	if err != nil {
		return Result{Text: content}, err
	}
	if raw == "" {
		return Result{Text: content}, nil
	}

	terms := ParseTerms(raw)
	if len(terms) == 0 {
		return Result{Text: content}, nil
	}

	replacement, err := settings.Replacement(ctx, f.store)
	if err != nil {
		return Result{Text: content}, err
	}

	text, n := Replace(content, terms, html.EscapeString(replacement))
	return Result{Text: text, Replacements: n, Terms: len(terms)}, nil
}
