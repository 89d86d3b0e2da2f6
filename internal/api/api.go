// Package api exposes the word filter over HTTP: the content pipeline hook,
// the admin settings endpoints, the live-preview socket, health, metrics and
// the OpenAPI docs.
package api

import (
	_ "embed"
	"errors"
	"net/http"
	"time"

	"github.com/flowchartsman/swaggerui"
	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"

	"github.com/whisper/wordfilter/internal/admin"
	"github.com/whisper/wordfilter/internal/metrics"
	"github.com/whisper/wordfilter/internal/moderation"
	"github.com/whisper/wordfilter/internal/protocol"
	"github.com/whisper/wordfilter/internal/ratelimit"
	"github.com/whisper/wordfilter/internal/ws"
)

//go:embed openapi.yml
var openapiSpec []byte

// SettingsNotifier is told about every successful settings save.
type SettingsNotifier interface {
	PublishSettingsChanged(data []byte) error
}

// Options are the dependencies of an API. Filter, Admin and Secret are
// required; the rest may be left nil.
type Options struct {
	ServiceName string
	Filter      *moderation.Filter
	Admin       *admin.Service
	Secret      string        // JWT and nonce signing key
	NonceTTL    time.Duration // lifetime of issued form nonces
	Limiter     *ratelimit.Limiter
	KafkaWriter *kafka.Writer
	Notifier    SettingsNotifier
	Preview     ws.ServerConfig
}

type API struct {
	ServiceName string

	r        *mux.Router
	kw       *kafka.Writer
	filter   *moderation.Filter
	admin    *admin.Service
	secret   string
	nonceTTL time.Duration
	limiter  *ratelimit.Limiter
	notifier SettingsNotifier
	preview  *ws.Server
	started  time.Time
}

func New(opts Options) (*API, error) {
	if opts.Filter == nil || opts.Admin == nil {
		return nil, errors.New("api: filter and admin service are required")
	}
	if opts.Secret == "" {
		return nil, errors.New("api: signing secret is required")
	}
	if opts.NonceTTL <= 0 {
		opts.NonceTTL = 12 * time.Hour
	}
	if opts.Preview == (ws.ServerConfig{}) {
		opts.Preview = ws.DefaultServerConfig()
	}

	api := API{
		ServiceName: opts.ServiceName,
		r:           mux.NewRouter(),
		kw:          opts.KafkaWriter,
		filter:      opts.Filter,
		admin:       opts.Admin,
		secret:      opts.Secret,
		nonceTTL:    opts.NonceTTL,
		limiter:     opts.Limiter,
		notifier:    opts.Notifier,
		started:     time.Now(),
	}

	dispatcher := ws.NewMessageDispatcher()
	dispatcher.Register(protocol.TypePreview, api.handlePreview)
	api.preview = ws.NewServer(opts.Preview, dispatcher.Dispatch)

	api.endpoints()

	return &api, nil
}

func (api *API) Router() *mux.Router {
	return api.r
}

// Close disconnects every preview client.
func (api *API) Close() {
	api.preview.Shutdown()
}

func (api *API) endpoints() {
	api.r.Use(api.requestIDMiddleware)
	if api.kw != nil {
		api.r.Use(api.loggingMiddleware(api.kw))
	}

	pipeline := api.r.PathPrefix("/api").Subrouter()
	pipeline.Use(api.headerMiddleware)
	pipeline.HandleFunc("/filter", api.filterHandler).Methods(http.MethodPost)

	adm := api.r.PathPrefix("/admin").Subrouter()
	adm.Use(api.headerMiddleware)
	adm.HandleFunc("/settings", api.settingsHandler).Methods(http.MethodGet)
	adm.HandleFunc("/words", api.saveWordsHandler).Methods(http.MethodPost)
	adm.HandleFunc("/options", api.saveOptionsHandler).Methods(http.MethodPost)
	adm.HandleFunc("/preview", api.previewHandler).Methods(http.MethodGet)

	api.r.Handle("/health", api.headerMiddleware(http.HandlerFunc(api.healthHandler))).Methods(http.MethodGet)
	api.r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	api.r.PathPrefix("/swagger/").Handler(http.StripPrefix("/swagger", swaggerui.Handler(openapiSpec)))
}

func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:             "ok",
		Service:            api.ServiceName,
		PreviewConnections: api.preview.Connections().Count(),
		Uptime:             time.Since(api.started).Round(time.Second).String(),
	})
}

// shorten truncates a string to 6 characters if it is longer than 6, appends '...' at the end,
// otherwise it returns the string unchanged.
func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
