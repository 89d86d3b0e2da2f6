package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/metrics"
	"github.com/whisper/wordfilter/internal/moderation"
)

// filterHandler runs one document through the filter. Like the NATS hook it
// fails open: a store outage returns the document unchanged.
func (api *API) filterHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, 2*moderation.MaxDocumentBytes)
	defer r.Body.Close()

	var req FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, moderation.ErrDocumentTooLarge.Error())
			return
		}
		log.Warnf("[filterHandler][%s] failed to decode request body: %v", sID, err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := moderation.ValidateDocument(req.Content); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, moderation.ErrDocumentTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}

	var stats moderation.Stats
	start := time.Now()
	content := api.filter.Apply(moderation.WithStats(r.Context(), &stats), req.Content)
	if stats.Err == nil {
		metrics.ObserveFilter(metrics.SourceHTTP, stats.Replacements, time.Since(start))
	}

	log.Debugf("[filterHandler][%s] replacements=%d", sID, stats.Replacements)
	writeJSON(w, http.StatusOK, FilterResponse{Content: content, Replacements: stats.Replacements})
}
