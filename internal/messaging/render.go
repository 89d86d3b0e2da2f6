package messaging

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/metrics"
	"github.com/whisper/wordfilter/internal/moderation"
)

// SettingsChanged is the payload published on SubjectSettings.
type SettingsChanged struct {
	Key     string `json:"key"`
	Subject string `json:"subject"`
	Ts      int64  `json:"ts"`
}

// NewRenderHandler returns a SubscribeRender handler that runs each
// moderation.RenderRequest through filter and encodes a
// moderation.RenderResult reply. Invalid documents are echoed back with
// Error set; store outages pass the document through unchanged.
func NewRenderHandler(filter moderation.ContentTransformer, timeout time.Duration) func(data []byte) []byte {
	return func(data []byte) []byte {
		var req moderation.RenderRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warnf("[hook] failed to unmarshal render request: %v", err)
			return encodeResult(moderation.RenderResult{Error: "invalid request"})
		}

		res := moderation.RenderResult{
			DocumentID: req.DocumentID,
			Content:    req.Content,
		}

		if err := moderation.ValidateDocument(req.Content); err != nil {
			log.Warnf("[hook] rejected document=%s: %v", req.DocumentID, err)
			res.Error = err.Error()
			return encodeResult(res)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var stats moderation.Stats
		start := time.Now()
		res.Content = filter.Apply(moderation.WithStats(ctx, &stats), req.Content)
		if stats.Err != nil {
			log.Warnf("[hook] passed document=%s through unfiltered", req.DocumentID)
			return encodeResult(res)
		}
		metrics.ObserveFilter(metrics.SourceNATS, stats.Replacements, time.Since(start))

		res.Replacements = stats.Replacements
		log.Debugf("[hook] document=%s replacements=%d", req.DocumentID, stats.Replacements)
		return encodeResult(res)
	}
}

func encodeResult(res moderation.RenderResult) []byte {
	data, err := json.Marshal(res)
	if err != nil {
		// RenderResult holds only strings and ints.
		log.Errorf("[hook] failed to marshal render result: %v", err)
		return nil
	}
	return data
}
