package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/admin"
	"github.com/whisper/wordfilter/internal/auth"
	"github.com/whisper/wordfilter/internal/metrics"
	"github.com/whisper/wordfilter/internal/moderation"
	"github.com/whisper/wordfilter/internal/protocol"
	"github.com/whisper/wordfilter/internal/ratelimit"
	"github.com/whisper/wordfilter/internal/ws"
)

const previewTimeout = 3 * time.Second

func (api *API) previewHandler(w http.ResponseWriter, r *http.Request) {
	p, err := api.principal(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if !p.Can(auth.CapManageOptions) {
		writeError(w, http.StatusForbidden, admin.MsgPermissionDenied)
		return
	}

	if err := api.preview.Accept(w, r, p.Subject); err != nil {
		log.Warnf("[previewHandler][%s] %v", shorten(GetRequestID(r.Context())), err)
	}
}

// handlePreview filters draft text against the saved settings so an admin can
// see the effect of a word list before publishing content.
func (api *API) handlePreview(conn *ws.Connection, msg interface{}) {
	pm, ok := msg.(protocol.PreviewMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), previewTimeout)
	defer cancel()

	decision, err := api.limiter.Allow(ctx, conn.ID, ratelimit.RulePreview)
	if err != nil {
		log.Warnf("[preview] rate limiter unavailable: %v", err)
	}
	if !decision.Allowed {
		ws.Send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(decision.RetryAfter.Round(time.Second).Seconds()),
		})
		return
	}

	if err := moderation.ValidateDocument(pm.Text); err != nil {
		ws.SendError(conn, "invalid_document", err.Error())
		return
	}

	start := time.Now()
	res, err := api.filter.Rewrite(ctx, pm.Text)
	if err != nil {
		log.Errorf("[preview] settings unavailable id=%s: %v", conn.ID, err)
		ws.SendError(conn, "settings_unavailable", "settings could not be read")
		return
	}
	metrics.ObserveFilter(metrics.SourcePreview, res.Replacements, time.Since(start))

	ws.Send(conn, protocol.TypePreviewResult, protocol.PreviewResultMsg{
		Seq:          pm.Seq,
		Text:         res.Text,
		Replacements: res.Replacements,
	})
}
