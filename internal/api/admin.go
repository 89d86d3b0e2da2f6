package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/admin"
	"github.com/whisper/wordfilter/internal/auth"
	"github.com/whisper/wordfilter/internal/messaging"
	"github.com/whisper/wordfilter/internal/metrics"
	"github.com/whisper/wordfilter/internal/ratelimit"
	"github.com/whisper/wordfilter/internal/settings"
)

const maxSaveBody = 64 << 10

// settingsHandler returns the current settings together with fresh nonces
// for both forms.
func (api *API) settingsHandler(w http.ResponseWriter, r *http.Request) {
	p, err := api.principal(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if !p.Can(auth.CapManageOptions) {
		writeError(w, http.StatusForbidden, admin.MsgPermissionDenied)
		return
	}

	view, err := api.admin.Settings(r.Context())
	if err != nil {
		log.Errorf("[settingsHandler][%s] failed to load settings: %v", shorten(GetRequestID(r.Context())), err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	var nonces Nonces
	if nonces.SaveWords, err = auth.MakeNonce(p.Subject, admin.ActionSaveWords, api.secret, api.nonceTTL); err == nil {
		nonces.SaveReplacement, err = auth.MakeNonce(p.Subject, admin.ActionSaveReplacement, api.secret, api.nonceTTL)
	}
	if err != nil {
		log.Errorf("[settingsHandler] failed to issue nonce: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to issue nonce")
		return
	}

	writeJSON(w, http.StatusOK, SettingsResponse{View: view, Nonces: nonces})
}

func (api *API) saveWordsHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveWordsRequest
	api.save(w, r, &req, saveAction{
		key:     settings.KeyWordsToFilter,
		action:  admin.ActionSaveWords,
		success: admin.MsgWordsSaved,
		nonce:   func() string { return req.Nonce },
		apply: func(p auth.Principal) error {
			return api.admin.SaveWords(r.Context(), p, req.WordsToFilter)
		},
	})
}

func (api *API) saveOptionsHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveOptionsRequest
	api.save(w, r, &req, saveAction{
		key:     settings.KeyReplacementText,
		action:  admin.ActionSaveReplacement,
		success: admin.MsgReplacementSaved,
		nonce:   func() string { return req.Nonce },
		apply: func(p auth.Principal) error {
			return api.admin.SaveReplacement(r.Context(), p, req.ReplacementText)
		},
	})
}

type saveAction struct {
	key     string // settings key, also the metrics label
	action  string // nonce action
	success string
	nonce   func() string
	apply   func(auth.Principal) error
}

// save runs the shared authenticate, decode, throttle, verify and write
// sequence of both settings forms.
func (api *API) save(w http.ResponseWriter, r *http.Request, body interface{}, a saveAction) {
	sID := shorten(GetRequestID(r.Context()))

	p, err := api.principal(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSaveBody)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		log.Warnf("[saveHandler][%s] failed to decode request body: %v", sID, err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := api.limiter.Allow(r.Context(), p.Subject, ratelimit.RuleSettingsSave)
	if err != nil {
		log.Warnf("[saveHandler][%s] rate limiter unavailable: %v", sID, err)
	}
	if !decision.Allowed {
		metrics.SettingsSaves.WithLabelValues(a.key, metrics.OutcomeRateLimited).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Round(time.Second).Seconds())))
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	if err := auth.VerifyNonce(a.nonce(), p.Subject, a.action, api.secret); err != nil {
		metrics.SettingsSaves.WithLabelValues(a.key, metrics.OutcomeDenied).Inc()
		log.Warnf("[saveHandler][%s] nonce rejected subject=%s action=%s: %v", sID, p.Subject, a.action, err)
		writeError(w, http.StatusForbidden, admin.MsgPermissionDenied)
		return
	}

	if err := a.apply(p); err != nil {
		if errors.Is(err, admin.ErrPermissionDenied) {
			metrics.SettingsSaves.WithLabelValues(a.key, metrics.OutcomeDenied).Inc()
			writeError(w, http.StatusForbidden, admin.MsgPermissionDenied)
			return
		}
		metrics.SettingsSaves.WithLabelValues(a.key, metrics.OutcomeError).Inc()
		log.Errorf("[saveHandler][%s] %v", sID, err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	metrics.SettingsSaves.WithLabelValues(a.key, metrics.OutcomeSaved).Inc()
	api.notifySaved(a.key, p.Subject)
	writeJSON(w, http.StatusOK, MessageResponse{Message: a.success})
}

func (api *API) notifySaved(key, subject string) {
	if api.notifier == nil {
		return
	}
	data, err := json.Marshal(messaging.SettingsChanged{Key: key, Subject: subject, Ts: time.Now().Unix()})
	if err != nil {
		return
	}
	if err := api.notifier.PublishSettingsChanged(data); err != nil {
		log.Warnf("[saveHandler] failed to publish settings change: %v", err)
	}
}
