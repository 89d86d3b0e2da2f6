package api

import (
	"time"

	"github.com/whisper/wordfilter/internal/admin"
)

type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Duration   float64   `json:"duration_sec"`
	Service    string    `json:"service"`
}

type FilterRequest struct {
	Content string `json:"content"`
}

type FilterResponse struct {
	Content      string `json:"content"`
	Replacements int    `json:"replacements"`
}

// Nonces are the per-form tokens a settings page must echo back on save.
type Nonces struct {
	SaveWords       string `json:"saveFilterWords"`
	SaveReplacement string `json:"saveReplacementText"`
}

type SettingsResponse struct {
	admin.View
	Nonces Nonces `json:"nonces"`
}

type SaveWordsRequest struct {
	WordsToFilter string `json:"words_to_filter"`
	Nonce         string `json:"nonce"`
}

type SaveOptionsRequest struct {
	ReplacementText string `json:"replacement_text"`
	Nonce           string `json:"nonce"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status             string `json:"status"`
	Service            string `json:"service,omitempty"`
	PreviewConnections int    `json:"preview_connections"`
	Uptime             string `json:"uptime"`
}
