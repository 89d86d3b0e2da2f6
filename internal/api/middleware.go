package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/auth"
	"github.com/whisper/wordfilter/internal/logger"
)

type ctxKeyRequestID struct{}

var RequestIDKey = ctxKeyRequestID{}

const HeaderRequestID = "X-Request-Id"

const kafkaWriteTimeout = 5 * time.Second

// GetRequestID returns the request ID stored by requestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func (api *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
			log.Debugf("[requestIDMiddleware] generated request ID:%s for %v", reqID, r.RemoteAddr)
		}

		w.Header().Set(HeaderRequestID, reqID)
		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (api *API) headerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (api *API) loggingMiddleware(kWriter *kafka.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := logger.New(w)
			defer func() {
				// Everything read from r is copied here; the goroutine must not
				// touch the request once the handler has returned.
				entry := LogEntry{
					Timestamp:  time.Now(),
					IP:         getClientIP(r),
					StatusCode: lw.Status(),
					RequestID:  GetRequestID(r.Context()),
					Method:     r.Method,
					Path:       r.URL.Path,
					Duration:   time.Since(start).Seconds(),
					Service:    api.ServiceName,
				}
				go shipLogEntry(kWriter, entry)
			}()

			next.ServeHTTP(lw, r)
		})
	}
}

func shipLogEntry(kWriter *kafka.Writer, entry LogEntry) {
	jsonEntry, err := json.Marshal(entry)
	if err != nil {
		log.Errorf("[LoggingMiddleware] failed to marshal log entry for request %s", entry.RequestID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()
	err = kWriter.WriteMessages(ctx, kafka.Message{Key: []byte(entry.RequestID), Value: jsonEntry})
	if err != nil {
		log.Errorf("[LoggingMiddleware] failed to write log to Kafka: %v", err)
		return
	}
	log.Debugf("[LoggingMiddleware] log entry sent to Kafka request_id:%s", entry.RequestID)
}

// principal authenticates the bearer token on r. Browsers cannot set headers
// on a WebSocket handshake, so the preview also accepts ?access_token=.
func (api *API) principal(r *http.Request) (auth.Principal, error) {
	token, err := auth.GetBearerToken(r.Header)
	if err != nil {
		if qt := r.URL.Query().Get("access_token"); qt != "" && r.URL.Path == "/admin/preview" {
			token = qt
		} else {
			return auth.Anonymous, err
		}
	}
	return auth.ValidateJWT(token, api.secret)
}

func getClientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}

	return ip
}
