// Package messaging provides a NATS client wrapper for the content pipeline.
// Hosts send documents to the render subject and the filter worker replies
// with the rewritten document.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/moderation"
)

// NATS subjects and queue groups used by the content pipeline.
const (
	SubjectRender   = "content.render"
	QueueRender     = "wordfilter"
	SubjectSettings = "wordfilter.settings.changed" // published after an admin save
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "wordfilter",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("[nats] disconnected: %v", err)
			} else {
				log.Warn("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Infof("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeRender joins the render queue group. Each request is handed to
// handler and its return value is sent back as the reply. Requests published
// without a reply subject are processed and the result dropped.
func (c *NATSClient) SubscribeRender(handler func(data []byte) []byte) error {
	sub, err := c.conn.QueueSubscribe(SubjectRender, QueueRender, func(msg *nats.Msg) {
		reply := handler(msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			log.Errorf("[nats] render reply failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectRender, err)
	}

	c.mu.Lock()
	c.subs[SubjectRender] = sub
	c.mu.Unlock()
	return nil
}

// RequestRender sends a render request and waits for the filter's reply.
func (c *NATSClient) RequestRender(ctx context.Context, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, SubjectRender, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", SubjectRender, err)
	}
	return msg.Data, nil
}

// RenderDocument is RequestRender for hosts working with typed documents. A
// reply carrying an error is returned as an error together with the echoed
// document.
func (c *NATSClient) RenderDocument(ctx context.Context, req moderation.RenderRequest) (moderation.RenderResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return moderation.RenderResult{}, fmt.Errorf("nats render: encode: %w", err)
	}
	reply, err := c.RequestRender(ctx, data)
	if err != nil {
		return moderation.RenderResult{}, err
	}
	var res moderation.RenderResult
	if err := json.Unmarshal(reply, &res); err != nil {
		return moderation.RenderResult{}, fmt.Errorf("nats render: decode reply: %w", err)
	}
	if res.Error != "" {
		return res, fmt.Errorf("nats render: %s", res.Error)
	}
	return res, nil
}

// PublishSettingsChanged announces that a filter setting was saved.
func (c *NATSClient) PublishSettingsChanged(data []byte) error {
	return c.Publish(SubjectSettings, data)
}

// SubscribeSettingsChanged registers a handler for settings change events.
func (c *NATSClient) SubscribeSettingsChanged(handler func(data []byte)) error {
	return c.Subscribe(SubjectSettings, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warnf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warnf("[nats] connection drain: %v", err)
	}

	log.Info("[nats] client closed")
}
