// Package ws handles the live-preview WebSocket: upgrading HTTP connections,
// tracking active clients and dispatching incoming frames to handlers.
package ws

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/metrics"
	"github.com/whisper/wordfilter/internal/protocol"
)

// Admission errors returned by Accept.
var (
	ErrTooManyConnections = errors.New("ws: too many connections")
	ErrTooManyForSubject  = errors.New("ws: too many connections for subject")
)

// ServerConfig holds tunable parameters for the preview socket.
type ServerConfig struct {
	MaxConnections  int           // hard cap on total connections
	MaxPerSubject   int           // cap per authenticated admin
	MaxMessageBytes int64         // largest accepted data frame
	IdleTimeout     time.Duration // read deadline between frames
	PingInterval    time.Duration // zero disables keep-alive pings
	WriteTimeout    time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections:  1000,
		MaxPerSubject:   8,
		MaxMessageBytes: 1 << 20,
		IdleTimeout:     40 * time.Second,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

// Server upgrades preview requests and runs one read loop per connection.
type Server struct {
	config    ServerConfig
	conns     *ConnectionManager
	onMessage func(conn *Connection, data []byte)
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer creates a Server. onMessage is called from the connection's read
// goroutine for every complete text frame.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	s := &Server{
		config:    config,
		conns:     NewConnectionManager(),
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
	if config.PingInterval > 0 {
		go s.keepAlive()
	}
	return s
}

// Accept upgrades the request, registers the connection under subject and
// starts its read loop. It returns once the handshake has completed.
func (s *Server) Accept(w http.ResponseWriter, r *http.Request, subject string) error {
	select {
	case <-s.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return errors.New("ws: server closed")
	default:
	}

	if err := s.conns.Check(subject, s.config.MaxConnections, s.config.MaxPerSubject); err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, ErrTooManyForSubject) {
			code = http.StatusTooManyRequests
		}
		http.Error(w, err.Error(), code)
		return err
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return fmt.Errorf("ws: upgrade: %w", err)
	}

	c := NewConnection(uuid.New().String(), subject, conn)
	c.writeWait = s.config.WriteTimeout
	if err := s.conns.Admit(c, s.config.MaxConnections, s.config.MaxPerSubject); err != nil {
		// Lost a race with another upgrade since Check.
		_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusPolicyViolation, err.Error())))
		conn.Close()
		return err
	}
	metrics.PreviewConnections.Set(float64(s.conns.Count()))

	hello, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		ConnectionID: c.ID,
	})
	if err == nil {
		err = c.WriteMessage(hello)
	}
	if err != nil {
		log.Warnf("[ws] failed to send connected id=%s: %v", c.ID, err)
	}

	log.Infof("[ws] new connection id=%s subject=%s (total=%d)", c.ID, subject, s.conns.Count())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
	return nil
}

// readLoop reads messages until the client goes away or the server closes.
// Fragmented messages are reassembled up to MaxMessageBytes; control frames,
// including those interleaved between fragments, are answered inline.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	onControl := func(h ws.Header, r io.Reader) error {
		c.Touch()
		return c.handleControl(h, r)
	}
	rd := &wsutil.Reader{
		Source:         c.Conn,
		State:          ws.StateServerSide,
		OnIntermediate: onControl,
	}

	for {
		if s.config.IdleTimeout > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		header, err := rd.NextFrame()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Debugf("[ws] idle timeout id=%s", c.ID)
			}
			return
		}

		// Any frame proves the connection is alive.
		c.Touch()

		if header.OpCode.IsControl() {
			if err := onControl(header, rd); err != nil {
				return
			}
			continue
		}

		data, err := s.readPayload(header, rd)
		if errors.Is(err, errMessageTooLarge) {
			SendError(c, "message_too_large", "message exceeds size limit")
			return
		}
		if err != nil {
			return
		}

		if header.OpCode != ws.OpText || len(data) == 0 {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

var errMessageTooLarge = errors.New("ws: message too large")

// readPayload reads the rest of the message begun by header, following
// continuation frames.
func (s *Server) readPayload(header ws.Header, rd *wsutil.Reader) ([]byte, error) {
	limit := s.config.MaxMessageBytes
	if limit <= 0 {
		return io.ReadAll(rd)
	}
	if header.Length > limit {
		return nil, errMessageTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errMessageTooLarge
	}
	return data, nil
}

// RemoveConnection unregisters and closes c. Safe to call more than once.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.PreviewConnections.Set(float64(s.conns.Count()))
	log.Infof("[ws] connection closed id=%s (total=%d)", c.ID, s.conns.Count())
}


// Connections exposes the registry, for health reporting and tests.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown closes every connection and waits for the read loops to exit.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		log.Info("[ws] shutting down preview socket...")
		close(s.done)
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		s.wg.Wait()
		log.Info("[ws] preview socket stopped, all connections closed")
	})
}
