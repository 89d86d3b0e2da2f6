package ws

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single preview client with its associated metadata
// and a write mutex for serializing outbound frames.
type Connection struct {
	ID        string    // connection ID (UUID)
	Subject   string    // authenticated principal that opened the socket
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established
	lastSeen  atomic.Int64
	writeMu   sync.Mutex    // serializes writes to this connection
	writeWait time.Duration // per-write deadline, zero for none
}

// NewConnection wraps an upgraded net.Conn.
func NewConnection(id, subject string, conn net.Conn) *Connection {
	c := &Connection{
		ID:        id,
		Subject:   subject,
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	c.Touch()
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last frame received from the client.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// write runs fn holding the write lock, bounded by the write deadline, so a
// client that stops reading fails the write instead of blocking every writer.
func (c *Connection) write(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeWait > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return fn()
}

// WriteMessage sends one text frame.
func (c *Connection) WriteMessage(data []byte) error {
	return c.write(func() error {
		return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
	})
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	return c.write(func() error {
		return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
	})
}

// handleControl answers a control frame (ping, pong, close). Replies go out
// under the write lock so they cannot interleave with application frames.
func (c *Connection) handleControl(h ws.Header, r io.Reader) error {
	return c.write(func() error {
		return wsutil.ControlFrameHandler(c.Conn, ws.StateServerSide)(h, r)
	})
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager tracks open preview sockets by ID and counts them per
// subject so one admin cannot hold every slot.
type ConnectionManager struct {
	mu       sync.RWMutex
	sockets  map[string]*Connection
	perAdmin map[string]int
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		sockets:  make(map[string]*Connection),
		perAdmin: make(map[string]int),
	}
}

// Add registers conn unconditionally.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.insert(conn)
}

// Admit registers conn unless that would exceed maxTotal sockets overall or
// maxPerSubject for conn.Subject. A limit of zero means unlimited.
func (cm *ConnectionManager) Admit(conn *Connection, maxTotal, maxPerSubject int) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if err := cm.check(conn.Subject, maxTotal, maxPerSubject); err != nil {
		return err
	}
	cm.insert(conn)
	return nil
}

// Check reports whether a new socket for subject would currently be admitted.
func (cm *ConnectionManager) Check(subject string, maxTotal, maxPerSubject int) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.check(subject, maxTotal, maxPerSubject)
}

func (cm *ConnectionManager) check(subject string, maxTotal, maxPerSubject int) error {
	if maxTotal > 0 && len(cm.sockets) >= maxTotal {
		return ErrTooManyConnections
	}
	if maxPerSubject > 0 && cm.perAdmin[subject] >= maxPerSubject {
		return ErrTooManyForSubject
	}
	return nil
}

func (cm *ConnectionManager) insert(conn *Connection) {
	if old, ok := cm.sockets[conn.ID]; ok {
		cm.release(old)
	}
	cm.sockets[conn.ID] = conn
	cm.perAdmin[conn.Subject]++
}

func (cm *ConnectionManager) release(conn *Connection) {
	delete(cm.sockets, conn.ID)
	if cm.perAdmin[conn.Subject]--; cm.perAdmin[conn.Subject] <= 0 {
		delete(cm.perAdmin, conn.Subject)
	}
}

// Remove unregisters the socket with the given ID and closes it. It reports
// false when the ID was not registered.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.sockets[id]
	if ok {
		cm.release(conn)
	}
	cm.mu.Unlock()

	if !ok {
		return false
	}
	conn.Close()
	return true
}

func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.sockets[id]
}

// Count returns the number of open sockets.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.sockets)
}

// CountFor returns the number of open sockets held by subject.
func (cm *ConnectionManager) CountFor(subject string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.perAdmin[subject]
}

// All returns a snapshot that callers may range over while sockets come and
// go.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Connection, 0, len(cm.sockets))
	for _, c := range cm.sockets {
		out = append(out, c)
	}
	return out
}
