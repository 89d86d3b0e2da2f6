package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/protocol"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// clientConn joins the handshake's buffered reader with the raw connection
// so frames sent right after the upgrade are not lost.
type clientConn struct {
	io.Reader
	io.Writer
}

func dial(t *testing.T, url string) (net.Conn, io.ReadWriter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, br, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	return conn, clientConn{Reader: r, Writer: conn}
}

func readMessage(t *testing.T, conn net.Conn, rw io.ReadWriter) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, op, err := wsutil.ReadServerData(rw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if op != ws.OpText {
		t.Fatalf("expected text frame, got %v", op)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return m
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	d := NewMessageDispatcher()
	d.Register(protocol.TypePreview, func(c *Connection, msg interface{}) {
		pm := msg.(protocol.PreviewMsg)
		Send(c, protocol.TypePreviewResult, protocol.PreviewResultMsg{
			Seq:  pm.Seq,
			Text: strings.ToUpper(pm.Text),
		})
	})

	srv := NewServer(DefaultServerConfig(), d.Dispatch)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = srv.Accept(w, r, "tester")
	}))
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
	})
	return srv, hs
}

func TestServer_PreviewRoundTrip(t *testing.T) {
	srv, hs := newTestServer(t)
	conn, rw := dial(t, hs.URL)

	hello := readMessage(t, conn, rw)
	if hello["type"] != protocol.TypeConnected {
		t.Fatalf("expected %q, got %v", protocol.TypeConnected, hello["type"])
	}
	if id, _ := hello["connection_id"].(string); id == "" {
		t.Fatal("expected a connection_id")
	}
	if got := srv.Connections().Count(); got != 1 {
		t.Errorf("expected 1 connection, got %d", got)
	}

	if err := wsutil.WriteClientText(conn, []byte(`{"type":"preview","seq":4,"text":"hello"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := readMessage(t, conn, rw)
	if res["type"] != protocol.TypePreviewResult {
		t.Fatalf("expected %q, got %v", protocol.TypePreviewResult, res["type"])
	}
	if res["text"] != "HELLO" {
		t.Errorf("expected text HELLO, got %v", res["text"])
	}
	if res["seq"] != float64(4) {
		t.Errorf("expected seq 4, got %v", res["seq"])
	}
}

func TestServer_PingAndErrors(t *testing.T) {
	_, hs := newTestServer(t)
	conn, rw := dial(t, hs.URL)
	readMessage(t, conn, rw) // connected

	tests := []struct {
		name     string
		send     string
		wantType string
		wantCode string
	}{
		{"ping", `{"type":"ping"}`, protocol.TypePong, ""},
		{"garbage", `not json`, protocol.TypeError, "parse_error"},
		{"unknown", `{"type":"subscribe"}`, protocol.TypeError, "parse_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := wsutil.WriteClientText(conn, []byte(tt.send)); err != nil {
				t.Fatalf("write: %v", err)
			}
			m := readMessage(t, conn, rw)
			if m["type"] != tt.wantType {
				t.Fatalf("expected type %q, got %v", tt.wantType, m["type"])
			}
			if tt.wantCode != "" && m["code"] != tt.wantCode {
				t.Errorf("expected code %q, got %v", tt.wantCode, m["code"])
			}
		})
	}
}

func TestServer_RemovesClosedConnection(t *testing.T) {
	srv, hs := newTestServer(t)
	conn, rw := dial(t, hs.URL)
	readMessage(t, conn, rw)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Connections().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection still registered after client close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_MaxConnections(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxConnections = 1
	srv := NewServer(cfg, nil)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = srv.Accept(w, r, "tester")
	}))
	defer func() {
		srv.Shutdown()
		hs.Close()
	}()

	conn, rw := dial(t, hs.URL)
	readMessage(t, conn, rw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http")); err == nil {
		c.Close()
		t.Fatal("expected second dial to be rejected")
	}
}

func TestServer_RejectsOversizedFrame(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxMessageBytes = 16
	srv := NewServer(cfg, func(*Connection, []byte) {
		t.Error("oversized frame reached the handler")
	})
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = srv.Accept(w, r, "tester")
	}))
	defer func() {
		srv.Shutdown()
		hs.Close()
	}()

	conn, rw := dial(t, hs.URL)
	readMessage(t, conn, rw)

	if err := wsutil.WriteClientText(conn, []byte(strings.Repeat("x", 64))); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := readMessage(t, conn, rw)
	if m["code"] != "message_too_large" {
		t.Errorf("expected message_too_large, got %v", m["code"])
	}
}

func TestDispatcher_UnregisteredType(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := NewConnection("c1", "tester", server)
	defer c.Close()

	got := make(chan []byte, 1)
	go func() {
		data, _, err := wsutil.ReadServerData(client)
		if err == nil {
			got <- data
		}
		close(got)
	}()

	NewMessageDispatcher().Dispatch(c, []byte(`{"type":"preview","text":"x"}`))

	select {
	case data := <-got:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if m.Code != "unsupported_type" {
			t.Errorf("expected unsupported_type, got %q", m.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no response from dispatcher")
	}
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	a, _ := net.Pipe()
	b, _ := net.Pipe()

	cm.Add(NewConnection("a", "s", a))
	cm.Add(NewConnection("b", "s", b))

	if cm.Count() != 2 {
		t.Fatalf("expected 2 connections, got %d", cm.Count())
	}
	if cm.Get("a") == nil {
		t.Error("expected to find connection a")
	}
	if !cm.Remove("a") {
		t.Error("expected first remove to succeed")
	}
	if cm.Remove("a") {
		t.Error("expected second remove to report missing")
	}
	if cm.Get("a") != nil {
		t.Error("expected connection a to be gone")
	}
	if len(cm.All()) != 1 {
		t.Errorf("expected 1 connection in snapshot, got %d", len(cm.All()))
	}
	if got := cm.CountFor("s"); got != 1 {
		t.Errorf("CountFor(s) = %d, want 1", got)
	}
	cm.Remove("b")
	if got := cm.CountFor("s"); got != 0 {
		t.Errorf("CountFor(s) after removing all = %d, want 0", got)
	}
}

func TestConnectionManager_Admit(t *testing.T) {
	cm := NewConnectionManager()
	pipe := func() net.Conn { c, _ := net.Pipe(); return c }

	tests := []struct {
		id, subject string
		want        error
	}{
		{"1", "alice", nil},
		{"2", "alice", nil},
		{"3", "alice", ErrTooManyForSubject},
		{"4", "bob", nil},
		{"5", "carol", ErrTooManyConnections},
	}
	for _, tt := range tests {
		err := cm.Admit(NewConnection(tt.id, tt.subject, pipe()), 3, 2)
		if !errors.Is(err, tt.want) {
			t.Errorf("Admit(%s, %s) = %v, want %v", tt.id, tt.subject, err, tt.want)
		}
	}
	if got := cm.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	if err := cm.Check("alice", 0, 0); err != nil {
		t.Errorf("Check with no limits = %v, want nil", err)
	}
}

func TestSweep_DropsSilentConnections(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.PingInterval = 0
	cfg.IdleTimeout = 2 * time.Second
	srv := NewServer(cfg, nil)
	defer srv.Shutdown()

	idleConn, _ := net.Pipe()
	srv.Connections().Add(NewConnection("idle", "s", idleConn))

	liveConn, peer := net.Pipe()
	defer peer.Close()
	go io.Copy(io.Discard, bufio.NewReader(peer))
	live := NewConnection("live", "s", liveConn)
	srv.Connections().Add(live)

	// Sweep a minute from now; only "live" has been heard from since.
	now := time.Now().Add(time.Minute)
	live.lastSeen.Store(now.UnixNano())

	if n := srv.sweep(now); n != 1 {
		t.Errorf("sweep() dropped %d, want 1", n)
	}
	if srv.Connections().Get("idle") != nil {
		t.Error("expected idle connection to be dropped")
	}
	if srv.Connections().Get("live") == nil {
		t.Error("expected live connection to survive")
	}
}

// writeFragments sends payload as a text message split at the given offsets,
// with a ping squeezed between the first two fragments.
func writeFragments(t *testing.T, w io.Writer, payload string, cuts ...int) {
	t.Helper()
	parts := make([]string, 0, len(cuts)+1)
	prev := 0
	for _, cut := range cuts {
		parts = append(parts, payload[prev:cut])
		prev = cut
	}
	parts = append(parts, payload[prev:])

	for i, part := range parts {
		op := ws.OpContinuation
		if i == 0 {
			op = ws.OpText
		}
		fin := i == len(parts)-1
		if err := ws.WriteFrame(w, ws.MaskFrameInPlace(ws.NewFrame(op, fin, []byte(part)))); err != nil {
			t.Fatalf("write fragment %d: %v", i, err)
		}
		if i == 0 {
			if err := ws.WriteFrame(w, ws.MaskFrameInPlace(ws.NewPingFrame(nil))); err != nil {
				t.Fatalf("write ping: %v", err)
			}
		}
	}
}

func TestServer_ReassemblesFragmentedMessage(t *testing.T) {
	_, hs := newTestServer(t)
	conn, rw := dial(t, hs.URL)
	readMessage(t, conn, rw)

	msg := `{"type":"preview","seq":9,"text":"split across frames"}`
	writeFragments(t, conn, msg, 10, 30, 41)

	res := readMessage(t, conn, rw)
	if res["type"] != protocol.TypePreviewResult {
		t.Fatalf("expected %q, got %v", protocol.TypePreviewResult, res["type"])
	}
	if res["text"] != "SPLIT ACROSS FRAMES" {
		t.Errorf("expected the whole message text, got %v", res["text"])
	}
	if res["seq"] != float64(9) {
		t.Errorf("expected seq 9, got %v", res["seq"])
	}
}

func TestServer_RejectsOversizedFragmentedMessage(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxMessageBytes = 16
	srv := NewServer(cfg, func(*Connection, []byte) {
		t.Error("oversized message reached the handler")
	})
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = srv.Accept(w, r, "tester")
	}))
	defer func() {
		srv.Shutdown()
		hs.Close()
	}()

	conn, rw := dial(t, hs.URL)
	readMessage(t, conn, rw)

	// Each fragment fits the limit; the message as a whole does not.
	writeFragments(t, conn, strings.Repeat("x", 40), 10, 20, 30)

	m := readMessage(t, conn, rw)
	if m["code"] != "message_too_large" {
		t.Errorf("expected message_too_large, got %v", m["code"])
	}
}

func TestConnection_WritesGiveUpOnStalledPeer(t *testing.T) {
	// Nobody reads the far end of the pipe, so every write blocks.
	local, peer := net.Pipe()
	defer peer.Close()
	c := NewConnection("stalled", "s", local)
	c.writeWait = 50 * time.Millisecond

	writes := map[string]func() error{
		"ping": c.WritePing,
		"message": func() error {
			return c.WriteMessage([]byte(`{"type":"pong"}`))
		},
		"control reply": func() error {
			h := ws.Header{Fin: true, OpCode: ws.OpPing}
			return c.handleControl(h, strings.NewReader(""))
		},
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			err := write()
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				t.Fatalf("expected a timeout error, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("write took %s", elapsed)
			}
		})
	}
}

func TestSweep_DropsStalledConnection(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.PingInterval = 0
	srv := NewServer(cfg, nil)
	defer srv.Shutdown()

	local, peer := net.Pipe()
	defer peer.Close()
	c := NewConnection("stalled", "s", local)
	c.writeWait = 50 * time.Millisecond
	srv.Connections().Add(c)

	done := make(chan int, 1)
	go func() { done <- srv.sweep(time.Now()) }()

	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("sweep() dropped %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweep blocked on a client that stopped reading")
	}
	if srv.Connections().Get("stalled") != nil {
		t.Error("expected stalled connection to be dropped")
	}
}
