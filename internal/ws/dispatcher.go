package ws

import (
	log "github.com/sirupsen/logrus"

	"github.com/whisper/wordfilter/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.PreviewMsg).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It handles ping/pong internally and sends
// structured error responses for malformed or unsupported messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Debugf("[ws] dispatch parse error id=%s: %v", conn.ID, err)
		SendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		send(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Debugf("[ws] unsupported message type=%q id=%s", msgType, conn.ID)
		SendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// Send encodes payload as a server message of msgType and writes it to conn.
// Failures are logged, not returned.
func Send(conn *Connection, msgType string, payload interface{}) {
	send(conn, msgType, payload)
}

// SendError sends a structured error message back to the client.
func SendError(conn *Connection, code, message string) {
	send(conn, protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
}

func send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Errorf("[ws] failed to build %s message id=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Debugf("[ws] failed to send %s message id=%s: %v", msgType, conn.ID, err)
	}
}
