// Package protocol defines the JSON frames exchanged over the live-preview
// socket. Every frame is an object whose "type" field names its shape.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frames the editor sends.
const (
	TypePreview = "preview"
	TypePing    = "ping"
)

// Frames the server sends.
const (
	TypeConnected     = "connected"
	TypePreviewResult = "preview_result"
	TypeRateLimited   = "rate_limited"
	TypeError         = "error"
	TypePong          = "pong"
)

// PreviewMsg carries draft text the editor wants filtered. Seq is echoed in
// the result so out-of-order replies can be discarded.
type PreviewMsg struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
	Text string `json:"text"`
}

type PingMsg struct {
	Type string `json:"type"`
}

// ConnectedMsg is the first frame on every socket.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

type PreviewResultMsg struct {
	Type         string `json:"type"`
	Seq          int64  `json:"seq,omitempty"`
	Text         string `json:"text"`
	Replacements int    `json:"replacements"`
}

// RateLimitedMsg tells the editor to hold off for RetryAfter seconds.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMsg struct {
	Type string `json:"type"`
}

var errNoType = errors.New("protocol: missing type")

// clientFrames maps each type the server accepts to its decoder.
var clientFrames = map[string]func([]byte) (interface{}, error){
	TypePreview: decodeAs[PreviewMsg],
	TypePing:    decodeAs[PingMsg],
}

func decodeAs[T any](data []byte) (interface{}, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseClientMessage decodes one frame from the editor and returns its type
// with the matching struct (PreviewMsg or PingMsg). Server-only and unknown
// types are rejected; the type is still returned when it could be read.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", nil, fmt.Errorf("protocol: invalid frame: %w", err)
	}
	if head.Type == "" {
		return "", nil, errNoType
	}

	decode, ok := clientFrames[head.Type]
	if !ok {
		return head.Type, nil, fmt.Errorf("protocol: unknown client message type %q", head.Type)
	}
	msg, err := decode(data)
	if err != nil {
		return head.Type, nil, fmt.Errorf("protocol: decode %s: %w", head.Type, err)
	}
	return head.Type, msg, nil
}

// NewServerMessage encodes payload, which must marshal to a JSON object, with
// "type" set to msgType regardless of what the payload carried.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msgType, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("protocol: %s payload is not an object: %w", msgType, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	fields["type"], _ = json.Marshal(msgType)

	return json.Marshal(fields)
}
