package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessage_Preview(t *testing.T) {
	input := []byte(`{"type":"preview","seq":7,"text":"This is BAD."}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePreview {
		t.Fatalf("expected type %q, got %q", TypePreview, msgType)
	}

	pm, ok := msg.(PreviewMsg)
	if !ok {
		t.Fatalf("expected PreviewMsg, got %T", msg)
	}
	if pm.Seq != 7 {
		t.Errorf("expected seq 7, got %d", pm.Seq)
	}
	if pm.Text != "This is BAD." {
		t.Errorf("expected text %q, got %q", "This is BAD.", pm.Text)
	}
}

func TestParseClientMessage_Ping(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePing {
		t.Fatalf("expected type %q, got %q", TypePing, msgType)
	}
	if _, ok := msg.(PingMsg); !ok {
		t.Fatalf("expected PingMsg, got %T", msg)
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		contains string
	}{
		{"invalid json", `{not json`, "", "invalid frame"},
		{"missing type", `{"text":"hi"}`, "", "missing type"},
		{"empty type", `{"type":""}`, "", "missing type"},
		{"unknown type", `{"type":"find_match"}`, "find_match", "unknown client message type"},
		{"server only type", `{"type":"pong"}`, "pong", "unknown client message type"},
		{"bad payload", `{"type":"preview","text":42}`, "preview", "decode preview"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("expected error containing %q, got %v", tt.contains, err)
			}
			if msgType != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, msgType)
			}
			if msg != nil {
				t.Errorf("expected nil message, got %T", msg)
			}
		})
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypePreviewResult, PreviewResultMsg{
		Seq:          3,
		Text:         "This is ***.",
		Replacements: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != TypePreviewResult {
		t.Errorf("expected type %q, got %v", TypePreviewResult, got["type"])
	}
	if got["text"] != "This is ***." {
		t.Errorf("expected text %q, got %v", "This is ***.", got["text"])
	}
	if got["replacements"] != float64(1) {
		t.Errorf("expected replacements 1, got %v", got["replacements"])
	}
}

func TestNewServerMessage_OverridesType(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Type: "bogus", Code: "c", Message: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got ErrorMsg
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != TypeError {
		t.Errorf("expected type %q, got %q", TypeError, got.Type)
	}
}

func TestNewServerMessage_RejectsBadPayloads(t *testing.T) {
	for _, payload := range []interface{}{make(chan int), "just a string", []int{1}} {
		if _, err := NewServerMessage(TypeError, payload); err == nil {
			t.Errorf("NewServerMessage(%T) returned nil error", payload)
		}
	}
}
