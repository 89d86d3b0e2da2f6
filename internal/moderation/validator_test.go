package moderation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"empty", "", nil},
		{"plain", "hello world", nil},
		{"unicode", "Привет, 世界", nil},
		{"at limit", strings.Repeat("a", MaxDocumentBytes), nil},
		{"over limit", strings.Repeat("a", MaxDocumentBytes+1), ErrDocumentTooLarge},
		{"invalid utf8", "bad\xff", ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateDocument() = %v, want %v", err, tt.want)
			}
		})
	}
}
