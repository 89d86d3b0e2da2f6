package moderation

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxDocumentBytes caps the size of a document accepted by the transports.
const MaxDocumentBytes = 1 << 20

// ErrDocumentTooLarge is returned by ValidateDocument for oversized input.
var ErrDocumentTooLarge = fmt.Errorf("document exceeds %d byte limit", MaxDocumentBytes)

// ErrInvalidUTF8 is returned by ValidateDocument for malformed text.
var ErrInvalidUTF8 = errors.New("document contains invalid UTF-8")

// ValidateDocument checks that a document can be filtered. Empty documents
// are valid and pass through the filter unchanged.
func ValidateDocument(text string) error {
	if len(text) > MaxDocumentBytes {
		return ErrDocumentTooLarge
	}
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	return nil
}
