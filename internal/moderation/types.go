package moderation

// RenderRequest is published to content.render by a host when a document is
// about to be delivered to a viewer.
type RenderRequest struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

// RenderResult is the reply to a RenderRequest. Error is set, and Content
// echoes the request unchanged, when the document was rejected.
type RenderResult struct {
	DocumentID   string `json:"document_id"`
	Content      string `json:"content"`
	Replacements int    `json:"replacements"`
	Error        string `json:"error,omitempty"`
}
