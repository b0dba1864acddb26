package protocol

import "strings"

// Delivery status values for a persisted message.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
)

// Validation bounds for inbound chat messages.
const (
	MaxContentLen = 2000
	MaxFileSize   = 300 << 20 // 300 MB
)

// ReplyRef carries a snapshot of the replied-to message so the reference
// stays readable even if the original is later altered.
type ReplyRef struct {
	ID      string `json:"id"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content,omitempty"`
}

// Message is a persisted chat message. ID and Timestamp are assigned by the
// server at persistence time; ID is opaque and immutable once assigned.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp FlexTime  `json:"timestamp"`
	FileURL   string    `json:"fileUrl,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	FileSize  int64     `json:"fileSize,omitempty"`
	FileType  string    `json:"fileType,omitempty"`
	Status    string    `json:"status,omitempty"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
}

// HasAttachment reports whether the message carries a file descriptor.
func (m *Message) HasAttachment() bool {
	return m.FileURL != ""
}

// Displayable reports whether the message should appear in a rendered view.
// Messages with only whitespace content and no attachment are hidden, but
// they are never removed from the merge state.
func (m *Message) Displayable() bool {
	return strings.TrimSpace(m.Content) != "" || m.HasAttachment()
}
