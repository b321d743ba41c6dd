package model

import "time"

type Message struct {
	ID           string       `json:"id"`
	Conversation Ref          `json:"conversation"`
	SenderID     string       `json:"sender_id"`
	Text         string       `json:"text,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`

	// Sender is resolved through the identity cache for rendering; nil means
	// the profile could not be fetched and the UI shows a placeholder.
	Sender *User `json:"sender,omitempty"`
}

// Empty reports whether the message carries neither text nor attachments.
// Such messages are rejected at the input boundary; the core still tolerates
// them arriving from elsewhere.
func (m *Message) Empty() bool {
	return m.Text == "" && len(m.Attachments) == 0
}
