package model

import "time"

// Kind discriminates direct and group conversations. Messages, markers and
// stream subscriptions all carry the kind alongside the raw id so the two
// namespaces can never collide.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Ref identifies a conversation of either kind.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func DirectRef(id string) Ref { return Ref{Kind: KindDirect, ID: id} }
func GroupRef(id string) Ref  { return Ref{Kind: KindGroup, ID: id} }

func (r Ref) Equal(o Ref) bool { return r.Kind == o.Kind && r.ID == o.ID }

// Key returns the kind-prefixed string form, used for read-marker keys and
// log lines. Never parsed back; Ref stays the identity everywhere else.
func (r Ref) Key() string { return string(r.Kind) + ":" + r.ID }

func (r Ref) IsZero() bool { return r.ID == "" }

type Conversation struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Participants []string  `json:"participants"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	AvatarID     string    `json:"avatar_id"`
	CreatedBy    string    `json:"created_by"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *Conversation) Ref() Ref { return Ref{Kind: c.Kind, ID: c.ID} }

// OtherParticipant returns the participant that is not selfID. Only
// meaningful for direct conversations.
func (c *Conversation) OtherParticipant(selfID string) string {
	for _, id := range c.Participants {
		if id != selfID {
			return id
		}
	}
	return ""
}

// HasParticipant reports whether userID is a member.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Summary is one row of the aggregated conversation list: the conversation
// plus everything the list view renders for it.
type Summary struct {
	Conversation Conversation `json:"conversation"`
	Title        string       `json:"title"`
	AvatarID     string       `json:"avatar_id"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	LastSender   *User        `json:"last_sender,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}
