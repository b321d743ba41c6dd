package chat

import (
	"encoding/json"
	"fmt"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

// Document shapes as stored in the record store. Record id and created_at
// live on the record envelope, not in the document.

type userDoc struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarID    string `json:"avatar_id"`
	Email       string `json:"email"`
}

type convDoc struct {
	Kind         model.Kind `json:"kind"`
	Participants []string   `json:"participants"`
	Name         string     `json:"name,omitempty"`
	Description  string     `json:"description,omitempty"`
	AvatarID     string     `json:"avatar_id,omitempty"`
	CreatedBy    string     `json:"created_by"`
	Active       bool       `json:"active"`
}

type msgDoc struct {
	Conversation model.Ref          `json:"conversation"`
	SenderID     string             `json:"sender_id"`
	Text         string             `json:"text,omitempty"`
	Attachments  []model.Attachment `json:"attachments,omitempty"`
}

func convToDoc(c *model.Conversation) convDoc {
	return convDoc{
		Kind:         c.Kind,
		Participants: c.Participants,
		Name:         c.Name,
		Description:  c.Description,
		AvatarID:     c.AvatarID,
		CreatedBy:    c.CreatedBy,
		Active:       c.Active,
	}
}

func decodeUser(rec remote.Record) (*model.User, error) {
	var d userDoc
	if err := json.Unmarshal(rec.Doc, &d); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", rec.ID, err)
	}
	return &model.User{
		ID:          rec.ID,
		Username:    d.Username,
		DisplayName: d.DisplayName,
		AvatarID:    d.AvatarID,
		Email:       d.Email,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func decodeConversation(rec remote.Record) (*model.Conversation, error) {
	var d convDoc
	if err := json.Unmarshal(rec.Doc, &d); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", rec.ID, err)
	}
	return &model.Conversation{
		ID:           rec.ID,
		Kind:         d.Kind,
		Participants: d.Participants,
		Name:         d.Name,
		Description:  d.Description,
		AvatarID:     d.AvatarID,
		CreatedBy:    d.CreatedBy,
		Active:       d.Active,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func decodeMessage(rec remote.Record) (*model.Message, error) {
	var d msgDoc
	if err := json.Unmarshal(rec.Doc, &d); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", rec.ID, err)
	}
	return &model.Message{
		ID:           rec.ID,
		Conversation: d.Conversation,
		SenderID:     d.SenderID,
		Text:         d.Text,
		Attachments:  d.Attachments,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

// refPredicates scopes a message query to one conversation. Both kind and id
// must match; comparing the id alone would let a direct chat and a group
// with equal raw ids bleed into each other.
func refPredicates(ref model.Ref) []remote.Predicate {
	return []remote.Predicate{
		remote.Eq("conversation.kind", string(ref.Kind)),
		remote.Eq("conversation.id", ref.ID),
	}
}
