package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

// Messages sends and pages message history.
type Messages struct {
	store remote.Store
}

func NewMessages(store remote.Store) *Messages {
	return &Messages{store: store}
}

func (m *Messages) conversation(ctx context.Context, op string, ref model.Ref) (*model.Conversation, error) {
	rec, err := m.store.Get(ctx, remote.KindConversations, ref.ID)
	if err != nil {
		return nil, remoteErr(op, err)
	}
	conv, err := decodeConversation(rec)
	if err != nil {
		return nil, remoteErr(op, err)
	}
	if conv.Kind != ref.Kind {
		return nil, remoteErr(op, remote.ErrNotFound)
	}
	return conv, nil
}

// Send validates and stores a message. A message with no text and no
// attachments is rejected before anything reaches the store; a sender who is
// not a participant gets PermissionDenied.
func (m *Messages) Send(ctx context.Context, ref model.Ref, senderID, text string, attachments []model.Attachment) (*model.Message, error) {
	defer logger.DeferLogDuration("messages.Send", time.Now())()
	msg := &model.Message{
		ID:           uuid.New().String(),
		Conversation: ref,
		SenderID:     senderID,
		Text:         text,
		Attachments:  attachments,
	}
	if msg.Empty() {
		return nil, validationf("a message needs text or at least one attachment")
	}
	conv, err := m.conversation(ctx, "messages.Send", ref)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, permissionf("sender is not a participant")
	}
	rec, err := m.store.Create(ctx, remote.KindMessages, msg.ID, msgDoc{
		Conversation: ref,
		SenderID:     senderID,
		Text:         text,
		Attachments:  attachments,
	})
	if err != nil {
		return nil, remoteErr("messages.Send", err)
	}
	msg.CreatedAt = rec.CreatedAt
	return msg, nil
}

// Page returns one page of a conversation's history in ascending time order.
// offset counts back from the newest message, so offset 0 is the latest page
// and growing offsets walk into older history as the client scrolls up.
func (m *Messages) Page(ctx context.Context, ref model.Ref, userID string, limit, offset int) ([]*model.Message, error) {
	defer logger.DeferLogDuration("messages.Page", time.Now())()
	conv, err := m.conversation(ctx, "messages.Page", ref)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, permissionf("only participants can read messages")
	}
	if limit <= 0 {
		limit = 50
	}
	recs, err := m.store.Query(ctx, remote.Query{
		Kind:       remote.KindMessages,
		Where:      refPredicates(ref),
		OrderBy:    "created_at",
		Descending: true,
		Limit:      limit + offset,
	})
	if err != nil {
		return nil, remoteErr("messages.Page query", err)
	}
	if offset >= len(recs) {
		return nil, nil
	}
	recs = recs[offset:]

	// Newest-first from the store; the page itself reads oldest-first.
	out := make([]*model.Message, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		msg, err := decodeMessage(recs[i])
		if err != nil {
			logger.Errorf("messages: skipping undecodable message %s: %v", recs[i].ID, err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
