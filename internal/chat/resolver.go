package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

// Resolver finds or creates conversations and owns group membership rules.
type Resolver struct {
	store remote.Store
}

func NewResolver(store remote.Store) *Resolver {
	return &Resolver{store: store}
}

// pairOf returns the unordered pair in a canonical order; the sorted pair is
// the dedup identity of a direct conversation.
func pairOf(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// ResolveDirect returns the unique direct conversation between selfID and
// otherID, creating it when none exists. Repeated calls in either argument
// order return the same conversation.
//
// The record store cannot express "participant set equals" as a query, so
// the resolver fetches every direct conversation selfID belongs to and
// compares participant sets client-side. Two concurrent first resolutions
// for the same pair can therefore both create a conversation; the store has
// no transactional find-or-create. When a later scan sees the duplicates it
// settles on the oldest and logs the conflict; it never merges or deletes.
func (r *Resolver) ResolveDirect(ctx context.Context, selfID, otherID string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("resolver.ResolveDirect", time.Now())()
	if selfID == "" || otherID == "" {
		return nil, validationf("both participant ids are required")
	}
	if selfID == otherID {
		return nil, validationf("cannot start a conversation with yourself")
	}
	lo, hi := pairOf(selfID, otherID)

	recs, err := r.store.Query(ctx, remote.Query{
		Kind: remote.KindConversations,
		Where: []remote.Predicate{
			remote.Eq("kind", string(model.KindDirect)),
			remote.Has("participants", selfID),
		},
	})
	if err != nil {
		return nil, remoteErr("resolver.ResolveDirect query", err)
	}

	var found *model.Conversation
	matched := 0
	for _, rec := range recs {
		c, err := decodeConversation(rec)
		if err != nil {
			logger.Errorf("resolver: skipping undecodable conversation: %v", err)
			continue
		}
		if len(c.Participants) != 2 {
			continue
		}
		clo, chi := pairOf(c.Participants[0], c.Participants[1])
		if clo != lo || chi != hi {
			continue
		}
		matched++
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if matched > 1 {
		// Duplicate pair from a past create race; keep the oldest.
		logger.Errorf("resolver: %v: %d direct conversations for pair (%s,%s), using %s",
			ErrConflict, matched, lo, hi, found.ID)
	}
	if found != nil {
		return found, nil
	}

	conv := &model.Conversation{
		ID:           uuid.New().String(),
		Kind:         model.KindDirect,
		Participants: []string{lo, hi},
		CreatedBy:    selfID,
		Active:       true,
	}
	rec, err := r.store.Create(ctx, remote.KindConversations, conv.ID, convToDoc(conv))
	if err != nil {
		return nil, remoteErr("resolver.ResolveDirect create", err)
	}
	conv.CreatedAt = rec.CreatedAt
	return conv, nil
}

// CreateGroup creates a group with the creator as the only member.
func (r *Resolver) CreateGroup(ctx context.Context, creatorID, name, description, avatarID string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("resolver.CreateGroup", time.Now())()
	if creatorID == "" {
		return nil, validationf("creator id is required")
	}
	if name == "" {
		return nil, validationf("group name is required")
	}
	conv := &model.Conversation{
		ID:           uuid.New().String(),
		Kind:         model.KindGroup,
		Participants: []string{creatorID},
		Name:         name,
		Description:  description,
		AvatarID:     avatarID,
		CreatedBy:    creatorID,
		Active:       true,
	}
	rec, err := r.store.Create(ctx, remote.KindConversations, conv.ID, convToDoc(conv))
	if err != nil {
		return nil, remoteErr("resolver.CreateGroup", err)
	}
	conv.CreatedAt = rec.CreatedAt
	return conv, nil
}

// Get loads a conversation by reference. A record of the wrong kind is
// treated as absent, not as a type error.
func (r *Resolver) Get(ctx context.Context, ref model.Ref) (*model.Conversation, error) {
	rec, err := r.store.Get(ctx, remote.KindConversations, ref.ID)
	if err != nil {
		return nil, remoteErr("resolver.Get", err)
	}
	conv, err := decodeConversation(rec)
	if err != nil {
		return nil, remoteErr("resolver.Get", err)
	}
	if conv.Kind != ref.Kind {
		return nil, remoteErr("resolver.Get", remote.ErrNotFound)
	}
	return conv, nil
}

func (r *Resolver) getGroup(ctx context.Context, groupID string) (*model.Conversation, error) {
	return r.Get(ctx, model.GroupRef(groupID))
}

func (r *Resolver) updateGroup(ctx context.Context, op string, conv *model.Conversation) error {
	if _, err := r.store.Update(ctx, remote.KindConversations, conv.ID, convToDoc(conv)); err != nil {
		return remoteErr(op, err)
	}
	return nil
}

// AddParticipants adds members to a group. Any member may add; adding an
// existing member is a no-op.
func (r *Resolver) AddParticipants(ctx context.Context, groupID, actorID string, userIDs ...string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("resolver.AddParticipants", time.Now())()
	conv, err := r.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actorID) {
		return nil, permissionf("only members can add participants")
	}
	changed := false
	for _, id := range userIDs {
		if id == "" || conv.HasParticipant(id) {
			continue
		}
		conv.Participants = append(conv.Participants, id)
		changed = true
	}
	if !changed {
		return conv, nil
	}
	if err := r.updateGroup(ctx, "resolver.AddParticipants", conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// RemoveParticipant removes a member. Creator-only; removing a non-member is
// a no-op, removing the creator is rejected (the creator is always a member).
func (r *Resolver) RemoveParticipant(ctx context.Context, groupID, actorID, userID string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("resolver.RemoveParticipant", time.Now())()
	conv, err := r.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if actorID != conv.CreatedBy {
		return nil, permissionf("only the creator can remove participants")
	}
	if userID == conv.CreatedBy {
		return nil, validationf("the creator cannot be removed from the group")
	}
	if !conv.HasParticipant(userID) {
		return conv, nil
	}
	conv.Participants = without(conv.Participants, userID)
	if err := r.updateGroup(ctx, "resolver.RemoveParticipant", conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Leave removes the caller from a group. The creator cannot leave.
func (r *Resolver) Leave(ctx context.Context, groupID, userID string) error {
	defer logger.DeferLogDuration("resolver.Leave", time.Now())()
	conv, err := r.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if userID == conv.CreatedBy {
		return validationf("the creator cannot leave the group")
	}
	if !conv.HasParticipant(userID) {
		return nil
	}
	conv.Participants = without(conv.Participants, userID)
	return r.updateGroup(ctx, "resolver.Leave", conv)
}

// UpdateGroup renames a group and/or changes its description and avatar.
// Creator-only. Empty name keeps the old one; an all-empty update is a no-op.
func (r *Resolver) UpdateGroup(ctx context.Context, groupID, actorID, name, description string, avatarID *string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("resolver.UpdateGroup", time.Now())()
	conv, err := r.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if actorID != conv.CreatedBy {
		return nil, permissionf("only the creator can update the group")
	}
	if name != "" {
		conv.Name = name
	}
	if description != "" {
		conv.Description = description
	}
	if avatarID != nil {
		conv.AvatarID = *avatarID
	}
	if err := r.updateGroup(ctx, "resolver.UpdateGroup", conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// DeleteGroup soft-deletes: the record stays with active=false and the group
// disappears from every list. Creator-only; the store is the final
// authority, this check just fails fast.
func (r *Resolver) DeleteGroup(ctx context.Context, groupID, actorID string) error {
	defer logger.DeferLogDuration("resolver.DeleteGroup", time.Now())()
	conv, err := r.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if actorID != conv.CreatedBy {
		return permissionf("only the creator can delete the group")
	}
	conv.Active = false
	return r.updateGroup(ctx, "resolver.DeleteGroup", conv)
}

// DeleteDirect hard-deletes a direct conversation and its history. Any
// participant may do it.
func (r *Resolver) DeleteDirect(ctx context.Context, convID, actorID string) error {
	defer logger.DeferLogDuration("resolver.DeleteDirect", time.Now())()
	conv, err := r.Get(ctx, model.DirectRef(convID))
	if err != nil {
		return err
	}
	if !conv.HasParticipant(actorID) {
		return permissionf("only participants can delete the conversation")
	}
	if err := r.ClearHistory(ctx, conv.Ref(), actorID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, remote.KindConversations, convID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return remoteErr("resolver.DeleteDirect", err)
	}
	return nil
}

// ClearHistory deletes every message of a conversation. Any member may clear.
func (r *Resolver) ClearHistory(ctx context.Context, ref model.Ref, actorID string) error {
	defer logger.DeferLogDuration("resolver.ClearHistory", time.Now())()
	conv, err := r.Get(ctx, ref)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(actorID) {
		return permissionf("only members can clear history")
	}
	recs, err := r.store.Query(ctx, remote.Query{
		Kind:  remote.KindMessages,
		Where: refPredicates(ref),
	})
	if err != nil {
		return remoteErr("resolver.ClearHistory query", err)
	}
	var firstErr error
	for _, rec := range recs {
		if err := r.store.Delete(ctx, remote.KindMessages, rec.ID); err != nil && !errors.Is(err, remote.ErrNotFound) {
			logger.Errorf("clearHistory delete %s: %v", rec.ID, err)
			if firstErr == nil {
				firstErr = remoteErr("resolver.ClearHistory delete", err)
			}
		}
	}
	return firstErr
}

func without(ids []string, drop string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
