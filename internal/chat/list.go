package chat

import (
	"context"
	"sort"
	"time"

	"github.com/chatsync/internal/identity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

// Lister assembles the sidebar: direct and group conversations merged into
// one list, each row carrying its title, last message and unread count.
type Lister struct {
	store   remote.Store
	cache   *identity.Cache
	tracker *ReadTracker
}

func NewLister(store remote.Store, cache *identity.Cache, tracker *ReadTracker) *Lister {
	return &Lister{store: store, cache: cache, tracker: tracker}
}

// ForUser returns every conversation the user belongs to, most recently
// active first. Soft-deleted groups are filtered at the query; a direct
// conversation has no delete flag and always shows. Recency is the last
// message's timestamp, falling back to the conversation's own creation time
// for empty conversations, with the conversation id breaking exact ties so
// the order is stable across refreshes.
func (l *Lister) ForUser(ctx context.Context, userID string) ([]model.Summary, error) {
	defer logger.DeferLogDuration("list.ForUser", time.Now())()

	directs, err := l.store.Query(ctx, remote.Query{
		Kind: remote.KindConversations,
		Where: []remote.Predicate{
			remote.Eq("kind", string(model.KindDirect)),
			remote.Has("participants", userID),
		},
	})
	if err != nil {
		return nil, remoteErr("list.ForUser direct query", err)
	}
	groups, err := l.store.Query(ctx, remote.Query{
		Kind: remote.KindConversations,
		Where: []remote.Predicate{
			remote.Eq("kind", string(model.KindGroup)),
			remote.Has("participants", userID),
			remote.Eq("active", true),
		},
	})
	if err != nil {
		return nil, remoteErr("list.ForUser group query", err)
	}

	recs := append(directs, groups...)
	out := make([]model.Summary, 0, len(recs))
	for _, rec := range recs {
		conv, err := decodeConversation(rec)
		if err != nil {
			logger.Errorf("list: skipping undecodable conversation %s: %v", rec.ID, err)
			continue
		}
		row, err := l.summarize(ctx, userID, conv)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	sortSummaries(out)
	return out, nil
}

// sortSummaries orders rows most recently active first, conversation id as
// the deterministic tie-break so equal timestamps keep a stable order.
func sortSummaries(rows []model.Summary) {
	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := lastActivity(&rows[i]), lastActivity(&rows[j])
		if ti.Equal(tj) {
			return rows[i].Conversation.ID < rows[j].Conversation.ID
		}
		return ti.After(tj)
	})
}

func (l *Lister) summarize(ctx context.Context, userID string, conv *model.Conversation) (model.Summary, error) {
	row := model.Summary{Conversation: *conv}

	switch conv.Kind {
	case model.KindDirect:
		otherID := conv.OtherParticipant(userID)
		if u, ok := l.cache.Get(ctx, otherID); ok {
			row.Title = u.Label()
			row.AvatarID = u.AvatarID
		} else {
			row.Title = "Unknown user"
		}
	case model.KindGroup:
		row.Title = conv.Name
		row.AvatarID = conv.AvatarID
	}

	last, err := l.store.Query(ctx, remote.Query{
		Kind:       remote.KindMessages,
		Where:      refPredicates(conv.Ref()),
		OrderBy:    "created_at",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return row, remoteErr("list.summarize last message", err)
	}
	if len(last) > 0 {
		msg, err := decodeMessage(last[0])
		if err != nil {
			logger.Errorf("list: undecodable last message in %s: %v", conv.ID, err)
		} else {
			row.LastMessage = msg
			if u, ok := l.cache.Get(ctx, msg.SenderID); ok {
				row.LastSender = u
			}
		}
	}

	unread, err := l.tracker.UnreadCount(ctx, userID, conv.Ref())
	if err != nil {
		// A broken count never hides the conversation, it just shows zero.
		logger.Errorf("list: unread count for %s: %v", conv.ID, err)
		unread = 0
	}
	row.UnreadCount = unread
	return row, nil
}

func lastActivity(s *model.Summary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.Conversation.CreatedAt
}
