package chat

import (
	"context"
	"testing"
	"time"

	"github.com/chatsync/internal/identity"
	markermem "github.com/chatsync/internal/marker/memory"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote/memory"
)

func newListFixture(t *testing.T) (*memory.Client, *Resolver, *Messages, *Lister, *ReadTracker) {
	t.Helper()
	store := memory.New()
	cache := identity.New(store)
	tracker := NewReadTracker(store, markermem.New())
	return store, NewResolver(store), NewMessages(store), NewLister(store, cache, tracker), tracker
}

func TestListMergesDirectAndGroups(t *testing.T) {
	ctx := context.Background()
	_, r, m, l, _ := newListFixture(t)

	direct, err := r.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	group, err := r.CreateGroup(ctx, "alice", "team", "", "")
	if err != nil {
		t.Fatal(err)
	}

	// Direct got the older traffic, group the newer.
	if _, err := m.Send(ctx, direct.Ref(), "bob", "first", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Send(ctx, group.Ref(), "alice", "second", nil); err != nil {
		t.Fatal(err)
	}

	rows, err := l.ForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Conversation.ID != group.ID {
		t.Errorf("most recent first: got %s, want group %s", rows[0].Conversation.ID, group.ID)
	}
	if rows[0].Title != "team" {
		t.Errorf("group title = %q", rows[0].Title)
	}
	if rows[1].LastMessage == nil || rows[1].LastMessage.Text != "first" {
		t.Errorf("direct last message = %+v", rows[1].LastMessage)
	}
}

func TestListUnreadAndTitles(t *testing.T) {
	ctx := context.Background()
	store, r, m, _, _ := newListFixture(t)

	cache := identity.New(store)
	tracker := NewReadTracker(store, markermem.New())
	l := NewLister(store, cache, tracker)

	profiles := NewProfiles(store, cache)
	bob, err := profiles.Create(ctx, "bob", "Bob B", "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}

	direct, err := r.ResolveDirect(ctx, "alice", bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Send(ctx, direct.Ref(), bob.ID, "ping", nil); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := l.ForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	row := rows[0]
	if row.Title != "Bob B" {
		t.Errorf("direct title = %q, want other participant's label", row.Title)
	}
	if row.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", row.UnreadCount)
	}
	if row.LastSender == nil || row.LastSender.Username != "bob" {
		t.Errorf("last sender = %+v", row.LastSender)
	}
}

func TestListEmptyConversationUsesCreationTime(t *testing.T) {
	ctx := context.Background()
	_, r, m, l, _ := newListFixture(t)

	older, err := r.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	newer, err := r.ResolveDirect(ctx, "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}

	rows, err := l.ForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Conversation.ID != newer.ID || rows[1].Conversation.ID != older.ID {
		t.Errorf("messageless order = [%s %s], want newest created first", rows[0].Conversation.ID, rows[1].Conversation.ID)
	}

	// One message in the older conversation flips the order.
	if _, err := m.Send(ctx, older.Ref(), "bob", "hi", nil); err != nil {
		t.Fatal(err)
	}
	rows, err = l.ForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Conversation.ID != older.ID {
		t.Errorf("conversation with traffic not first")
	}
}

func TestListHidesDeletedGroups(t *testing.T) {
	ctx := context.Background()
	_, r, _, l, _ := newListFixture(t)

	g, err := r.CreateGroup(ctx, "alice", "doomed", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteGroup(ctx, g.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	rows, err := l.ForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("deleted group still listed: %+v", rows)
	}
}

func TestListExcludesForeignConversations(t *testing.T) {
	ctx := context.Background()
	_, r, _, l, _ := newListFixture(t)

	if _, err := r.ResolveDirect(ctx, "bob", "carol"); err != nil {
		t.Fatal(err)
	}
	rows, err := l.ForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("alice sees a conversation she is not in")
	}
}

func TestSortSummariesTieBreaksById(t *testing.T) {
	at := time.Now().UTC()
	row := func(id string, created time.Time, last *model.Message) model.Summary {
		return model.Summary{
			Conversation: model.Conversation{ID: id, Kind: model.KindGroup, CreatedAt: created},
			LastMessage:  last,
		}
	}

	// Identical last-message timestamps fall back to the id.
	rows := []model.Summary{
		row("c-z", at.Add(-time.Hour), &model.Message{ID: "m1", CreatedAt: at}),
		row("c-a", at.Add(-time.Hour), &model.Message{ID: "m2", CreatedAt: at}),
	}
	sortSummaries(rows)
	if rows[0].Conversation.ID != "c-a" || rows[1].Conversation.ID != "c-z" {
		t.Errorf("equal activity order = [%s %s], want [c-a c-z]",
			rows[0].Conversation.ID, rows[1].Conversation.ID)
	}

	// A messageless conversation created at the same instant as another's
	// last message ties with it too.
	rows = []model.Summary{
		row("c-9", at, nil),
		row("c-1", at.Add(-time.Hour), &model.Message{ID: "m3", CreatedAt: at}),
	}
	sortSummaries(rows)
	if rows[0].Conversation.ID != "c-1" || rows[1].Conversation.ID != "c-9" {
		t.Errorf("mixed tie order = [%s %s], want [c-1 c-9]",
			rows[0].Conversation.ID, rows[1].Conversation.ID)
	}

	// Strictly newer activity still wins over any id.
	rows = []model.Summary{
		row("c-a", at.Add(-time.Hour), &model.Message{ID: "m4", CreatedAt: at.Add(-time.Minute)}),
		row("c-z", at.Add(-time.Hour), &model.Message{ID: "m5", CreatedAt: at}),
	}
	sortSummaries(rows)
	if rows[0].Conversation.ID != "c-z" {
		t.Errorf("newest-first order = [%s %s], want c-z first",
			rows[0].Conversation.ID, rows[1].Conversation.ID)
	}
}
