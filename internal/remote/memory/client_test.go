package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatsync/internal/remote"
)

type doc struct {
	Kind         string   `json:"kind"`
	Text         string   `json:"text"`
	SenderID     string   `json:"sender_id"`
	Participants []string `json:"participants"`
	Conversation struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"conversation"`
}

func msg(convKind, convID, sender, text string) doc {
	d := doc{Text: text, SenderID: sender}
	d.Conversation.Kind = convKind
	d.Conversation.ID = convID
	return d
}

func TestGetAndNotFound(t *testing.T) {
	ctx := context.Background()
	c := New()
	if _, err := c.Get(ctx, "messages", "nope"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("missing record: err = %v, want ErrNotFound", err)
	}
	if _, err := c.Create(ctx, "messages", "m1", msg("direct", "c1", "alice", "hi")); err != nil {
		t.Fatal(err)
	}
	rec, err := c.Get(ctx, "messages", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "m1" || rec.CreatedAt.IsZero() {
		t.Errorf("record = %+v", rec)
	}
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	c := New()
	var prev time.Time
	for i := 0; i < 100; i++ {
		rec, err := c.Create(ctx, "messages", string(rune('a'+i%26))+string(rune('0'+i/26)), msg("direct", "c1", "alice", "x"))
		if err != nil {
			t.Fatal(err)
		}
		if !rec.CreatedAt.After(prev) {
			t.Fatalf("timestamp %v not after %v", rec.CreatedAt, prev)
		}
		prev = rec.CreatedAt
	}
}

func TestQueryPredicates(t *testing.T) {
	ctx := context.Background()
	c := New()
	seed := []struct {
		id string
		d  doc
	}{
		{"m1", msg("direct", "c1", "alice", "hello world")},
		{"m2", msg("direct", "c1", "bob", "Hello again")},
		{"m3", msg("direct", "c2", "alice", "elsewhere")},
		{"m4", msg("group", "c1", "carol", "group talk")},
	}
	for _, s := range seed {
		if _, err := c.Create(ctx, "messages", s.id, s.d); err != nil {
			t.Fatal(err)
		}
	}

	// Nested Eq pair scopes to one conversation, kind included.
	recs, err := c.Query(ctx, remote.Query{
		Kind: "messages",
		Where: []remote.Predicate{
			remote.Eq("conversation.kind", "direct"),
			remote.Eq("conversation.id", "c1"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("conversation scope matched %d, want 2", len(recs))
	}

	// Neq excludes the sender.
	recs, err = c.Query(ctx, remote.Query{
		Kind:  "messages",
		Where: []remote.Predicate{remote.Neq("sender_id", "alice")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("Neq matched %d, want 2", len(recs))
	}

	// Contains is a case-insensitive substring.
	recs, err = c.Query(ctx, remote.Query{
		Kind:  "messages",
		Where: []remote.Predicate{remote.Contains("text", "hello")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("Contains matched %d, want 2", len(recs))
	}
}

func TestQueryHas(t *testing.T) {
	ctx := context.Background()
	c := New()
	if _, err := c.Create(ctx, "conversations", "c1", doc{Kind: "direct", Participants: []string{"alice", "bob"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create(ctx, "conversations", "c2", doc{Kind: "direct", Participants: []string{"bob", "carol"}}); err != nil {
		t.Fatal(err)
	}

	recs, err := c.Query(ctx, remote.Query{
		Kind:  "conversations",
		Where: []remote.Predicate{remote.Has("participants", "alice")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "c1" {
		t.Errorf("Has matched %+v", recs)
	}
}

func TestQueryAfterOrderLimit(t *testing.T) {
	ctx := context.Background()
	c := New()
	ids := []string{"m1", "m2", "m3", "m4"}
	var cut time.Time
	for i, id := range ids {
		rec, err := c.Create(ctx, "messages", id, msg("direct", "c1", "alice", id))
		if err != nil {
			t.Fatal(err)
		}
		if i == 1 {
			cut = rec.CreatedAt
		}
	}

	recs, err := c.Query(ctx, remote.Query{
		Kind:  "messages",
		Where: []remote.Predicate{remote.After("created_at", cut)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("After matched %d, want 2 (strictly after)", len(recs))
	}

	recs, err = c.Query(ctx, remote.Query{
		Kind:       "messages",
		OrderBy:    "created_at",
		Descending: true,
		Limit:      2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "m4" || recs[1].ID != "m3" {
		t.Errorf("desc limit 2 = %+v", recs)
	}

	n, err := c.Count(ctx, remote.Query{Kind: "messages"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}

func TestUpdateDelete(t *testing.T) {
	ctx := context.Background()
	c := New()
	orig, err := c.Create(ctx, "messages", "m1", msg("direct", "c1", "alice", "v1"))
	if err != nil {
		t.Fatal(err)
	}
	upd, err := c.Update(ctx, "messages", "m1", msg("direct", "c1", "alice", "v2"))
	if err != nil {
		t.Fatal(err)
	}
	if !upd.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("update moved created_at")
	}
	if _, err := c.Update(ctx, "messages", "nope", msg("direct", "c1", "alice", "x")); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("update missing: err = %v", err)
	}
	if err := c.Delete(ctx, "messages", "m1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "messages", "m1"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("double delete: err = %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	c := New()

	events, cancel, err := c.Subscribe(ctx, "messages")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Create(ctx, "messages", "m1", msg("direct", "c1", "alice", "hi")); err != nil {
		t.Fatal(err)
	}
	// Other kinds never reach this subscription.
	if _, err := c.Create(ctx, "conversations", "c1", doc{Kind: "direct"}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Op != remote.OpCreate || ev.Record.ID != "m1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event within 2s")
	}
	select {
	case ev, ok := <-events:
		if ok {
			t.Errorf("unexpected extra event %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	cancel() // idempotent
	if _, ok := <-events; ok {
		t.Errorf("channel still open after cancel")
	}
}
