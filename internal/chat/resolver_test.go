package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote/memory"
)

func TestResolveDirectIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(memory.New())

	first, err := r.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.Kind != model.KindDirect {
		t.Fatalf("kind = %q, want direct", first.Kind)
	}
	if len(first.Participants) != 2 {
		t.Fatalf("participants = %v", first.Participants)
	}

	second, err := r.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeated resolve created a new conversation: %s != %s", second.ID, first.ID)
	}

	// Argument order must not matter.
	swapped, err := r.ResolveDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("swapped resolve: %v", err)
	}
	if swapped.ID != first.ID {
		t.Errorf("swapped resolve created a new conversation: %s != %s", swapped.ID, first.ID)
	}
}

func TestResolveDirectDistinctPairs(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(memory.New())

	ab, err := r.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	ac, err := r.ResolveDirect(ctx, "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if ab.ID == ac.ID {
		t.Errorf("different pairs resolved to the same conversation %s", ab.ID)
	}
}

func TestResolveDirectSelf(t *testing.T) {
	r := NewResolver(memory.New())
	_, err := r.ResolveDirect(context.Background(), "alice", "alice")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("self chat: err = %v, want ErrValidation", err)
	}
}

func TestCreateGroupRequiresName(t *testing.T) {
	r := NewResolver(memory.New())
	_, err := r.CreateGroup(context.Background(), "alice", "", "", "")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("empty name: err = %v, want ErrValidation", err)
	}
}

func TestGroupMembership(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(memory.New())

	g, err := r.CreateGroup(ctx, "alice", "team", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Participants) != 1 || g.Participants[0] != "alice" {
		t.Fatalf("new group participants = %v, want [alice]", g.Participants)
	}

	g, err = r.AddParticipants(ctx, g.ID, "alice", "bob", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Participants) != 3 {
		t.Fatalf("participants = %v", g.Participants)
	}

	// Adding an existing member changes nothing.
	g, err = r.AddParticipants(ctx, g.ID, "bob", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Participants) != 3 {
		t.Errorf("re-add grew the group: %v", g.Participants)
	}

	// Only the creator removes members.
	if _, err := r.RemoveParticipant(ctx, g.ID, "bob", "carol"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-creator remove: err = %v, want ErrPermissionDenied", err)
	}
	if _, err := r.RemoveParticipant(ctx, g.ID, "alice", "alice"); !errors.Is(err, ErrValidation) {
		t.Errorf("remove creator: err = %v, want ErrValidation", err)
	}
	g, err = r.RemoveParticipant(ctx, g.ID, "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if g.HasParticipant("carol") {
		t.Errorf("carol still a member after removal")
	}
	// Removing a non-member is a no-op.
	if _, err := r.RemoveParticipant(ctx, g.ID, "alice", "carol"); err != nil {
		t.Errorf("remove non-member: %v", err)
	}

	// Outsiders cannot add members.
	if _, err := r.AddParticipants(ctx, g.ID, "mallory", "eve"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("outsider add: err = %v, want ErrPermissionDenied", err)
	}
}

func TestGroupLeave(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(memory.New())

	g, err := r.CreateGroup(ctx, "alice", "team", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddParticipants(ctx, g.ID, "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	if err := r.Leave(ctx, g.ID, "alice"); !errors.Is(err, ErrValidation) {
		t.Errorf("creator leave: err = %v, want ErrValidation", err)
	}
	if err := r.Leave(ctx, g.ID, "bob"); err != nil {
		t.Fatalf("bob leave: %v", err)
	}
	g, err = r.Get(ctx, model.GroupRef(g.ID))
	if err != nil {
		t.Fatal(err)
	}
	if g.HasParticipant("bob") {
		t.Errorf("bob still a member after leaving")
	}
	// Leaving twice is harmless.
	if err := r.Leave(ctx, g.ID, "bob"); err != nil {
		t.Errorf("second leave: %v", err)
	}
}

func TestDeleteGroupSoft(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := NewResolver(store)

	g, err := r.CreateGroup(ctx, "alice", "team", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddParticipants(ctx, g.ID, "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteGroup(ctx, g.ID, "bob"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-creator delete: err = %v, want ErrPermissionDenied", err)
	}
	if err := r.DeleteGroup(ctx, g.ID, "alice"); err != nil {
		t.Fatalf("creator delete: %v", err)
	}

	// The record survives with active unset.
	got, err := r.Get(ctx, model.GroupRef(g.ID))
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got.Active {
		t.Errorf("deleted group still active")
	}
}

func TestDeleteDirectErasesHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := NewResolver(store)
	m := NewMessages(store)

	conv, err := r.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"hi", "hello", "bye"} {
		if _, err := m.Send(ctx, conv.Ref(), "alice", text, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.DeleteDirect(ctx, conv.ID, "mallory"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("outsider delete: err = %v, want ErrPermissionDenied", err)
	}
	if err := r.DeleteDirect(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("participant delete: %v", err)
	}
	if _, err := r.Get(ctx, conv.Ref()); !errors.Is(err, ErrNotFound) {
		t.Errorf("conversation still present: err = %v", err)
	}
	if msgs, err := m.Page(ctx, conv.Ref(), "bob", 10, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("history still readable: msgs=%d err=%v", len(msgs), err)
	}
}

func TestClearHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := NewResolver(store)
	m := NewMessages(store)

	conv, err := r.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Send(ctx, conv.Ref(), "alice", "msg", nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.ClearHistory(ctx, conv.Ref(), "mallory"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("outsider clear: err = %v, want ErrPermissionDenied", err)
	}
	if err := r.ClearHistory(ctx, conv.Ref(), "bob"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs, err := m.Page(ctx, conv.Ref(), "bob", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("%d messages survived the clear", len(msgs))
	}
	// The conversation itself stays.
	if _, err := r.Get(ctx, conv.Ref()); err != nil {
		t.Errorf("conversation gone after clear: %v", err)
	}
}

func TestUpdateGroup(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(memory.New())

	g, err := r.CreateGroup(ctx, "alice", "team", "old description", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddParticipants(ctx, g.ID, "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	if _, err := r.UpdateGroup(ctx, g.ID, "bob", "newname", "", nil); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-creator rename: err = %v, want ErrPermissionDenied", err)
	}

	avatar := "avatar-1.png"
	g, err = r.UpdateGroup(ctx, g.ID, "alice", "renamed", "new description", &avatar)
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "renamed" || g.Description != "new description" || g.AvatarID != avatar {
		t.Errorf("update not applied: %+v", g)
	}
}
