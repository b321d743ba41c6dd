package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
	"github.com/chatsync/internal/remote/memory"
)

// countingStore counts remote calls; used to assert validation happens
// before anything goes over the wire.
type countingStore struct {
	remote.Store
	calls atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, kind, id string) (remote.Record, error) {
	c.calls.Add(1)
	return c.Store.Get(ctx, kind, id)
}

func (c *countingStore) Create(ctx context.Context, kind, id string, doc any) (remote.Record, error) {
	c.calls.Add(1)
	return c.Store.Create(ctx, kind, id, doc)
}

func TestSendEmptyRejectedBeforeRemote(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	conv, err := NewResolver(store).ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	counting := &countingStore{Store: store}
	m := NewMessages(counting)

	_, err = m.Send(ctx, conv.Ref(), "alice", "", nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("empty send: err = %v, want ErrValidation", err)
	}
	if n := counting.calls.Load(); n != 0 {
		t.Errorf("empty send reached the store %d times", n)
	}
}

func TestSendAttachmentOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	conv, err := NewResolver(store).ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	m := NewMessages(store)

	att := model.Attachment{FileID: "f1", FileName: "photo.png", FileSize: 1024, MimeType: "image/png"}
	msg, err := m.Send(ctx, conv.Ref(), "alice", "", []model.Attachment{att})
	if err != nil {
		t.Fatalf("attachment-only send: %v", err)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].FileID != "f1" {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
}

func TestSendRequiresMembership(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	conv, err := NewResolver(store).ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	m := NewMessages(store)

	_, err = m.Send(ctx, conv.Ref(), "mallory", "hi", nil)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("outsider send: err = %v, want ErrPermissionDenied", err)
	}
}

func TestPage(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	conv, err := NewResolver(store).ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	m := NewMessages(store)

	for i := 0; i < 7; i++ {
		if _, err := m.Send(ctx, conv.Ref(), "alice", fmt.Sprintf("m%d", i), nil); err != nil {
			t.Fatal(err)
		}
	}

	// Newest page first, ascending inside the page.
	page, err := m.Page(ctx, conv.Ref(), "bob", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := texts(page); fmt.Sprint(got) != "[m4 m5 m6]" {
		t.Errorf("latest page = %v", got)
	}

	page, err = m.Page(ctx, conv.Ref(), "bob", 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := texts(page); fmt.Sprint(got) != "[m1 m2 m3]" {
		t.Errorf("second page = %v", got)
	}

	// Walking past the start yields the remainder, then nothing.
	page, err = m.Page(ctx, conv.Ref(), "bob", 3, 6)
	if err != nil {
		t.Fatal(err)
	}
	if got := texts(page); fmt.Sprint(got) != "[m0]" {
		t.Errorf("last page = %v", got)
	}
	page, err = m.Page(ctx, conv.Ref(), "bob", 3, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 0 {
		t.Errorf("page past history = %v", texts(page))
	}

	// Non-participants cannot read.
	if _, err := m.Page(ctx, conv.Ref(), "mallory", 3, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("outsider page: err = %v, want ErrPermissionDenied", err)
	}
}

func texts(msgs []*model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
