package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatsync/internal/identity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

// StreamState is the lifecycle of one open conversation view.
type StreamState int32

const (
	StreamIdle StreamState = iota
	StreamLoading
	StreamLive
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamLoading:
		return "loading"
	case StreamLive:
		return "live"
	case StreamClosed:
		return "closed"
	}
	return "unknown"
}

// Streams opens live message views. At most one stream is active per
// Streams instance: opening a conversation tears down the previous
// subscription first, so a quick succession of switches never leaves a
// stale feed delivering into an abandoned view.
type Streams struct {
	store    remote.Store
	feed     remote.Feed
	cache    *identity.Cache
	pageSize int

	mu     sync.Mutex
	active *Stream
}

func NewStreams(store remote.Store, feed remote.Feed, cache *identity.Cache, pageSize int) *Streams {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Streams{store: store, feed: feed, cache: cache, pageSize: pageSize}
}

// Open starts a live view of one conversation: subscribe first, then fetch
// the newest page, so nothing sent during the fetch can slip through the
// gap. Events and fetched records meet in one id-deduplicated, time-ordered
// sequence.
func (ss *Streams) Open(ctx context.Context, ref model.Ref) (*Stream, error) {
	defer logger.DeferLogDuration("streams.Open", time.Now())()
	if ref.IsZero() {
		return nil, validationf("conversation reference required")
	}

	ss.mu.Lock()
	if ss.active != nil {
		ss.active.Close()
		ss.active = nil
	}
	ss.mu.Unlock()

	s := &Stream{
		ref:     ref,
		cache:   ss.cache,
		state:   StreamLoading,
		seen:    make(map[string]struct{}),
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	events, cancel, err := ss.feed.Subscribe(ctx, remote.KindMessages)
	if err != nil {
		return nil, remoteErr("streams.Open subscribe", err)
	}
	s.cancel = cancel
	go s.consume(ctx, events)

	recs, err := ss.store.Query(ctx, remote.Query{
		Kind:       remote.KindMessages,
		Where:      refPredicates(ref),
		OrderBy:    "created_at",
		Descending: true,
		Limit:      ss.pageSize,
	})
	if err != nil {
		s.Close()
		return nil, remoteErr("streams.Open fetch", err)
	}

	s.mu.Lock()
	// Oldest first; events that raced ahead of the fetch are already in
	// s.msgs and the seen map silently drops their fetched twins.
	for i := len(recs) - 1; i >= 0; i-- {
		msg, err := decodeMessage(recs[i])
		if err != nil {
			logger.Errorf("stream: skipping undecodable message %s: %v", recs[i].ID, err)
			continue
		}
		s.insertLocked(ctx, msg)
	}
	s.state = StreamLive
	s.mu.Unlock()
	s.notify()

	ss.mu.Lock()
	ss.active = s
	ss.mu.Unlock()
	return s, nil
}

// Active returns the currently open stream, nil when none is.
func (ss *Streams) Active() *Stream {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.active
}

// Close tears down whatever stream is currently active.
func (ss *Streams) Close() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.active != nil {
		ss.active.Close()
		ss.active = nil
	}
}

// Stream is one conversation's merged view of fetched history and realtime
// events. All methods are safe for concurrent use.
type Stream struct {
	ref   model.Ref
	cache *identity.Cache

	mu     sync.Mutex
	state  StreamState
	msgs   []*model.Message
	seen   map[string]struct{}
	cancel func()

	updates chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *Stream) Ref() model.Ref { return s.ref }

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns the current ordered snapshot, oldest first.
func (s *Stream) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Updates signals after every change to the snapshot. It is a level
// trigger, not a queue: consecutive changes may collapse into one signal,
// and the caller re-reads Messages each time. The channel closes with the
// stream.
func (s *Stream) Updates() <-chan struct{} { return s.updates }

// Close cancels the feed subscription and freezes the snapshot. Idempotent.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StreamClosed
		cancel := s.cancel
		close(s.done)
		close(s.updates)
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

func (s *Stream) consume(ctx context.Context, events <-chan remote.Event) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

// handle filters the broad message feed down to this conversation and folds
// the event into the snapshot.
func (s *Stream) handle(ctx context.Context, ev remote.Event) {
	msg, err := decodeMessage(ev.Record)
	if err != nil {
		logger.Errorf("stream: undecodable event for %s: %v", ev.Record.ID, err)
		return
	}
	if !msg.Conversation.Equal(s.ref) {
		return
	}

	s.mu.Lock()
	if s.state == StreamClosed {
		s.mu.Unlock()
		return
	}
	changed := false
	switch ev.Op {
	case remote.OpCreate:
		changed = s.insertLocked(ctx, msg)
	case remote.OpUpdate:
		changed = s.replaceLocked(ctx, msg)
	case remote.OpDelete:
		changed = s.removeLocked(msg.ID)
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// insertLocked adds a message if its id is new. The common case appends;
// when an event arrives with a timestamp older than the tail the whole
// slice is re-sorted, so delivery order never shows through.
func (s *Stream) insertLocked(ctx context.Context, msg *model.Message) bool {
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	if u, ok := s.cache.Get(ctx, msg.SenderID); ok {
		msg.Sender = u
	}
	n := len(s.msgs)
	s.msgs = append(s.msgs, msg)
	// Not strictly after the tail covers equal timestamps too, where the id
	// tie-break decides the order.
	if n > 0 && !msg.CreatedAt.After(s.msgs[n-1].CreatedAt) {
		sortMessages(s.msgs)
	}
	return true
}

func (s *Stream) replaceLocked(ctx context.Context, msg *model.Message) bool {
	for i, m := range s.msgs {
		if m.ID == msg.ID {
			if u, ok := s.cache.Get(ctx, msg.SenderID); ok {
				msg.Sender = u
			}
			s.msgs[i] = msg
			return true
		}
	}
	return false
}

func (s *Stream) removeLocked(id string) bool {
	for i, m := range s.msgs {
		if m.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			delete(s.seen, id)
			return true
		}
	}
	return false
}

func (s *Stream) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamClosed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// sortMessages orders by creation time, id as the deterministic tie-break.
func sortMessages(msgs []*model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
