package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

// Search runs bounded message search and user lookup. Message search is
// window-limited: only the most recent window of a conversation is
// scanned, which keeps latency flat on long histories at the cost of never
// finding anything older than the window.
type Search struct {
	store  remote.Store
	window int
}

func NewSearch(store remote.Store, window int) *Search {
	if window <= 0 {
		window = 500
	}
	return &Search{store: store, window: window}
}

// Messages finds messages in one conversation whose text contains the term,
// case-insensitively. Exact whole-word matches rank above substring
// matches; within each rank newest first. An empty term returns nothing.
func (s *Search) Messages(ctx context.Context, ref model.Ref, term string) ([]*model.Message, error) {
	defer logger.DeferLogDuration("search.Messages", time.Now())()
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	recs, err := s.store.Query(ctx, remote.Query{
		Kind:       remote.KindMessages,
		Where:      refPredicates(ref),
		OrderBy:    "created_at",
		Descending: true,
		Limit:      s.window,
	})
	if err != nil {
		return nil, remoteErr("search.Messages", err)
	}

	lower := strings.ToLower(term)
	var exact, partial []*model.Message
	for _, rec := range recs {
		msg, err := decodeMessage(rec)
		if err != nil {
			logger.Errorf("search: skipping undecodable message %s: %v", rec.ID, err)
			continue
		}
		text := strings.ToLower(msg.Text)
		if !strings.Contains(text, lower) {
			continue
		}
		if containsWord(text, lower) {
			exact = append(exact, msg)
		} else {
			partial = append(partial, msg)
		}
	}
	// recs is newest-first already, so both buckets are too.
	return append(exact, partial...), nil
}

// containsWord reports whether word appears in text as a whole word, not
// just a substring of a longer one.
func containsWord(text, word string) bool {
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	}) {
		if w == word {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' ||
		('0' <= r && r <= '9') ||
		('a' <= r && r <= 'z') ||
		('A' <= r && r <= 'Z') ||
		r > 127
}

// userSearchLimit caps each user lookup. Search picks a person from a short
// list; it never enumerates the directory.
const userSearchLimit = 50

// Users finds users whose username or display name contains the term,
// excluding the caller, sorted by username. Both fields are queried
// separately and merged, since the store matches one field per predicate;
// each query and the merged result are capped at userSearchLimit.
func (s *Search) Users(ctx context.Context, selfID, term string) ([]*model.User, error) {
	defer logger.DeferLogDuration("search.Users", time.Now())()
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}

	byUsername, err := s.store.Query(ctx, remote.Query{
		Kind:  remote.KindUsers,
		Where: []remote.Predicate{remote.Contains("username", term)},
		Limit: userSearchLimit,
	})
	if err != nil {
		return nil, remoteErr("search.Users username", err)
	}
	byName, err := s.store.Query(ctx, remote.Query{
		Kind:  remote.KindUsers,
		Where: []remote.Predicate{remote.Contains("display_name", term)},
		Limit: userSearchLimit,
	})
	if err != nil {
		return nil, remoteErr("search.Users display name", err)
	}

	seen := make(map[string]struct{})
	var out []*model.User
	for _, rec := range append(byUsername, byName...) {
		if rec.ID == selfID {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		u, err := decodeUser(rec)
		if err != nil {
			logger.Errorf("search: skipping undecodable user %s: %v", rec.ID, err)
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > userSearchLimit {
		out = out[:userSearchLimit]
	}
	return out, nil
}

// Debouncer coalesces rapid calls into one: each Call replaces the pending
// one, and only the last survives the quiet period. Used to keep keystrokes
// from turning into a query flood.
type Debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	return &Debouncer{delay: delay}
}

// Call schedules fn after the quiet period, cancelling any pending call.
func (d *Debouncer) Call(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels the pending call, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
