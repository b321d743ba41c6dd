// Package memory implements the remote boundary in process memory. It backs
// tests and the gateway's -mem mode, and doubles as the reference semantics
// for the Postgres adapter.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/remote"
)

const subBufferSize = 256

type Client struct {
	mu      sync.RWMutex
	records map[string]map[string]remote.Record // kind -> id -> record
	lastTS  time.Time
	subs    map[string]map[int]chan remote.Event // kind -> sub id -> channel
	nextSub int
}

func New() *Client {
	return &Client{
		records: make(map[string]map[string]remote.Record),
		subs:    make(map[string]map[int]chan remote.Event),
	}
}

func (c *Client) Close() error { return nil }

// nextTimestamp returns a strictly increasing timestamp, so records created
// in one process always order deterministically.
func (c *Client) nextTimestamp() time.Time {
	ts := time.Now().UTC()
	if !ts.After(c.lastTS) {
		ts = c.lastTS.Add(time.Microsecond)
	}
	c.lastTS = ts
	return ts
}

func (c *Client) Get(ctx context.Context, kind, id string) (remote.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[kind][id]
	if !ok {
		return remote.Record{}, remote.ErrNotFound
	}
	return rec, nil
}

func (c *Client) Create(ctx context.Context, kind, id string, doc any) (remote.Record, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return remote.Record{}, fmt.Errorf("memory.Create marshal: %w", err)
	}
	c.mu.Lock()
	if _, ok := c.records[kind]; !ok {
		c.records[kind] = make(map[string]remote.Record)
	}
	rec := remote.Record{Kind: kind, ID: id, CreatedAt: c.nextTimestamp(), Doc: raw}
	c.records[kind][id] = rec
	c.mu.Unlock()

	c.publish(remote.Event{Op: remote.OpCreate, Record: rec})
	return rec, nil
}

func (c *Client) Update(ctx context.Context, kind, id string, doc any) (remote.Record, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return remote.Record{}, fmt.Errorf("memory.Update marshal: %w", err)
	}
	c.mu.Lock()
	rec, ok := c.records[kind][id]
	if !ok {
		c.mu.Unlock()
		return remote.Record{}, remote.ErrNotFound
	}
	rec.Doc = raw
	c.records[kind][id] = rec
	c.mu.Unlock()

	c.publish(remote.Event{Op: remote.OpUpdate, Record: rec})
	return rec, nil
}

func (c *Client) Delete(ctx context.Context, kind, id string) error {
	c.mu.Lock()
	rec, ok := c.records[kind][id]
	if !ok {
		c.mu.Unlock()
		return remote.ErrNotFound
	}
	delete(c.records[kind], id)
	c.mu.Unlock()

	c.publish(remote.Event{Op: remote.OpDelete, Record: rec})
	return nil
}

func (c *Client) Query(ctx context.Context, q remote.Query) ([]remote.Record, error) {
	recs, err := c.match(q)
	if err != nil {
		return nil, err
	}
	sortRecords(recs, q)
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs, nil
}

func (c *Client) Count(ctx context.Context, q remote.Query) (int, error) {
	recs, err := c.match(q)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (c *Client) match(q remote.Query) ([]remote.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []remote.Record
	for _, rec := range c.records[q.Kind] {
		ok, err := matches(rec, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matches(rec remote.Record, where []remote.Predicate) (bool, error) {
	var doc map[string]any
	if len(where) > 0 {
		if err := json.Unmarshal(rec.Doc, &doc); err != nil {
			return false, fmt.Errorf("memory.match decode %s/%s: %w", rec.Kind, rec.ID, err)
		}
	}
	for _, p := range where {
		if !matchOne(rec, doc, p) {
			return false, nil
		}
	}
	return true, nil
}

func matchOne(rec remote.Record, doc map[string]any, p remote.Predicate) bool {
	if p.Cmp == remote.CmpAfter {
		t, ok := p.Value.(time.Time)
		if !ok || p.Field != "created_at" {
			return false
		}
		return rec.CreatedAt.After(t)
	}
	got := fieldValue(doc, p.Field)
	switch p.Cmp {
	case remote.CmpEq:
		return valueEqual(got, p.Value)
	case remote.CmpNeq:
		return !valueEqual(got, p.Value)
	case remote.CmpHas:
		arr, ok := got.([]any)
		if !ok {
			return false
		}
		for _, v := range arr {
			if valueEqual(v, p.Value) {
				return true
			}
		}
		return false
	case remote.CmpContains:
		s, ok := got.(string)
		want, ok2 := p.Value.(string)
		if !ok || !ok2 {
			return false
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(want))
	}
	return false
}

// fieldValue walks a dotted path through nested JSON objects.
func fieldValue(doc map[string]any, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// valueEqual compares a decoded JSON value with a predicate value, tolerating
// the string/bool/float64 types json.Unmarshal produces.
func valueEqual(got, want any) bool {
	switch w := want.(type) {
	case string:
		g, ok := got.(string)
		return ok && g == w
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	case int:
		g, ok := got.(float64)
		return ok && g == float64(w)
	case int64:
		g, ok := got.(float64)
		return ok && g == float64(w)
	case float64:
		g, ok := got.(float64)
		return ok && g == w
	}
	return got == want
}

func sortRecords(recs []remote.Record, q remote.Query) {
	field := q.OrderBy
	if field == "" {
		field = "created_at"
	}
	sort.SliceStable(recs, func(i, j int) bool {
		var less bool
		if field == "created_at" {
			less = recs[i].CreatedAt.Before(recs[j].CreatedAt)
		} else {
			var di, dj map[string]any
			_ = json.Unmarshal(recs[i].Doc, &di)
			_ = json.Unmarshal(recs[j].Doc, &dj)
			si, _ := fieldValue(di, field).(string)
			sj, _ := fieldValue(dj, field).(string)
			less = si < sj
		}
		if q.Descending {
			return !less
		}
		return less
	})
}

// Subscribe registers a per-kind event channel. cancel is idempotent; the
// channel is closed on cancel or context end.
func (c *Client) Subscribe(ctx context.Context, kind string) (<-chan remote.Event, func(), error) {
	ch := make(chan remote.Event, subBufferSize)
	c.mu.Lock()
	if _, ok := c.subs[kind]; !ok {
		c.subs[kind] = make(map[int]chan remote.Event)
	}
	id := c.nextSub
	c.nextSub++
	c.subs[kind][id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs[kind], id)
			close(ch)
			c.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, nil
}

// publish fans the event out under the read lock; cancel closes channels
// under the write lock, so a send can never race a close.
func (c *Client) publish(ev remote.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subs[ev.Record.Kind] {
		select {
		case ch <- ev:
		default:
			logger.Errorf("memory feed: subscriber buffer full, dropping %s %s/%s",
				ev.Op, ev.Record.Kind, ev.Record.ID)
		}
	}
}
