// Package pg implements the remote boundary on Postgres: documents live in a
// single JSONB records table and the realtime feed rides LISTEN/NOTIFY. This
// is the self-hosted stand-in for the hosted provider.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/remote"
)

const (
	notifyChannel = "records"
	subBufferSize = 256
)

type Client struct {
	pool *pgxpool.Pool

	mu      sync.RWMutex
	subs    map[string]map[int]chan remote.Event
	nextSub int
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{
		pool: pool,
		subs: make(map[string]map[int]chan remote.Event),
	}
}

func (c *Client) Get(ctx context.Context, kind, id string) (remote.Record, error) {
	defer logger.DeferLogDuration("pg.Get", time.Now())()
	rec := remote.Record{Kind: kind, ID: id}
	err := c.pool.QueryRow(ctx,
		`SELECT doc, created_at FROM records WHERE kind = $1 AND id = $2`,
		kind, id,
	).Scan(&rec.Doc, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.Record{}, remote.ErrNotFound
	}
	if err != nil {
		return remote.Record{}, fmt.Errorf("pg.Get: %w", err)
	}
	return rec, nil
}

func (c *Client) Query(ctx context.Context, q remote.Query) ([]remote.Record, error) {
	defer logger.DeferLogDuration("pg.Query", time.Now())()
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, fmt.Errorf("pg.Query: %w", err)
	}
	sql := `SELECT id, doc, created_at FROM records WHERE ` + where + orderClause(q)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pg.Query query: %w", err)
	}
	defer rows.Close()

	recs := make([]remote.Record, 0, 16)
	for rows.Next() {
		rec := remote.Record{Kind: q.Kind}
		if err := rows.Scan(&rec.ID, &rec.Doc, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg.Query scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.Query rows: %w", err)
	}
	return recs, nil
}

func (c *Client) Count(ctx context.Context, q remote.Query) (int, error) {
	defer logger.DeferLogDuration("pg.Count", time.Now())()
	where, args, err := buildWhere(q)
	if err != nil {
		return 0, fmt.Errorf("pg.Count: %w", err)
	}
	var count int
	err = c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pg.Count: %w", err)
	}
	return count, nil
}

func (c *Client) Create(ctx context.Context, kind, id string, doc any) (remote.Record, error) {
	defer logger.DeferLogDuration("pg.Create", time.Now())()
	raw, err := json.Marshal(doc)
	if err != nil {
		return remote.Record{}, fmt.Errorf("pg.Create marshal: %w", err)
	}
	rec := remote.Record{Kind: kind, ID: id, Doc: raw}
	err = c.pool.QueryRow(ctx,
		`INSERT INTO records (kind, id, doc) VALUES ($1, $2, $3) RETURNING created_at`,
		kind, id, raw,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return remote.Record{}, fmt.Errorf("pg.Create: %w", err)
	}
	c.notify(ctx, remote.Event{Op: remote.OpCreate, Record: rec})
	return rec, nil
}

func (c *Client) Update(ctx context.Context, kind, id string, doc any) (remote.Record, error) {
	defer logger.DeferLogDuration("pg.Update", time.Now())()
	raw, err := json.Marshal(doc)
	if err != nil {
		return remote.Record{}, fmt.Errorf("pg.Update marshal: %w", err)
	}
	rec := remote.Record{Kind: kind, ID: id, Doc: raw}
	err = c.pool.QueryRow(ctx,
		`UPDATE records SET doc = $3 WHERE kind = $1 AND id = $2 RETURNING created_at`,
		kind, id, raw,
	).Scan(&rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.Record{}, remote.ErrNotFound
	}
	if err != nil {
		return remote.Record{}, fmt.Errorf("pg.Update: %w", err)
	}
	c.notify(ctx, remote.Event{Op: remote.OpUpdate, Record: rec})
	return rec, nil
}

func (c *Client) Delete(ctx context.Context, kind, id string) error {
	defer logger.DeferLogDuration("pg.Delete", time.Now())()
	rec := remote.Record{Kind: kind, ID: id}
	err := c.pool.QueryRow(ctx,
		`DELETE FROM records WHERE kind = $1 AND id = $2 RETURNING doc, created_at`,
		kind, id,
	).Scan(&rec.Doc, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("pg.Delete: %w", err)
	}
	c.notify(ctx, remote.Event{Op: remote.OpDelete, Record: rec})
	return nil
}

// notify publishes the event through pg_notify so every listening process
// (including this one) sees it. Failures are logged, not returned: the write
// itself already succeeded.
func (c *Client) notify(ctx context.Context, ev remote.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("pg notify marshal %s/%s: %v", ev.Record.Kind, ev.Record.ID, err)
		return
	}
	if _, err := c.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		logger.Errorf("pg notify %s/%s: %v", ev.Record.Kind, ev.Record.ID, err)
	}
}

// Run listens for record notifications and fans them out to subscribers.
// It reconnects with backoff until ctx ends. Call in its own goroutine.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.listen(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("pg feed: %v (retry in %v)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *Client) listen(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("pg feed listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait: %w", err)
		}
		var ev remote.Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			logger.Errorf("pg feed decode: %v", err)
			continue
		}
		c.publish(ev)
	}
}

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

func (c *Client) publish(ev remote.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subs[ev.Record.Kind] {
		select {
		case ch <- ev:
		default:
			logger.Errorf("pg feed: subscriber buffer full, dropping %s %s/%s",
				ev.Op, ev.Record.Kind, ev.Record.ID)
		}
	}
}

// buildWhere compiles predicates into a WHERE clause over the JSONB doc.
// Field names come from code, never user input; validateField is a guard
// against future misuse, not an injection barrier for untrusted data.
func buildWhere(q remote.Query) (string, []any, error) {
	clauses := []string{"kind = $1"}
	args := []any{q.Kind}
	for _, p := range q.Where {
		if err := validateField(p.Field); err != nil {
			return "", nil, err
		}
		switch p.Cmp {
		case remote.CmpEq:
			args = append(args, stringify(p.Value))
			clauses = append(clauses, fmt.Sprintf("doc #>> '%s' = $%d", docPath(p.Field), len(args)))
		case remote.CmpNeq:
			args = append(args, stringify(p.Value))
			clauses = append(clauses, fmt.Sprintf("(doc #>> '%s') IS DISTINCT FROM $%d", docPath(p.Field), len(args)))
		case remote.CmpHas:
			args = append(args, stringify(p.Value))
			clauses = append(clauses, fmt.Sprintf("doc #> '%s' ? $%d", docPath(p.Field), len(args)))
		case remote.CmpContains:
			s, _ := p.Value.(string)
			args = append(args, s)
			clauses = append(clauses, fmt.Sprintf("doc #>> '%s' ILIKE '%%' || $%d || '%%'", docPath(p.Field), len(args)))
		case remote.CmpAfter:
			t, ok := p.Value.(time.Time)
			if !ok || p.Field != "created_at" {
				return "", nil, fmt.Errorf("after predicate requires created_at and a time value, got %q", p.Field)
			}
			args = append(args, t)
			clauses = append(clauses, fmt.Sprintf("created_at > $%d", len(args)))
		default:
			return "", nil, fmt.Errorf("unknown predicate cmp %d", p.Cmp)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func orderClause(q remote.Query) string {
	dir := " ASC"
	if q.Descending {
		dir = " DESC"
	}
	field := q.OrderBy
	if field == "" || field == "created_at" {
		return ` ORDER BY created_at` + dir
	}
	return fmt.Sprintf(` ORDER BY doc #>> '%s'%s`, docPath(field), dir)
}

// docPath turns "conversation.id" into the #>> path literal {conversation,id}.
func docPath(field string) string {
	return "{" + strings.ReplaceAll(field, ".", ",") + "}"
}

func validateField(field string) error {
	for _, r := range field {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '.' {
			continue
		}
		return fmt.Errorf("invalid predicate field %q", field)
	}
	return nil
}

// stringify matches how #>> renders JSON scalars as text.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
