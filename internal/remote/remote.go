// Package remote defines the boundary to the hosted backend: a document
// store queried by kind and predicates, and a realtime feed of record
// events. The feed is deliberately broad (per record kind, never per
// conversation): scoping to a conversation is always a client-side filter,
// because the underlying transport cannot be assumed to filter server-side.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Record kinds stored by the collaborator.
const (
	KindUsers         = "users"
	KindConversations = "conversations"
	KindMessages      = "messages"
)

// ErrNotFound is returned by Get when no record matches. Adapters map their
// native not-found to it; lookup misses are absence, not failures.
var ErrNotFound = errors.New("record not found")

// Record is one stored document. CreatedAt is assigned by the store and is
// monotonic per store, which is what message ordering relies on.
type Record struct {
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Doc       json.RawMessage `json:"doc"`
}

type Cmp int

const (
	// CmpEq matches a document field equal to the value.
	CmpEq Cmp = iota
	// CmpNeq matches a document field different from the value.
	CmpNeq
	// CmpHas matches when an array field contains the value as an element.
	CmpHas
	// CmpContains matches a case-insensitive substring of a string field.
	CmpContains
	// CmpAfter matches records created strictly after the value (time.Time).
	CmpAfter
)

// Predicate is one filter condition. Field addresses document fields, with
// dots for nesting ("conversation.id"). The special field "created_at"
// addresses the record timestamp.
type Predicate struct {
	Field string
	Cmp   Cmp
	Value any
}

func Eq(field string, value any) Predicate { return Predicate{Field: field, Cmp: CmpEq, Value: value} }
func Neq(field string, value any) Predicate {
	return Predicate{Field: field, Cmp: CmpNeq, Value: value}
}
func Has(field string, value string) Predicate {
	return Predicate{Field: field, Cmp: CmpHas, Value: value}
}
func Contains(field string, value string) Predicate {
	return Predicate{Field: field, Cmp: CmpContains, Value: value}
}
func After(field string, t time.Time) Predicate {
	return Predicate{Field: field, Cmp: CmpAfter, Value: t}
}

// Query selects records of one kind. OrderBy defaults to "created_at"
// ascending; Limit of zero means no limit.
type Query struct {
	Kind       string
	Where      []Predicate
	OrderBy    string
	Descending bool
	Limit      int
}

// Store is the record query/mutation capability of the collaborator.
type Store interface {
	Get(ctx context.Context, kind, id string) (Record, error)
	Query(ctx context.Context, q Query) ([]Record, error)
	Count(ctx context.Context, q Query) (int, error)
	Create(ctx context.Context, kind, id string, doc any) (Record, error)
	Update(ctx context.Context, kind, id string, doc any) (Record, error)
	Delete(ctx context.Context, kind, id string) error
}

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is one realtime notification. For deletes the record carries the
// last known document so filters can still inspect it.
type Event struct {
	Op     Op     `json:"op"`
	Record Record `json:"record"`
}

// Feed is the realtime subscription capability. The returned cancel func is
// idempotent and must be called before opening a replacement subscription so
// events never leak across conversation switches.
type Feed interface {
	Subscribe(ctx context.Context, kind string) (<-chan Event, func(), error)
}

// Session is the externally issued identity. The core treats it as an
// opaque user id; issuing and refreshing sessions is the provider's job.
type Session interface {
	CurrentUserID(ctx context.Context) (string, error)
}
