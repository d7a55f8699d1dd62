// Package queryset implements the outstanding-query set: questions the
// engine is asking on the host's behalf, each with its own linear retry
// schedule and answer callback.
package queryset

import (
	"time"

	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/wire"
)

// Action is the post-callback action an AnswerFunc returns, modeled as a
// return value rather than letting the callback mutate the set directly:
// the engine applies the action after the callback returns, avoiding
// iterator-invalidation hazards from re-entrant calls during iteration.
type Action int

const (
	Keep Action = iota
	Remove
)

// AnswerFunc is invoked once per matching cached record, and once more
// with ttl=0 when a matching record expires or receives a goodbye.
type AnswerFunc func(rr wire.ResourceRecord) Action

// Key identifies a query by name and type.
type Key struct {
	Name wire.Name
	Type protocol.RecordType
}

// Query is one outstanding question.
type Query struct {
	Key
	NextTry  time.Time
	Tries    uint8
	AnswerCB AnswerFunc
}

// Set is the query set, keyed by (name, type). Registering the same key
// twice replaces the callback without disturbing retry state.
type Set struct {
	queries map[Key]*Query
}

// New returns an empty Set.
func New() *Set {
	return &Set{queries: make(map[Key]*Query)}
}

// Register finds or creates the query for key. If it already exists,
// only the callback is replaced; NextTry/Tries are left untouched. If
// newly created, nextTry should be computed by the caller (engine) from
// the earliest matching cache entry, or now if there is none.
func (s *Set) Register(key Key, nextTryIfNew time.Time, cb AnswerFunc) *Query {
	if q, ok := s.queries[key]; ok {
		q.AnswerCB = cb
		return q
	}
	q := &Query{Key: key, NextTry: nextTryIfNew, AnswerCB: cb}
	s.queries[key] = q
	return q
}

// Unregister removes the query for key. Cached records it referenced are
// not touched; they simply lose their back-link.
func (s *Set) Unregister(key Key) {
	delete(s.queries, key)
}

// Get returns the query for key, if any.
func (s *Set) Get(key Key) (*Query, bool) {
	q, ok := s.queries[key]
	return q, ok
}

// Due returns every query whose NextTry is at or before now.
func (s *Set) Due(now time.Time) []*Query {
	var out []*Query
	for _, q := range s.queries {
		if !q.NextTry.After(now) {
			out = append(out, q)
		}
	}
	return out
}

// Advance applies the linear backoff schedule (1s, 2s, 3s keyed by
// tries) after a question for q has just been sent.
// After tries reaches protocol.MaxQueryTries the query is "satisfied"
// for the round; the caller should recompute NextTry from the
// next-nearest cache expiry rather than calling Advance again.
func (q *Query) Advance(now time.Time) {
	q.Tries++
	q.NextTry = now.Add(time.Duration(q.Tries) * protocol.QueryRetryBase)
}

// Satisfied reports whether q has exhausted its retry budget for this
// round.
func (q *Query) Satisfied() bool {
	return q.Tries >= protocol.MaxQueryTries
}

// EarliestNextTry returns the soonest NextTry among all queries, used by
// the scheduler's next_deadline computation.
func (s *Set) EarliestNextTry() (t time.Time, ok bool) {
	for _, q := range s.queries {
		if !ok || q.NextTry.Before(t) {
			t, ok = q.NextTry, true
		}
	}
	return t, ok
}

// FindMatching returns every query whose name matches and whose type is
// either an exact match or protocol.TypeANY (a wildcard-on-type query).
func (s *Set) FindMatching(name wire.Name, rtype protocol.RecordType) []*Query {
	var out []*Query
	for _, q := range s.queries {
		if q.Name != name {
			continue
		}
		if q.Type == rtype || q.Type == protocol.TypeANY {
			out = append(out, q)
		}
	}
	return out
}

// Apply performs the post-callback action: Remove deletes the query,
// Keep leaves it as-is.
func (s *Set) Apply(key Key, action Action) {
	if action == Remove {
		s.Unregister(key)
	}
}
