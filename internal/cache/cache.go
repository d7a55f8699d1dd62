// Package cache implements the answered-record cache: peer-announced
// resource records keyed by (name, type), with monotonic-time expiry and
// cache-flush eviction semantics per RFC 6762 §10.2.
package cache

import (
	"time"

	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/wire"
)

// Key identifies a cached record by owner name and type. QTYPE_ANY (255)
// on a lookup matches any type.
type Key struct {
	Name wire.Name
	Type protocol.RecordType
}

// Entry is a cached resource record plus its expiry deadline and an
// optional link back to the query that caused it to be cached.
type Entry struct {
	Record    wire.ResourceRecord
	ExpiresAt time.Time
	QueryKey  *Key // non-nil if a Query(Name, Type) referenced this entry
}

// Cache is the answered-record cache. The engine never calls time.Now()
// internally; every operation here takes an explicit now.
type Cache struct {
	entries map[Key]*Entry
	// onExpire is invoked once per evicted entry during Sweep, with the
	// record rewritten to ttl=0 per the goodbye-notification contract.
	onExpire func(wire.ResourceRecord)
}

// New returns an empty Cache. onExpire, if non-nil, is called for every
// entry the cache evicts via Sweep or an incoming goodbye, so a linked
// query's callback can be notified with ttl=0.
func New(onExpire func(wire.ResourceRecord)) *Cache {
	return &Cache{entries: make(map[Key]*Entry), onExpire: onExpire}
}

// Insert applies RFC 6762 §10.2 insertion semantics:
//  1. a cache-flush record evicts every entry sharing its name first;
//  2. a ttl=0 record is a goodbye: evict the matching entry, don't insert;
//  3. otherwise the record is stored with expires_at = now + ttl/2 + 8s.
//
// queryKey, if non-nil, links the inserted entry back to an outstanding
// query so a later goodbye/expiry can re-notify it.
func (c *Cache) Insert(rr wire.ResourceRecord, now time.Time, queryKey *Key) {
	if rr.CacheFlush {
		c.evictByName(rr.Name)
	}

	key := Key{Name: rr.Name, Type: rr.Type()}

	if rr.TTL == 0 {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
		}
		if c.onExpire != nil {
			c.onExpire(rr)
		}
		return
	}

	c.entries[key] = &Entry{
		Record:    rr,
		ExpiresAt: now.Add(time.Duration(rr.TTL)*time.Second/2 + protocol.CacheExpiryMargin),
		QueryKey:  queryKey,
	}
}

func (c *Cache) evictByName(name wire.Name) {
	for k := range c.entries {
		if k.Name == name {
			delete(c.entries, k)
		}
	}
}

// Lookup returns the cached entry for (name, rtype), if present. A
// query type of protocol.TypeANY matches any cached type for that name.
func (c *Cache) Lookup(name wire.Name, rtype protocol.RecordType) (*Entry, bool) {
	if rtype == protocol.TypeANY {
		for k, e := range c.entries {
			if k.Name == name {
				return e, true
			}
		}
		return nil, false
	}
	e, ok := c.entries[Key{Name: name, Type: rtype}]
	return e, ok
}

// LookupAll returns every cached entry matching (name, rtype) — plural
// because a name may have several PTR targets, for instance.
func (c *Cache) LookupAll(name wire.Name, rtype protocol.RecordType) []*Entry {
	var out []*Entry
	for k, e := range c.entries {
		if k.Name != name {
			continue
		}
		if rtype != protocol.TypeANY && k.Type != rtype {
			continue
		}
		out = append(out, e)
	}
	return out
}

// EarliestExpiry returns the soonest ExpiresAt among all entries, used by
// the scheduler to compute next_deadline. ok is false if the cache is
// empty.
func (c *Cache) EarliestExpiry() (t time.Time, ok bool) {
	for _, e := range c.entries {
		if !ok || e.ExpiresAt.Before(t) {
			t, ok = e.ExpiresAt, true
		}
	}
	return t, ok
}

// Sweep evicts every entry whose ExpiresAt is at or before now, invoking
// onExpire (with the record rewritten to ttl=0) for each. A received
// ttl=0 goodbye does not wait for Sweep: Insert evicts and notifies it
// immediately.
func (c *Cache) Sweep(now time.Time) {
	for k, e := range c.entries {
		if !e.ExpiresAt.After(now) {
			delete(c.entries, k)
			if c.onExpire != nil {
				expired := e.Record
				expired.TTL = 0
				c.onExpire(expired)
			}
		}
	}
}

// Len reports the number of cached entries, for tests and diagnostics.
func (c *Cache) Len() int { return len(c.entries) }
