package cache

import (
	"net"
	"testing"
	"time"

	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/wire"
)

func aRecord(name wire.Name, ttl uint32, flush bool) wire.ResourceRecord {
	return wire.ResourceRecord{
		Name:       name,
		Class:      protocol.ClassIN,
		CacheFlush: flush,
		TTL:        ttl,
		Rdata:      wire.A{Addr: net.IPv4(10, 0, 0, 1)},
	}
}

func TestInsertAndLookup(t *testing.T) {
	c := New(nil)
	now := time.Unix(1000, 0)
	c.Insert(aRecord("foo.local.", 10, false), now, nil)

	e, ok := c.Lookup("foo.local.", protocol.TypeA)
	if !ok {
		t.Fatal("expected cache hit")
	}
	want := now.Add(13 * time.Second)
	if !e.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", e.ExpiresAt, want)
	}
}

func TestCacheFlushEvictsSameNameEntries(t *testing.T) {
	c := New(nil)
	now := time.Unix(0, 0)
	c.Insert(aRecord("foo.local.", 10, false), now, nil)
	c.Insert(aRecord("foo.local.", 10, true), now, nil)

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after cache-flush insert", c.Len())
	}
}

func TestGoodbyeEvictsAndDoesNotInsert(t *testing.T) {
	var notified []wire.ResourceRecord
	c := New(func(rr wire.ResourceRecord) { notified = append(notified, rr) })
	now := time.Unix(0, 0)
	c.Insert(aRecord("foo.local.", 10, false), now, nil)
	c.Insert(aRecord("foo.local.", 0, false), now, nil)

	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after goodbye", c.Len())
	}
	if len(notified) != 1 || notified[0].TTL != 0 {
		t.Fatalf("notified = %+v, want one ttl=0 notification", notified)
	}
}

func TestSweepEvictsExpiredAndNotifiesWithTTLZero(t *testing.T) {
	var notified []wire.ResourceRecord
	c := New(func(rr wire.ResourceRecord) { notified = append(notified, rr) })
	start := time.Unix(0, 0)
	c.Insert(aRecord("foo.local.", 10, false), start, nil)

	c.Sweep(start.Add(14 * time.Second))

	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after sweep past deadline", c.Len())
	}
	if len(notified) != 1 || notified[0].TTL != 0 {
		t.Fatalf("notified = %+v, want one ttl=0 notification", notified)
	}
}

func TestLookupANYMatchesAnyType(t *testing.T) {
	c := New(nil)
	now := time.Unix(0, 0)
	c.Insert(aRecord("foo.local.", 10, false), now, nil)

	if _, ok := c.Lookup("foo.local.", protocol.TypeANY); !ok {
		t.Fatal("expected ANY lookup to match A record")
	}
}
