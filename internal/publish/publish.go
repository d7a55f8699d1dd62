// Package publish implements the published-record set: the daemon's own
// shared and unique resource records, their probing state machine, and
// their scheduling-list membership as a single enum field per record,
// rather than true multi-list membership with explicit sibling removal.
package publish

import (
	"sort"
	"time"

	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/wire"
)

// Handle identifies a published record across its lifetime.
type Handle uint64

// Mode distinguishes shared records (no uniqueness claim, e.g. PTR) from
// unique records (must pass probing, e.g. SRV/A).
type Mode int

const (
	Shared Mode = iota
	Unique
)

// ListID names the scheduling reason a record is currently queued for,
// or None if it is idle. A record is in at most one at a time.
type ListID int

const (
	None ListID = iota
	Now
	Pause
	Probe
	PublishList
)

// Record is one published resource record plus its scheduling state.
type Record struct {
	Handle     Handle
	RR         wire.ResourceRecord
	Mode       Mode
	ProbeCount uint8 // meaningful when Mode == Unique; 1..5
	Tries      uint8 // announcement count once published
	LastSentAt time.Time
	NextFireAt time.Time // when the record is next due on its current list
	OnConflict func()
	Scheduled  ListID
	Withdrawn  bool // true once a goodbye has been queued
}

// Announced reports whether the record has cleared probing (Shared
// records always have; Unique records only once ProbeCount reaches 5).
func (r *Record) Announced() bool {
	return r.Mode == Shared || r.ProbeCount >= 5
}

// Set is the published-record set. It is not safe for concurrent use;
// the engine that owns it is single-threaded per the concurrency model.
type Set struct {
	records map[Handle]*Record
	next    Handle
}

// New returns an empty Set.
func New() *Set {
	return &Set{records: make(map[Handle]*Record)}
}

// PublishShared inserts a shared record and enqueues it onto the publish
// list to begin the announcement cadence.
func (s *Set) PublishShared(rr wire.ResourceRecord, now time.Time) Handle {
	s.next++
	h := s.next
	s.records[h] = &Record{
		Handle:     h,
		RR:         rr,
		Mode:       Shared,
		Scheduled:  PublishList,
		NextFireAt: now,
	}
	return h
}

// PublishUnique inserts a unique record at probe_count 1 and enqueues it
// onto the probe list.
func (s *Set) PublishUnique(rr wire.ResourceRecord, onConflict func()) Handle {
	s.next++
	h := s.next
	s.records[h] = &Record{
		Handle:     h,
		RR:         rr,
		Mode:       Unique,
		ProbeCount: 1,
		Scheduled:  Probe,
		OnConflict: onConflict,
	}
	return h
}

// Get returns the record for handle, if it still exists.
func (s *Set) Get(h Handle) (*Record, bool) {
	r, ok := s.records[h]
	return r, ok
}

// Move changes a record's scheduling list membership. Since Scheduled is
// a single field, this is the entire "atomic move" primitive: no
// sibling-list removal is needed because the record was never inserted
// into more than one.
func (s *Set) Move(h Handle, list ListID, fireAt time.Time) {
	if r, ok := s.records[h]; ok {
		r.Scheduled = list
		r.NextFireAt = fireAt
	}
}

// Remove deletes a record outright (used for silent probing-state
// withdrawal and for conflict-drop).
func (s *Set) Remove(h Handle) {
	delete(s.records, h)
}

// Withdraw marks a record for goodbye-then-drop, or removes it silently
// if it is still probing: a record that never finished claiming its name
// has nothing to retract.
func (s *Set) Withdraw(h Handle, now time.Time) {
	r, ok := s.records[h]
	if !ok {
		return
	}
	if r.Mode == Unique && r.ProbeCount < 5 {
		s.Remove(h)
		return
	}
	r.RR.TTL = 0
	r.Withdrawn = true
	s.Move(h, Now, now)
}

// Reannounce is invoked by an rdata setter: if the record has cleared
// probing it is requeued onto the publish list with tries reset to 0,
// restarting the announcement cadence with the new rdata; if it is still
// probing, the new rdata simply takes effect on the next probe tick.
func (s *Set) Reannounce(h Handle, now time.Time) {
	r, ok := s.records[h]
	if !ok || !r.Announced() {
		return
	}
	r.Tries = 0
	s.Move(h, PublishList, now)
}

// InList returns every record currently on list, in map iteration order
// (the scheduler treats list order as insignificant: it only cares
// whether NextFireAt is due).
func (s *Set) InList(list ListID) []*Record {
	var out []*Record
	for _, r := range s.records {
		if r.Scheduled == list {
			out = append(out, r)
		}
	}
	return out
}

// FindByNameType returns every published record matching (name, rtype),
// used by the input dispatcher to answer questions and detect conflicts.
// protocol.TypeANY on rtype matches any type.
func (s *Set) FindByNameType(name wire.Name, rtype protocol.RecordType) []*Record {
	var out []*Record
	for _, r := range s.records {
		if r.RR.Name != name {
			continue
		}
		if rtype != protocol.TypeANY && r.RR.Type() != rtype {
			continue
		}
		out = append(out, r)
	}
	return out
}

// All returns every published record, used for shutdown goodbyes.
func (s *Set) All() []*Record {
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// BuildTXT assembles a TXT record's strings from a key/value map per
// RFC 6763 §6.3: each entry becomes one "key=value" string, sorted by
// key so repeated calls with the same map produce identical wire bytes.
// A nil value publishes a boolean-style "key" attribute with no "=".
func BuildTXT(attrs map[string][]byte) [][]byte {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v := attrs[k]
		if v == nil {
			out = append(out, []byte(k))
			continue
		}
		out = append(out, append([]byte(k+"="), v...))
	}
	return out
}
