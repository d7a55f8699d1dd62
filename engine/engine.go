// Package engine is the public API surface of the mDNS engine: a
// single-threaded, cooperative state machine that parses and emits
// RFC 1035 wire-format DNS messages, maintains a cache of peer-announced
// records, maintains the host's own published records through probing
// and announcement, and drives outbound queries.
//
// The engine never reads the clock itself. Every operation that depends
// on time takes an explicit monotonic time.Time from the host, making it
// deterministic and testable. The engine performs no internal locking;
// the host is responsible for serializing calls to Feed, Drain,
// NextDeadline, and the publish/query/withdraw operations.
package engine

import (
	"net"
	"time"

	"github.com/open62541/gomdns/internal/cache"
	"github.com/open62541/gomdns/internal/dispatch"
	gomdnserrors "github.com/open62541/gomdns/internal/errors"
	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/publish"
	"github.com/open62541/gomdns/internal/queryset"
	"github.com/open62541/gomdns/internal/scheduler"
	"github.com/open62541/gomdns/internal/wire"
)

// Handle identifies a published record across its lifetime.
type Handle = publish.Handle

// AnswerFunc is a query's answer callback; see queryset.AnswerFunc.
type AnswerFunc = queryset.AnswerFunc

// Action is the post-callback action an AnswerFunc returns.
type Action = queryset.Action

// Keep and Remove are the post-callback actions an AnswerFunc returns.
const (
	Keep   = queryset.Keep
	Remove = queryset.Remove
)

// BuildTXT assembles a TXT record's strings from a key/value map; see
// publish.BuildTXT.
var BuildTXT = publish.BuildTXT

// Engine is the mDNS protocol engine. The zero value is not usable; use
// New.
type Engine struct {
	class     protocol.DNSClass
	published *publish.Set
	queries   *queryset.Set
	cache     *cache.Cache
	scheduler *scheduler.Scheduler
	recvCB    func(wire.ResourceRecord)
	shutdown  bool
}

// New returns an engine using class (RFC 1035 §3.2.4; ordinarily
// protocol.ClassIN) and bounding emitted packets to frameSize bytes.
func New(class protocol.DNSClass, frameSize int) *Engine {
	e := &Engine{
		class:     class,
		published: publish.New(),
		queries:   queryset.New(),
	}
	e.cache = cache.New(e.onCacheExpire)
	e.scheduler = scheduler.New(class, frameSize)
	return e
}

func (e *Engine) onCacheExpire(rr wire.ResourceRecord) {
	for _, q := range e.queries.FindMatching(rr.Name, rr.Type()) {
		if q.AnswerCB == nil {
			continue
		}
		action := q.AnswerCB(rr)
		e.queries.Apply(q.Key, action)
	}
}

// Feed hands the engine a received datagram. A malformed datagram is
// dropped and reported as a *errors.ParseError; engine state is
// otherwise untouched. Feed may synchronously invoke PublishUnique's
// on_conflict callback, a Query's answer callback, and the receive
// callback set by SetRecvCallback.
func (e *Engine) Feed(packet []byte, srcAddr string, srcPort int, now time.Time) error {
	msg, err := wire.Decode(packet)
	if err != nil {
		return err
	}
	deps := dispatch.Deps{
		Published:    e.published,
		Queries:      e.queries,
		Cache:        e.cache,
		Scheduler:    e.scheduler,
		RecvCallback: e.recvCB,
	}
	deps.Handle(msg, srcAddr, srcPort, now)
	return nil
}

// Drain returns the next outbound packet, if any. Call it in a loop
// until ok is false. Each call also sweeps the answered-record cache for
// expired entries, so a ttl=0 notification reaches a registered query
// within one drain cycle.
func (e *Engine) Drain(now time.Time) (packet []byte, dstAddr string, dstPort int, ok bool) {
	e.cache.Sweep(now)
	pkt, ok := e.scheduler.Drain(now, e.published, e.queries)
	if !ok {
		return nil, "", 0, false
	}
	return pkt.Bytes, pkt.DstAddr, pkt.DstPort, true
}

// NextDeadline returns how long the host may sleep before calling Drain
// again.
func (e *Engine) NextDeadline(now time.Time) time.Duration {
	return e.scheduler.NextDeadline(now, e.published, e.queries, e.cache)
}

func placeholderRdata(rtype protocol.RecordType) wire.Rdata {
	switch rtype {
	case protocol.TypeA:
		return wire.A{Addr: net.IPv4zero}
	case protocol.TypePTR:
		return wire.PTR{}
	case protocol.TypeCNAME:
		return wire.CNAME{}
	case protocol.TypeNS:
		return wire.NS{}
	case protocol.TypeSRV:
		return wire.SRV{}
	case protocol.TypeTXT:
		return wire.TXT{}
	default:
		return wire.Raw{Type: rtype}
	}
}

// PublishShared publishes a shared record (e.g. a PTR record, for which
// multiple peers may legitimately advertise the same name) and enqueues
// it to begin the announcement cadence.
func (e *Engine) PublishShared(name wire.Name, rtype protocol.RecordType, ttl uint32, now time.Time) (Handle, error) {
	if e.shutdown {
		return 0, &gomdnserrors.InvalidArgumentError{Operation: "PublishShared", Message: "engine is shut down"}
	}
	rr := wire.ResourceRecord{Name: name, Class: e.class, TTL: ttl, Rdata: placeholderRdata(rtype)}
	return e.published.PublishShared(rr, now), nil
}

// PublishUnique publishes a unique record (e.g. SRV or A) and begins
// probing. onConflict is invoked at most once, the first time a peer's
// conflicting candidate is observed during probing or after
// announcement; the record is dropped immediately afterward.
func (e *Engine) PublishUnique(name wire.Name, rtype protocol.RecordType, ttl uint32, onConflict func()) (Handle, error) {
	if e.shutdown {
		return 0, &gomdnserrors.InvalidArgumentError{Operation: "PublishUnique", Message: "engine is shut down"}
	}
	rr := wire.ResourceRecord{Name: name, Class: e.class, TTL: ttl, Rdata: placeholderRdata(rtype)}
	return e.published.PublishUnique(rr, onConflict), nil
}

func (e *Engine) setRdata(h Handle, expect protocol.RecordType, rd wire.Rdata, now time.Time) error {
	r, ok := e.published.Get(h)
	if !ok {
		return &gomdnserrors.InvalidArgumentError{Operation: "SetRdata", Message: "unknown record handle"}
	}
	if r.RR.Type() != expect {
		return &gomdnserrors.InvalidArgumentError{Operation: "SetRdata", Message: "rdata type does not match the record's declared type"}
	}
	r.RR.Rdata = rd
	e.published.Reannounce(h, now)
	return nil
}

// SetRdataA sets the rdata of an A record and triggers re-announcement.
func (e *Engine) SetRdataA(h Handle, addr net.IP, now time.Time) error {
	return e.setRdata(h, protocol.TypeA, wire.A{Addr: addr}, now)
}

// SetRdataName sets the rdata of a PTR, CNAME, or NS record.
func (e *Engine) SetRdataName(h Handle, target wire.Name, now time.Time) error {
	r, ok := e.published.Get(h)
	if !ok {
		return &gomdnserrors.InvalidArgumentError{Operation: "SetRdataName", Message: "unknown record handle"}
	}
	switch r.RR.Type() {
	case protocol.TypePTR:
		return e.setRdata(h, protocol.TypePTR, wire.PTR{Target: target}, now)
	case protocol.TypeCNAME:
		return e.setRdata(h, protocol.TypeCNAME, wire.CNAME{Target: target}, now)
	case protocol.TypeNS:
		return e.setRdata(h, protocol.TypeNS, wire.NS{Target: target}, now)
	default:
		return &gomdnserrors.InvalidArgumentError{Operation: "SetRdataName", Message: "record is not a name-valued type"}
	}
}

// SetRdataSRV sets the rdata of a SRV record.
func (e *Engine) SetRdataSRV(h Handle, priority, weight, port uint16, target wire.Name, now time.Time) error {
	return e.setRdata(h, protocol.TypeSRV, wire.SRV{Priority: priority, Weight: weight, Port: port, Target: target}, now)
}

// SetRdataTXT sets the rdata of a TXT record.
func (e *Engine) SetRdataTXT(h Handle, strings [][]byte, now time.Time) error {
	return e.setRdata(h, protocol.TypeTXT, wire.TXT{Strings: strings}, now)
}

// SetRdataRaw sets the rdata of a record whose type the codec does not
// decode structurally.
func (e *Engine) SetRdataRaw(h Handle, rtype protocol.RecordType, data []byte, now time.Time) error {
	return e.setRdata(h, rtype, wire.Raw{Type: rtype, Data: data}, now)
}

// Withdraw removes a published record, emitting a goodbye (ttl=0) first
// unless it is still probing, in which case it is dropped silently.
func (e *Engine) Withdraw(h Handle, now time.Time) error {
	if _, ok := e.published.Get(h); !ok {
		return &gomdnserrors.InvalidArgumentError{Operation: "Withdraw", Message: "unknown record handle"}
	}
	e.published.Withdraw(h, now)
	return nil
}

// Query registers an outstanding question. cb is invoked once per
// already-cached matching record immediately, and again for every future
// matching answer or expiry. Registering the same (name, type) again
// replaces the callback without disturbing retry state.
func (e *Engine) Query(name wire.Name, rtype protocol.RecordType, now time.Time, cb AnswerFunc) {
	key := queryset.Key{Name: name, Type: rtype}
	matching := e.cache.LookupAll(name, rtype)

	nextTry := now
	for i, entry := range matching {
		if i == 0 || entry.ExpiresAt.Before(nextTry) {
			nextTry = entry.ExpiresAt
		}
	}
	e.queries.Register(key, nextTry, cb)

	for _, entry := range matching {
		if cb == nil {
			continue
		}
		action := cb(entry.Record)
		e.queries.Apply(key, action)
	}
}

// Published returns the handles of every published record matching
// (name, rtype); protocol.TypeANY matches any type. Used by callers that
// published a record without keeping its handle around, e.g. after a
// restart-free reconfiguration.
func (e *Engine) Published(name wire.Name, rtype protocol.RecordType) []Handle {
	matches := e.published.FindByNameType(name, rtype)
	out := make([]Handle, len(matches))
	for i, r := range matches {
		out[i] = r.Handle
	}
	return out
}

// QueryCancel unregisters a query. Cached records it referenced remain
// cached but lose their back-link.
func (e *Engine) QueryCancel(name wire.Name, rtype protocol.RecordType) {
	e.queries.Unregister(queryset.Key{Name: name, Type: rtype})
}

// SetRecvCallback installs the callback invoked for every answer record
// Feed processes, regardless of whether it matches an outstanding query.
func (e *Engine) SetRecvCallback(cb func(wire.ResourceRecord)) {
	e.recvCB = cb
}

// Shutdown marks every published record ttl=0 and schedules goodbyes.
// Further PublishShared/PublishUnique calls fail with InvalidArgumentError.
func (e *Engine) Shutdown(now time.Time) {
	e.shutdown = true
	for _, r := range e.published.All() {
		e.published.Withdraw(r.Handle, now)
	}
}
