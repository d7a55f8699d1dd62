package dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/open62541/gomdns/internal/cache"
	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/publish"
	"github.com/open62541/gomdns/internal/queryset"
	"github.com/open62541/gomdns/internal/scheduler"
	"github.com/open62541/gomdns/internal/wire"
)

func newDeps() Deps {
	return Deps{
		Published: publish.New(),
		Queries:   queryset.New(),
		Cache:     cache.New(nil),
		Scheduler: scheduler.New(protocol.ClassIN, protocol.DefaultFrameSize),
	}
}

func TestConflictDuringProbeInvokesCallbackOnceAndDropsRecord(t *testing.T) {
	d := newDeps()
	conflicts := 0
	rr := wire.ResourceRecord{
		Name: "x._svc._tcp.local.", Class: protocol.ClassIN, TTL: 120,
		Rdata: wire.SRV{Port: 4840, Target: "myhost.local."},
	}
	h := d.Published.PublishUnique(rr, func() { conflicts++ })

	peerSRV := wire.SRV{Port: 9999, Target: "otherhost.local."}
	msg := &wire.Message{
		Header:    wire.Header{},
		Questions: []wire.Question{{Name: "x._svc._tcp.local.", Type: protocol.TypeSRV, Class: protocol.ClassIN}},
		Authorities: []wire.ResourceRecord{
			{Name: "x._svc._tcp.local.", Class: protocol.ClassIN, TTL: 120, Rdata: peerSRV},
		},
	}

	d.Handle(msg, "192.168.1.5", protocol.Port, time.Unix(0, 0))

	if conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", conflicts)
	}
	if _, ok := d.Published.Get(h); ok {
		t.Error("expected record removed after conflict")
	}
}

func TestConflictDuringProbeWinningTieBreakKeepsProbing(t *testing.T) {
	d := newDeps()
	conflicts := 0
	// Our rdata's wire encoding must sort lexicographically later than
	// the peer's for RFC 6762 §8.2.1's tie-break to favor us: a higher
	// SRV port value encodes to a larger byte string at the same offset.
	rr := wire.ResourceRecord{
		Name: "x._svc._tcp.local.", Class: protocol.ClassIN, TTL: 120,
		Rdata: wire.SRV{Port: 9999, Target: "myhost.local."},
	}
	h := d.Published.PublishUnique(rr, func() { conflicts++ })

	peerSRV := wire.SRV{Port: 1, Target: "otherhost.local."}
	msg := &wire.Message{
		Header:    wire.Header{},
		Questions: []wire.Question{{Name: "x._svc._tcp.local.", Type: protocol.TypeSRV, Class: protocol.ClassIN}},
		Authorities: []wire.ResourceRecord{
			{Name: "x._svc._tcp.local.", Class: protocol.ClassIN, TTL: 120, Rdata: peerSRV},
		},
	}

	d.Handle(msg, "192.168.1.5", protocol.Port, time.Unix(0, 0))

	if conflicts != 0 {
		t.Fatalf("conflicts = %d, want 0 (we won the tie-break)", conflicts)
	}
	if _, ok := d.Published.Get(h); !ok {
		t.Error("expected record to survive a won tie-break")
	}
}

func TestKnownAnswerSuppressionSkipsAnswer(t *testing.T) {
	d := newDeps()
	rr := wire.ResourceRecord{
		Name: "foo.local.", Class: protocol.ClassIN, TTL: 120,
		Rdata: wire.PTR{Target: "bar.local."},
	}
	h := d.Published.PublishShared(rr, time.Unix(0, 0))
	d.Published.Move(h, publish.None, time.Unix(0, 0)) // idle, awaiting a question

	msg := &wire.Message{
		Questions: []wire.Question{{Name: "foo.local.", Type: protocol.TypePTR, Class: protocol.ClassIN}},
		Answers: []wire.ResourceRecord{
			{Name: "foo.local.", Class: protocol.ClassIN, TTL: 120, Rdata: wire.PTR{Target: "bar.local."}},
		},
	}

	d.Handle(msg, "192.168.1.5", protocol.Port, time.Unix(0, 0))

	r, _ := d.Published.Get(h)
	if r.Scheduled != publish.None {
		t.Errorf("Scheduled = %v, want None (suppressed, not queued)", r.Scheduled)
	}
}

func TestKnownAnswerWithStaleTTLStillAnswered(t *testing.T) {
	d := newDeps()
	rr := wire.ResourceRecord{
		Name: "foo.local.", Class: protocol.ClassIN, TTL: 120,
		Rdata: wire.PTR{Target: "bar.local."},
	}
	h := d.Published.PublishShared(rr, time.Unix(0, 0))
	d.Published.Move(h, publish.None, time.Unix(0, 0))

	msg := &wire.Message{
		Questions: []wire.Question{{Name: "foo.local.", Type: protocol.TypePTR, Class: protocol.ClassIN}},
		Answers: []wire.ResourceRecord{
			// Known-answer TTL is under half of ours (120/2=60), so RFC
			// 6762 §7.1 says we must still answer to refresh the querier.
			{Name: "foo.local.", Class: protocol.ClassIN, TTL: 50, Rdata: wire.PTR{Target: "bar.local."}},
		},
	}

	d.Handle(msg, "192.168.1.5", protocol.Port, time.Unix(0, 0))

	r, _ := d.Published.Get(h)
	if r.Scheduled == publish.None {
		t.Error("expected record queued despite matching known answer, TTL below half")
	}
}

func TestLegacyUnicastQueryEnqueuesUnicastReply(t *testing.T) {
	d := newDeps()
	rr := wire.ResourceRecord{
		Name: "foo.local.", Class: protocol.ClassIN, TTL: 120,
		Rdata: wire.PTR{Target: "bar.local."},
	}
	h := d.Published.PublishShared(rr, time.Unix(0, 0))
	d.Published.Move(h, publish.None, time.Unix(0, 0))

	msg := &wire.Message{
		Header:    wire.Header{ID: 7},
		Questions: []wire.Question{{Name: "foo.local.", Type: protocol.TypePTR, Class: protocol.ClassIN}},
	}

	d.Handle(msg, "192.168.1.9", 54321, time.Unix(0, 0))

	pkt, ok := d.Scheduler.Drain(time.Unix(0, 0), d.Published, d.Queries)
	if !ok {
		t.Fatal("expected unicast reply packet")
	}
	if pkt.DstAddr != "192.168.1.9" || pkt.DstPort != 54321 {
		t.Errorf("dst = %s:%d, want legacy unicast source", pkt.DstAddr, pkt.DstPort)
	}
}

func TestAnswerInsertsCacheAndInvokesRecvCallback(t *testing.T) {
	var received []wire.ResourceRecord
	d := newDeps()
	d.RecvCallback = func(rr wire.ResourceRecord) { received = append(received, rr) }

	msg := &wire.Message{
		Header: wire.Header{Flags: protocol.FlagQR},
		Answers: []wire.ResourceRecord{
			{Name: "foo.local.", Class: protocol.ClassIN, TTL: 10, Rdata: wire.A{Addr: net.IPv4(10, 0, 0, 1)}},
		},
	}

	d.Handle(msg, "192.168.1.5", protocol.Port, time.Unix(0, 0))

	if len(received) != 1 {
		t.Fatalf("received = %d callbacks, want 1", len(received))
	}
	if d.Cache.Len() != 1 {
		t.Fatalf("cache.Len() = %d, want 1", d.Cache.Len())
	}
}

func TestAnswerConflictingWithPublishedUniqueInvokesCallback(t *testing.T) {
	d := newDeps()
	conflicts := 0
	rr := wire.ResourceRecord{
		Name: "x._svc._tcp.local.", Class: protocol.ClassIN, TTL: 120,
		Rdata: wire.SRV{Port: 4840, Target: "myhost.local."},
	}
	d.Published.PublishUnique(rr, func() { conflicts++ })
	// Fast-forward past probing so the record counts as announced.
	for _, r := range d.Published.FindByNameType("x._svc._tcp.local.", protocol.TypeSRV) {
		r.ProbeCount = 5
	}

	msg := &wire.Message{
		Header: wire.Header{Flags: protocol.FlagQR},
		Answers: []wire.ResourceRecord{
			{Name: "x._svc._tcp.local.", Class: protocol.ClassIN, TTL: 120, Rdata: wire.SRV{Port: 1, Target: "someone-else.local."}},
		},
	}

	d.Handle(msg, "192.168.1.5", protocol.Port, time.Unix(0, 0))

	if conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", conflicts)
	}
}
