package engine

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/wire"
)

func TestPublishSharedThenAnnouncePTRUsesCompressedRdata(t *testing.T) {
	e := New(protocol.ClassIN, protocol.DefaultFrameSize)
	now := time.Unix(0, 0)

	owner := wire.Name("_opcua-tcp._tcp.local.")
	h, err := e.PublishShared(owner, protocol.TypePTR, protocol.TTLService, now)
	if err != nil {
		t.Fatalf("PublishShared: %v", err)
	}
	if err := e.SetRdataName(h, "myhost-a._opcua-tcp._tcp.local.", now); err != nil {
		t.Fatalf("SetRdataName: %v", err)
	}

	packet, _, _, ok := e.Drain(now)
	if !ok {
		t.Fatal("expected an announce packet")
	}

	decoded, err := wire.Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Answers) != 1 {
		t.Fatalf("got %d answers, want 1", len(decoded.Answers))
	}
	ptr, ok := decoded.Answers[0].Rdata.(wire.PTR)
	if !ok {
		t.Fatalf("rdata type = %T, want PTR", decoded.Answers[0].Rdata)
	}
	if ptr.Target != "myhost-a._opcua-tcp._tcp.local." {
		t.Errorf("PTR target = %q", ptr.Target)
	}

	// The answer's RDLENGTH follows the header, the uncompressed owner name
	// (one byte longer than its dotted form) and TYPE/CLASS/TTL. The
	// "_opcua-tcp._tcp.local." suffix of the target must be a 2-byte pointer.
	rdlenAt := 12 + len(owner) + 1 + 8
	rdlen := binary.BigEndian.Uint16(packet[rdlenAt : rdlenAt+2])
	if want := len("myhost-a") + 1 + 2; int(rdlen) != want {
		t.Errorf("PTR rdlength = %d, want %d", rdlen, want)
	}
}

func TestQueryCallbackFiresOnTTLZeroExpiry(t *testing.T) {
	e := New(protocol.ClassIN, protocol.DefaultFrameSize)
	start := time.Unix(0, 0)

	packet, err := wire.Encode(&wire.Message{
		Header: wire.Header{Flags: protocol.FlagQR},
		Answers: []wire.ResourceRecord{
			{Name: "foo.local.", Class: protocol.ClassIN, TTL: 10, Rdata: wire.A{Addr: net.IPv4(10, 0, 0, 1)}},
		},
	}, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := e.Feed(packet, "192.168.1.5", protocol.Port, start); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	var notifiedTTL uint32 = 999
	notifications := 0
	e.Query("foo.local.", protocol.TypeA, start, func(rr wire.ResourceRecord) Action {
		notifications++
		notifiedTTL = rr.TTL
		return Keep
	})

	e.Drain(start.Add(14 * time.Second))

	if notifications == 0 {
		t.Fatal("expected at least one callback invocation")
	}
	if notifiedTTL != 0 {
		t.Errorf("last notified TTL = %d, want 0 on expiry", notifiedTTL)
	}
}
