// Package protocol defines the wire-level constants shared by the mDNS
// engine's components: the well-known port and multicast group, the
// resource record types and classes the codec understands, header flag
// bit positions, name-grammar limits, default TTLs, and the timing
// constants that drive probing and announcing.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 1035 (DNS), RFC 6762 (Multicast DNS).
package protocol

import (
	"strconv"
	"time"
)

// Network constants per RFC 6762 §5.
const (
	// Port is the mDNS UDP port, used for both multicast and legacy
	// unicast queries.
	Port = 5353

	// MulticastAddrIPv4 is the mDNS IPv4 multicast group.
	MulticastAddrIPv4 = "224.0.0.251"

	// MulticastTTL is the IP TTL mDNS senders must use per RFC 6762 §11.
	MulticastTTL = 255
)

// RecordType is a DNS resource record type per RFC 1035 §3.2.2.
type RecordType uint16

// Record types understood by the wire codec's typed rdata decoders.
// Any other type round-trips as opaque (Raw) rdata.
const (
	TypeA     RecordType = 1
	TypeNS    RecordType = 2
	TypeCNAME RecordType = 5
	TypePTR   RecordType = 12
	TypeTXT   RecordType = 16
	TypeSRV   RecordType = 33
	TypeANY   RecordType = 255
)

// String returns the conventional mnemonic for a record type, or "TYPE<n>"
// for one the codec does not decode structurally.
func (rt RecordType) String() string {
	switch rt {
	case TypeA:
		return "A"
	case TypeNS:
		return "NS"
	case TypeCNAME:
		return "CNAME"
	case TypePTR:
		return "PTR"
	case TypeTXT:
		return "TXT"
	case TypeSRV:
		return "SRV"
	case TypeANY:
		return "ANY"
	default:
		return "TYPE" + strconv.Itoa(int(rt))
	}
}

// DNSClass is a DNS resource record class per RFC 1035 §3.2.4.
type DNSClass uint16

// ClassIN is the Internet class; the only class this engine emits or
// expects.
const ClassIN DNSClass = 1

// ClassCacheFlush is the high bit of the CLASS field that, per RFC 6762
// §10.2, marks a record as the authoritative/current set for its name.
const ClassCacheFlush uint16 = 0x8000

// ClassMask strips the cache-flush bit, yielding the plain DNS class.
const ClassMask uint16 = 0x7FFF

// Header flag bit positions per RFC 1035 §4.1.1.
const (
	FlagQR uint16 = 1 << 15
	FlagAA uint16 = 1 << 10
	FlagTC uint16 = 1 << 9
	FlagRD uint16 = 1 << 8
	FlagRA uint16 = 1 << 7
)

// Name grammar limits per RFC 1035 §3.1 and §4.1.4.
const (
	MaxLabelLength = 63
	MaxNameLength  = 255

	// CompressionPointerMask identifies a 2-byte compression pointer: the
	// high two bits of the length/pointer byte are both set.
	CompressionPointerMask byte = 0xC0

	// MaxCompressionEntries bounds the encoder's per-message suffix table.
	MaxCompressionEntries = 20

	// MaxPointerOffset is the largest offset a 14-bit pointer can encode.
	MaxPointerOffset = 0x3FFF
)

// Default TTLs per RFC 6762 §10.
const (
	// TTLHostname is the recommended TTL for records naming a host (A).
	TTLHostname uint32 = 4500

	// TTLService is the recommended TTL for records describing a service
	// instance (PTR, SRV, TXT).
	TTLService uint32 = 120
)

// Frame sizing.
const (
	// DefaultFrameSize is the default cap on an emitted packet, matching
	// RFC 6762 §17's conservative default for an mDNS-capable link.
	DefaultFrameSize = 4096

	// DefaultReceiveCap is the largest datagram the engine will attempt to
	// parse; wire.Decode rejects anything larger with FrameTooLarge before
	// reading the header.
	DefaultReceiveCap = 10 * 1024
)

// Timing constants driving the output scheduler, per RFC 6762 §8.
const (
	// ProbeInterval is the minimum spacing between successive probe
	// questions for a record under probing.
	ProbeInterval = 250 * time.Millisecond

	// AnnounceInterval is the nominal spacing between successive
	// announcements of a freshly-published record.
	AnnounceInterval = 2 * time.Second

	// AnnounceCount is how many times a record is (re-)announced before
	// resting until a peer's question or a TTL refresh wakes it again.
	AnnounceCount = 4

	// ProbeCount is how many probe ticks a unique record passes through
	// (probe_count 1..4) before being announced at probe_count 5.
	ProbeCount = 4

	// PauseMinDelay and PauseMaxDelay bound the randomized deferral applied
	// to answers responding to a non-unicast question, giving peers a
	// window to suppress our answer with their own known answers.
	PauseMinDelay = 20 * time.Millisecond
	PauseMaxDelay = 120 * time.Millisecond

	// CacheExpiryMargin is added to ttl/2 when computing a cached record's
	// refresh-before-expiry deadline.
	CacheExpiryMargin = 8 * time.Second

	// GCInterval bounds how often a full-table cache sweep runs as a
	// safety net, independent of per-bucket expiry checks.
	GCInterval = 24 * time.Hour

	// QueryRetryBase is the linear backoff step for outstanding queries:
	// the Nth retry (1-indexed) is scheduled N*QueryRetryBase after the
	// previous one, for N in 1..MaxQueryTries.
	QueryRetryBase = 1 * time.Second

	// MaxQueryTries is how many scheduled retries a query receives before
	// it is considered satisfied for the round.
	MaxQueryTries = 3

	// MaxDeadline caps next_deadline's return value so a host using a
	// busy-wakeup loop never sleeps unreasonably long even when nothing
	// is scheduled.
	MaxDeadline = 50 * time.Millisecond

	// MinMulticastInterval is the minimum spacing between successive
	// multicasts of the same record on the same interface, per RFC 6762
	// §6.2: a responder must not repeat a record within one second of its
	// last transmission, no matter how many queries ask for it.
	MinMulticastInterval = 1 * time.Second

	// ProbeDefenseInterval is the relaxed MinMulticastInterval exception
	// RFC 6762 §6.2 grants to a record defending its name during probing:
	// the defense answer must go out within 250ms of the conflicting probe.
	ProbeDefenseInterval = 250 * time.Millisecond

	// TTLRefreshMargin is subtracted from a published record's TTL to get
	// its re-announcement deadline (last_sent_at + ttl - TTLRefreshMargin),
	// so an idle record is re-announced shortly before every listener's
	// cached copy would otherwise expire, even with no peer re-querying it.
	TTLRefreshMargin = 2 * time.Second
)
