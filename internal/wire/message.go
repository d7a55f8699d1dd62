package wire

import (
	"bytes"
	"encoding/binary"
	"net"

	wireerrors "github.com/open62541/gomdns/internal/errors"
	"github.com/open62541/gomdns/internal/protocol"
)

// Header is the fixed 12-byte DNS message header per RFC 1035 §4.1.1.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool { return h.Flags&protocol.FlagQR != 0 }

// Question is one entry of a message's question section.
type Question struct {
	Name  Name
	Type  protocol.RecordType
	Class protocol.DNSClass
	// Unicast requests a unicast (rather than multicast) response per
	// RFC 6762 §5.4, signaled by setting the top bit of the QCLASS field.
	Unicast bool
}

// Rdata is the typed payload of a resource record. Concrete types are A,
// PTR, CNAME, NS, SRV, TXT, and Raw for anything the codec does not
// decode structurally.
type Rdata interface {
	recordType() protocol.RecordType
	encode(buf []byte, t *compressionTable) ([]byte, error)
}

// A is an IPv4 address record (RFC 1035 §3.4.1).
type A struct{ Addr net.IP }

func (A) recordType() protocol.RecordType { return protocol.TypeA }
func (r A) encode(buf []byte, _ *compressionTable) ([]byte, error) {
	v4 := r.Addr.To4()
	if v4 == nil {
		return nil, &wireerrors.InvalidArgumentError{Operation: "encode A rdata", Message: "address is not IPv4"}
	}
	return append(buf, v4...), nil
}

// PTR is a domain name pointer record (RFC 1035 §3.3.12).
type PTR struct{ Target Name }

func (PTR) recordType() protocol.RecordType { return protocol.TypePTR }
func (r PTR) encode(buf []byte, t *compressionTable) ([]byte, error) {
	return encodeName(buf, r.Target, t)
}

// CNAME is a canonical name record (RFC 1035 §3.3.1).
type CNAME struct{ Target Name }

func (CNAME) recordType() protocol.RecordType { return protocol.TypeCNAME }
func (r CNAME) encode(buf []byte, t *compressionTable) ([]byte, error) {
	return encodeName(buf, r.Target, t)
}

// NS is a name server record (RFC 1035 §3.3.11).
type NS struct{ Target Name }

func (NS) recordType() protocol.RecordType { return protocol.TypeNS }
func (r NS) encode(buf []byte, t *compressionTable) ([]byte, error) {
	return encodeName(buf, r.Target, t)
}

// SRV is a service location record (RFC 2782).
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   Name
}

func (SRV) recordType() protocol.RecordType { return protocol.TypeSRV }
func (r SRV) encode(buf []byte, t *compressionTable) ([]byte, error) {
	buf = binary.BigEndian.AppendUint16(buf, r.Priority)
	buf = binary.BigEndian.AppendUint16(buf, r.Weight)
	buf = binary.BigEndian.AppendUint16(buf, r.Port)
	return encodeName(buf, r.Target, t)
}

// TXT is a set of opaque attribute strings (RFC 6763 §6). Per RFC 6763
// §6.1, a TXT record with no attributes is encoded as one zero-length
// string rather than zero strings.
type TXT struct{ Strings [][]byte }

func (TXT) recordType() protocol.RecordType { return protocol.TypeTXT }
func (r TXT) encode(buf []byte, _ *compressionTable) ([]byte, error) {
	if len(r.Strings) == 0 {
		return append(buf, 0), nil
	}
	for _, s := range r.Strings {
		if len(s) > 255 {
			return nil, &wireerrors.InvalidArgumentError{Operation: "encode TXT rdata", Message: "character-string exceeds 255 octets"}
		}
		buf = append(buf, byte(len(s)))
		buf = append(buf, s...)
	}
	return buf, nil
}

// Raw is uninterpreted rdata for record types the codec does not decode
// structurally; it round-trips bit-for-bit.
type Raw struct {
	Type protocol.RecordType
	Data []byte
}

func (r Raw) recordType() protocol.RecordType { return r.Type }
func (r Raw) encode(buf []byte, _ *compressionTable) ([]byte, error) {
	return append(buf, r.Data...), nil
}

// ResourceRecord is one entry of a message's answer, authority, or
// additional section.
type ResourceRecord struct {
	Name       Name
	Class      protocol.DNSClass
	CacheFlush bool
	TTL        uint32
	Rdata      Rdata
}

// Type returns the record's wire type, derived from its rdata.
func (rr ResourceRecord) Type() protocol.RecordType { return rr.Rdata.recordType() }

// RdataEqual reports whether a and b are the same record type with
// byte-identical encodings, used for known-answer suppression and
// conflict detection where two candidate rdata values must be compared
// for equality regardless of concrete Go type.
func RdataEqual(a, b Rdata) bool {
	if a.recordType() != b.recordType() {
		return false
	}
	ea, err := a.encode(nil, newCompressionTable())
	if err != nil {
		return false
	}
	eb, err := b.encode(nil, newCompressionTable())
	if err != nil {
		return false
	}
	if len(ea) != len(eb) {
		return false
	}
	for i := range ea {
		if ea[i] != eb[i] {
			return false
		}
	}
	return true
}

// RdataCompare lexicographically compares two rdata values' wire
// encodings per RFC 6762 §8.2's probe tie-breaking rule: the
// lexicographically later record wins. Returns a negative number, zero,
// or a positive number as a's encoding is less than, equal to, or
// greater than b's, with a shorter-but-matching prefix counting as less
// (the longer record wins a tie on a shared prefix).
func RdataCompare(a, b Rdata) int {
	ea, errA := a.encode(nil, newCompressionTable())
	eb, errB := b.encode(nil, newCompressionTable())
	if errA != nil || errB != nil {
		return 0
	}
	return bytes.Compare(ea, eb)
}

// Message is a fully decoded (or to-be-encoded) DNS message.
type Message struct {
	Header      Header
	Questions   []Question
	Answers     []ResourceRecord
	Authorities []ResourceRecord
	Additionals []ResourceRecord
}
