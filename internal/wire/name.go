// Package wire implements the RFC 1035 DNS message codec used by the mDNS
// engine: domain name parsing and compression, typed resource record
// rdata, and full message encode/decode.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 1035 §3.1, §4.1 (names and
// compression); RFC 6762 §18 (message format conventions for mDNS).
package wire

import (
	"strings"

	wireerrors "github.com/open62541/gomdns/internal/errors"
	"github.com/open62541/gomdns/internal/protocol"
)

// Name is a decompressed, dot-joined domain name such as
// "myhost.local." or "_opcua-tcp._tcp.local.". Labels are stored
// verbatim (no case-folding, no escaping); RFC 6763 instance names may
// contain any UTF-8 byte sequence in their first label.
type Name string

// Labels splits a Name into its component labels, dropping the implicit
// root label. "a.b.local." yields ["a", "b", "local"].
func (n Name) Labels() []string {
	s := strings.TrimSuffix(string(n), ".")
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// decodeName decodes a domain name starting at off within msg, following
// compression pointers per RFC 1035 §4.1.4. It returns the decoded name
// and the offset immediately following the name's encoding in the
// caller's view of the buffer — i.e. the offset just past the
// terminating zero byte or, when the name begins with or reaches a
// pointer, just past that two-byte pointer. Offsets reached by following
// a pointer do not advance the returned cursor further.
//
// Two anti-loop rules apply, stricter than a bare "must decrease":
// a pointer targeting an offset at or after its own position is
// rejected outright (PointerForward), and a pointer whose target is
// itself a pointer is rejected (PointerLoop) rather than followed
// transitively — real mDNS traffic never needs a pointer chain longer
// than one hop.
func decodeName(msg []byte, off int) (Name, int, error) {
	var labels []string
	cursor := off
	endOfName := -1 // offset just past the name in the *caller's* stream
	decodedLen := 0 // decompressed wire length, for the 255-byte cap

	for {
		if cursor >= len(msg) {
			return "", 0, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: cursor, Message: "name extends past end of message"}
		}
		lengthByte := msg[cursor]

		if lengthByte&protocol.CompressionPointerMask == protocol.CompressionPointerMask {
			if cursor+1 >= len(msg) {
				return "", 0, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: cursor, Message: "truncated compression pointer"}
			}
			pointerTarget := int(lengthByte&^protocol.CompressionPointerMask)<<8 | int(msg[cursor+1])
			if endOfName < 0 {
				endOfName = cursor + 2
			}
			if pointerTarget >= cursor {
				return "", 0, &wireerrors.ParseError{Kind: wireerrors.PointerForward, Offset: cursor, Message: "pointer does not target an earlier offset"}
			}
			if pointerTarget >= len(msg) {
				return "", 0, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: cursor, Message: "pointer target out of range"}
			}
			if msg[pointerTarget]&protocol.CompressionPointerMask == protocol.CompressionPointerMask {
				return "", 0, &wireerrors.ParseError{Kind: wireerrors.PointerLoop, Offset: cursor, Message: "pointer target is itself a pointer"}
			}
			cursor = pointerTarget
			continue
		}

		if lengthByte&protocol.CompressionPointerMask != 0 {
			return "", 0, &wireerrors.ParseError{Kind: wireerrors.MalformedName, Offset: cursor, Message: "reserved length-byte prefix"}
		}

		length := int(lengthByte)
		if length == 0 {
			cursor++
			if endOfName < 0 {
				endOfName = cursor
			}
			break
		}
		if length > protocol.MaxLabelLength {
			return "", 0, &wireerrors.ParseError{Kind: wireerrors.LabelTooLong, Offset: cursor, Message: "label exceeds 63 octets"}
		}
		labelStart := cursor + 1
		labelEnd := labelStart + length
		if labelEnd > len(msg) {
			return "", 0, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: cursor, Message: "label extends past end of message"}
		}
		labels = append(labels, string(msg[labelStart:labelEnd]))
		decodedLen += length + 1
		if decodedLen > protocol.MaxNameLength {
			return "", 0, &wireerrors.ParseError{Kind: wireerrors.NameTooLong, Offset: cursor, Message: "decompressed name exceeds 255 octets"}
		}
		cursor = labelEnd
	}

	name := Name(strings.Join(labels, ".") + ".")
	if len(labels) == 0 {
		name = "."
	}
	return name, endOfName, nil
}

// compressionTable is a bounded suffix table mapping a name suffix (the
// full name or a tail of it, dot-joined) to the message offset where
// that suffix was first written. It is shared across owner names and
// rdata names within one encoded message, matching real-world DNS
// compressor behavior, and capped at protocol.MaxCompressionEntries so
// a pathological message cannot force unbounded bookkeeping.
type compressionTable struct {
	offsets map[Name]int
}

func newCompressionTable() *compressionTable {
	return &compressionTable{offsets: make(map[Name]int)}
}

// encodeName appends name's wire encoding to buf, using t to emit a
// compression pointer for the longest suffix of name already written
// earlier in the message, and records any newly-written suffixes (up to
// the table's capacity) for later names to reuse.
func encodeName(buf []byte, name Name, t *compressionTable) ([]byte, error) {
	labels := name.Labels()

	for i := 0; i < len(labels); i++ {
		suffix := Name(strings.Join(labels[i:], ".") + ".")
		if target, ok := t.offsets[suffix]; ok {
			pointer := uint16(protocol.CompressionPointerMask)<<8 | uint16(target)
			return append(buf, byte(pointer>>8), byte(pointer)), nil
		}
		if len(t.offsets) < protocol.MaxCompressionEntries && len(buf) <= protocol.MaxPointerOffset {
			t.offsets[suffix] = len(buf)
		}
		label := labels[i]
		if len(label) > protocol.MaxLabelLength {
			return nil, &wireerrors.ParseError{Kind: wireerrors.LabelTooLong, Message: "label exceeds 63 octets: " + label}
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	return append(buf, 0), nil
}
