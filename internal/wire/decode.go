package wire

import (
	"encoding/binary"
	"net"

	wireerrors "github.com/open62541/gomdns/internal/errors"
	"github.com/open62541/gomdns/internal/protocol"
)

// Decode parses a complete DNS message per RFC 1035 §4.1. Every rdata
// name (PTR/CNAME/NS/SRV target) is decoded against the full message
// buffer with its absolute offset, so a compression pointer inside
// rdata that targets an earlier position anywhere in the message —
// including the record's own owner name — resolves correctly.
func Decode(msg []byte) (*Message, error) {
	if len(msg) > protocol.DefaultReceiveCap {
		return nil, &wireerrors.ParseError{Kind: wireerrors.FrameTooLarge, Message: "datagram exceeds receive cap"}
	}
	if len(msg) < 12 {
		return nil, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: 0, Message: "message shorter than header"}
	}

	h := Header{
		ID:      binary.BigEndian.Uint16(msg[0:2]),
		Flags:   binary.BigEndian.Uint16(msg[2:4]),
		QDCount: binary.BigEndian.Uint16(msg[4:6]),
		ANCount: binary.BigEndian.Uint16(msg[6:8]),
		NSCount: binary.BigEndian.Uint16(msg[8:10]),
		ARCount: binary.BigEndian.Uint16(msg[10:12]),
	}

	off := 12
	m := &Message{Header: h}

	for i := 0; i < int(h.QDCount); i++ {
		q, next, err := decodeQuestion(msg, off)
		if err != nil {
			return nil, err
		}
		m.Questions = append(m.Questions, q)
		off = next
	}

	sections := []struct {
		count int
		dst   *[]ResourceRecord
	}{
		{int(h.ANCount), &m.Answers},
		{int(h.NSCount), &m.Authorities},
		{int(h.ARCount), &m.Additionals},
	}
	for _, sec := range sections {
		for i := 0; i < sec.count; i++ {
			rr, next, err := decodeRR(msg, off)
			if err != nil {
				return nil, err
			}
			*sec.dst = append(*sec.dst, rr)
			off = next
		}
	}

	return m, nil
}

func decodeQuestion(msg []byte, off int) (Question, int, error) {
	name, off, err := decodeName(msg, off)
	if err != nil {
		return Question{}, 0, err
	}
	if off+4 > len(msg) {
		return Question{}, 0, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: off, Message: "truncated question"}
	}
	qtype := protocol.RecordType(binary.BigEndian.Uint16(msg[off : off+2]))
	rawClass := binary.BigEndian.Uint16(msg[off+2 : off+4])
	return Question{
		Name:    name,
		Type:    qtype,
		Class:   protocol.DNSClass(rawClass &^ uint16(protocol.ClassCacheFlush)),
		Unicast: rawClass&protocol.ClassCacheFlush != 0,
	}, off + 4, nil
}

func decodeRR(msg []byte, off int) (ResourceRecord, int, error) {
	name, off, err := decodeName(msg, off)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	if off+10 > len(msg) {
		return ResourceRecord{}, 0, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: off, Message: "truncated resource record header"}
	}
	rtype := protocol.RecordType(binary.BigEndian.Uint16(msg[off : off+2]))
	rawClass := binary.BigEndian.Uint16(msg[off+2 : off+4])
	ttl := binary.BigEndian.Uint32(msg[off+4 : off+8])
	rdlen := int(binary.BigEndian.Uint16(msg[off+8 : off+10]))
	rdataStart := off + 10
	rdataEnd := rdataStart + rdlen
	if rdataEnd > len(msg) {
		return ResourceRecord{}, 0, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: rdataStart, Message: "rdata extends past end of message"}
	}

	rdata, err := decodeRdata(msg, rtype, rdataStart, rdataEnd)
	if err != nil {
		return ResourceRecord{}, 0, err
	}

	rr := ResourceRecord{
		Name:       name,
		Class:      protocol.DNSClass(rawClass &^ uint16(protocol.ClassCacheFlush)),
		CacheFlush: rawClass&protocol.ClassCacheFlush != 0,
		TTL:        ttl,
		Rdata:      rdata,
	}
	return rr, rdataEnd, nil
}

// decodeRdata decodes rdata in place against the full message buffer,
// using absolute offsets [start, end) rather than an isolated copy, so
// an embedded name's compression pointer can reach anywhere in the
// message.
func decodeRdata(msg []byte, rtype protocol.RecordType, start, end int) (Rdata, error) {
	switch rtype {
	case protocol.TypeA:
		if end-start != 4 {
			return nil, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: start, Message: "A rdata must be 4 octets"}
		}
		ip := make(net.IP, 4)
		copy(ip, msg[start:end])
		return A{Addr: ip}, nil

	case protocol.TypePTR:
		name, next, err := decodeName(msg, start)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, &wireerrors.ParseError{Kind: wireerrors.MalformedName, Offset: start, Message: "PTR rdata length mismatch"}
		}
		return PTR{Target: name}, nil

	case protocol.TypeCNAME:
		name, next, err := decodeName(msg, start)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, &wireerrors.ParseError{Kind: wireerrors.MalformedName, Offset: start, Message: "CNAME rdata length mismatch"}
		}
		return CNAME{Target: name}, nil

	case protocol.TypeNS:
		name, next, err := decodeName(msg, start)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, &wireerrors.ParseError{Kind: wireerrors.MalformedName, Offset: start, Message: "NS rdata length mismatch"}
		}
		return NS{Target: name}, nil

	case protocol.TypeSRV:
		if end-start < 6 {
			return nil, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: start, Message: "truncated SRV rdata"}
		}
		priority := binary.BigEndian.Uint16(msg[start : start+2])
		weight := binary.BigEndian.Uint16(msg[start+2 : start+4])
		port := binary.BigEndian.Uint16(msg[start+4 : start+6])
		name, next, err := decodeName(msg, start+6)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, &wireerrors.ParseError{Kind: wireerrors.MalformedName, Offset: start, Message: "SRV rdata length mismatch"}
		}
		return SRV{Priority: priority, Weight: weight, Port: port, Target: name}, nil

	case protocol.TypeTXT:
		var strs [][]byte
		cursor := start
		for cursor < end {
			l := int(msg[cursor])
			cursor++
			if cursor+l > end {
				return nil, &wireerrors.ParseError{Kind: wireerrors.Truncated, Offset: cursor, Message: "TXT character-string extends past rdata"}
			}
			s := make([]byte, l)
			copy(s, msg[cursor:cursor+l])
			strs = append(strs, s)
			cursor += l
		}
		return TXT{Strings: strs}, nil

	default:
		data := make([]byte, end-start)
		copy(data, msg[start:end])
		return Raw{Type: rtype, Data: data}, nil
	}
}
