package wire

import (
	"encoding/binary"

	wireerrors "github.com/open62541/gomdns/internal/errors"
	"github.com/open62541/gomdns/internal/protocol"
)

// Encode serializes a message to wire format, applying name compression
// shared across owner names and rdata names via a single per-message
// suffix table, and failing with FrameTooLarge if the result would
// exceed frameSize. A frameSize of 0 disables the size check, used when
// encoding a message whose size the caller already budgeted elsewhere.
func Encode(m *Message, frameSize int) ([]byte, error) {
	buf := make([]byte, 12)
	t := newCompressionTable()

	m.Header.QDCount = uint16(len(m.Questions))
	m.Header.ANCount = uint16(len(m.Answers))
	m.Header.NSCount = uint16(len(m.Authorities))
	m.Header.ARCount = uint16(len(m.Additionals))

	binary.BigEndian.PutUint16(buf[0:2], m.Header.ID)
	binary.BigEndian.PutUint16(buf[2:4], m.Header.Flags)
	binary.BigEndian.PutUint16(buf[4:6], m.Header.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], m.Header.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], m.Header.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], m.Header.ARCount)

	var err error
	for _, q := range m.Questions {
		buf, err = encodeQuestion(buf, q, t)
		if err != nil {
			return nil, err
		}
	}
	for _, sec := range [][]ResourceRecord{m.Answers, m.Authorities, m.Additionals} {
		for _, rr := range sec {
			buf, err = encodeRR(buf, rr, t)
			if err != nil {
				return nil, err
			}
		}
	}

	if frameSize > 0 && len(buf) > frameSize {
		return nil, &wireerrors.ParseError{Kind: wireerrors.FrameTooLarge, Message: "encoded message exceeds configured frame size"}
	}
	return buf, nil
}

func encodeQuestion(buf []byte, q Question, t *compressionTable) ([]byte, error) {
	buf, err := encodeName(buf, q.Name, t)
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(q.Type))
	class := uint16(q.Class)
	if q.Unicast {
		class |= protocol.ClassCacheFlush
	}
	return binary.BigEndian.AppendUint16(buf, class), nil
}

// encodeRR appends rr to buf. RDLENGTH is unknown until the rdata
// (possibly compressed) is written, so a zero placeholder is emitted
// first and patched once the true length is known.
func encodeRR(buf []byte, rr ResourceRecord, t *compressionTable) ([]byte, error) {
	buf, err := encodeName(buf, rr.Name, t)
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(rr.Type()))
	class := uint16(rr.Class)
	if rr.CacheFlush {
		class |= protocol.ClassCacheFlush
	}
	buf = binary.BigEndian.AppendUint16(buf, class)
	buf = binary.BigEndian.AppendUint32(buf, rr.TTL)

	rdlenOffset := len(buf)
	buf = append(buf, 0, 0)
	rdataStart := len(buf)

	buf, err = rr.Rdata.encode(buf, t)
	if err != nil {
		return nil, err
	}

	rdlen := len(buf) - rdataStart
	binary.BigEndian.PutUint16(buf[rdlenOffset:rdlenOffset+2], uint16(rdlen))
	return buf, nil
}
