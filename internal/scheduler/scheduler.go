// Package scheduler implements the output scheduler: the heart of the
// engine. It owns the unicast-response queue and drives the four
// publish-set scheduling lists (now, pause, probe, publish) plus
// outstanding queries into a sequence of outbound packets bounded by a
// configured frame size.
package scheduler

import (
	"math/rand"
	"time"

	"github.com/open62541/gomdns/internal/cache"
	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/publish"
	"github.com/open62541/gomdns/internal/queryset"
	"github.com/open62541/gomdns/internal/wire"
)

// UnicastEntry is one owed unicast reply: the question's transaction id,
// the peer's address, and the single record to echo.
type UnicastEntry struct {
	TxnID    uint16
	DstAddr  string
	DstPort  int
	Question wire.Question
	Answer   wire.ResourceRecord
}

// Packet is one packet drain produced, with its multicast-or-unicast
// destination.
type Packet struct {
	Bytes   []byte
	DstAddr string
	DstPort int
}

// Scheduler assembles outbound packets from the published-record set, the
// query set, and the unicast-response queue.
type Scheduler struct {
	FrameSize int
	Class     protocol.DNSClass

	unicast []UnicastEntry

	// Jitter returns a random duration in [min, max), used for the pause
	// list's known-answer-suppression deferral. Overridable for
	// deterministic tests.
	Jitter func(min, max time.Duration) time.Duration
}

// New returns a Scheduler bounded to frameSize bytes per emitted packet.
func New(class protocol.DNSClass, frameSize int) *Scheduler {
	return &Scheduler{
		Class:     class,
		FrameSize: frameSize,
		Jitter: func(min, max time.Duration) time.Duration {
			if max <= min {
				return min
			}
			return min + time.Duration(rand.Int63n(int64(max-min)))
		},
	}
}

// EnqueueUnicast queues a unicast reply owed to a legacy (non-5353
// source port) query.
func (s *Scheduler) EnqueueUnicast(e UnicastEntry) {
	s.unicast = append(s.unicast, e)
}

// Drain produces the next outbound packet, if any, using a greedy
// per-packet assembly algorithm: unicast replies first, then a greedy
// multicast answer packet from the now/pause/publish lists, then (if
// that packet would be empty) a multicast question packet from the
// probe list and any due queries.
func (s *Scheduler) Drain(now time.Time, pub *publish.Set, queries *queryset.Set) (Packet, bool) {
	reannounceStale(now, pub)

	if len(s.unicast) > 0 {
		e := s.unicast[0]
		s.unicast = s.unicast[1:]
		msg := &wire.Message{
			Header:    wire.Header{ID: e.TxnID, Flags: protocol.FlagQR | protocol.FlagAA},
			Questions: []wire.Question{e.Question},
			Answers:   []wire.ResourceRecord{e.Answer},
		}
		buf, err := wire.Encode(msg, 0)
		if err != nil {
			return Packet{}, false
		}
		return Packet{Bytes: buf, DstAddr: e.DstAddr, DstPort: e.DstPort}, true
	}

	if pkt, ok := s.drainAnswers(now, pub); ok {
		return pkt, true
	}

	if pkt, ok := s.drainQuestions(now, pub, queries); ok {
		return pkt, true
	}

	return Packet{}, false
}

// drainAnswers greedily packs due records from now, pause, and publish
// into one multicast answer packet, backing off when adding the next
// candidate would exceed FrameSize. Records left over stay on their
// list for the next Drain call.
func (s *Scheduler) drainAnswers(now time.Time, pub *publish.Set) (Packet, bool) {
	var candidates []*publish.Record
	for _, r := range pub.InList(publish.Now) {
		if s.rateLimited(r, now, pub) {
			continue
		}
		candidates = append(candidates, r)
	}
	for _, r := range pub.InList(publish.Pause) {
		if r.NextFireAt.After(now) {
			continue
		}
		if s.rateLimited(r, now, pub) {
			continue
		}
		candidates = append(candidates, r)
	}
	for _, r := range pub.InList(publish.PublishList) {
		if !r.NextFireAt.After(now) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Packet{}, false
	}

	msg := &wire.Message{Header: wire.Header{Flags: protocol.FlagQR | protocol.FlagAA}}
	var sent []*publish.Record

	for _, r := range candidates {
		rr := r.RR
		if r.Mode == publish.Unique {
			rr.CacheFlush = true
		}
		trial := *msg
		trial.Answers = append(append([]wire.ResourceRecord{}, msg.Answers...), rr)
		buf, err := wire.Encode(&trial, s.FrameSize)
		if err != nil {
			continue // would overflow the frame; leave it queued
		}
		_ = buf
		msg.Answers = trial.Answers
		sent = append(sent, r)
	}

	if len(msg.Answers) == 0 {
		return Packet{}, false
	}

	buf, err := wire.Encode(msg, 0)
	if err != nil {
		return Packet{}, false
	}

	for _, r := range sent {
		r.LastSentAt = now
		if r.Withdrawn {
			pub.Remove(r.Handle)
			continue
		}
		if r.Scheduled == publish.PublishList {
			r.Tries++
			if r.Tries >= protocol.AnnounceCount {
				pub.Move(r.Handle, publish.None, now)
			} else {
				pub.Move(r.Handle, publish.PublishList, now.Add(protocol.AnnounceInterval))
			}
		} else {
			pub.Move(r.Handle, publish.None, now)
		}
	}

	return Packet{Bytes: buf, DstAddr: protocol.MulticastAddrIPv4, DstPort: protocol.Port}, true
}

// rateLimited reports whether r was multicast less than
// protocol.MinMulticastInterval ago, per RFC 6762 §6.2: a record must
// not repeat on the wire within a second of its last transmission no
// matter how many queries ask for it in that window. A rate-limited
// record is rescheduled onto the pause list for its remaining cooldown
// rather than dropped, so it still fires once the window clears.
func (s *Scheduler) rateLimited(r *publish.Record, now time.Time, pub *publish.Set) bool {
	if r.LastSentAt.IsZero() {
		return false
	}
	cooldown := r.LastSentAt.Add(protocol.MinMulticastInterval)
	if !cooldown.After(now) {
		return false
	}
	pub.Move(r.Handle, publish.Pause, cooldown)
	return true
}

// refreshDeadline is when an idle published record must be re-announced
// to refresh every listener's cached TTL, per the refresh convention
// RFC 6762 §5.2 applies to cache entries: last_sent_at + ttl -
// protocol.TTLRefreshMargin.
func refreshDeadline(r *publish.Record) time.Time {
	return r.LastSentAt.Add(time.Duration(r.RR.TTL)*time.Second - protocol.TTLRefreshMargin)
}

// reannounceStale requeues idle published records whose TTL refresh
// deadline has passed back onto the publish list, so a record nobody is
// re-querying still gets re-announced before it would silently expire
// from every listener's cache.
func reannounceStale(now time.Time, pub *publish.Set) {
	for _, r := range pub.All() {
		if r.Scheduled != publish.None || r.Withdrawn || r.LastSentAt.IsZero() || r.RR.TTL == 0 {
			continue
		}
		if !refreshDeadline(r).After(now) {
			pub.Reannounce(r.Handle, now)
		}
	}
}

// drainQuestions builds a multicast question packet from due probe-list
// records (with our candidate answer attached in the authority section)
// and due outstanding queries.
func (s *Scheduler) drainQuestions(now time.Time, pub *publish.Set, queries *queryset.Set) (Packet, bool) {
	msg := &wire.Message{Header: wire.Header{}}

	for _, r := range pub.InList(publish.Probe) {
		if r.NextFireAt.After(now) {
			continue
		}
		msg.Questions = append(msg.Questions, wire.Question{Name: r.RR.Name, Type: r.RR.Type(), Class: s.Class})
		msg.Authorities = append(msg.Authorities, r.RR)
		r.ProbeCount++
		if r.ProbeCount >= 5 {
			pub.Move(r.Handle, publish.PublishList, now)
		} else {
			pub.Move(r.Handle, publish.Probe, now.Add(protocol.ProbeInterval))
		}
	}

	for _, q := range queries.Due(now) {
		msg.Questions = append(msg.Questions, wire.Question{Name: q.Name, Type: q.Type, Class: s.Class})
		if q.Satisfied() {
			continue
		}
		q.Advance(now)
	}

	if len(msg.Questions) == 0 {
		return Packet{}, false
	}
	buf, err := wire.Encode(msg, s.FrameSize)
	if err != nil {
		return Packet{}, false
	}
	return Packet{Bytes: buf, DstAddr: protocol.MulticastAddrIPv4, DstPort: protocol.Port}, true
}

// NextDeadline computes the minimum duration the host may sleep before
// calling Drain again.
func (s *Scheduler) NextDeadline(now time.Time, pub *publish.Set, queries *queryset.Set, c *cache.Cache) time.Duration {
	if len(s.unicast) > 0 {
		return 0
	}

	best := time.Duration(protocol.MaxDeadline)
	consider := func(t time.Time) {
		if d := t.Sub(now); d < best {
			if d < 0 {
				d = 0
			}
			best = d
		}
	}

	if len(pub.InList(publish.Now)) > 0 {
		consider(now)
	}
	for _, r := range pub.InList(publish.Pause) {
		consider(r.NextFireAt)
	}
	for _, r := range pub.InList(publish.Probe) {
		consider(r.NextFireAt)
	}
	for _, r := range pub.InList(publish.PublishList) {
		consider(r.NextFireAt)
	}
	for _, r := range pub.All() {
		if r.Scheduled != publish.None || r.Withdrawn || r.LastSentAt.IsZero() || r.RR.TTL == 0 {
			continue
		}
		consider(refreshDeadline(r))
	}
	if t, ok := queries.EarliestNextTry(); ok {
		consider(t)
	}
	if t, ok := c.EarliestExpiry(); ok {
		consider(t)
	}

	return best
}
