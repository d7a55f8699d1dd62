// Package dispatch implements the input dispatcher: for each received
// message, it feeds questions to the published-record set (producing
// answers or conflicts) and feeds answers to the query set and cache
// (producing user-visible events).
package dispatch

import (
	"time"

	"github.com/open62541/gomdns/internal/cache"
	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/publish"
	"github.com/open62541/gomdns/internal/queryset"
	"github.com/open62541/gomdns/internal/scheduler"
	"github.com/open62541/gomdns/internal/wire"
)

// Deps bundles the engine state the dispatcher operates on, so Handle
// can be called without the dispatcher owning any state itself.
type Deps struct {
	Published    *publish.Set
	Queries      *queryset.Set
	Cache        *cache.Cache
	Scheduler    *scheduler.Scheduler
	RecvCallback func(wire.ResourceRecord)
}

// Handle routes one decoded message by RFC 1035 QR bit. srcPort is the
// UDP source port the datagram arrived from; a value other than
// protocol.Port marks a legacy unicast query owed a unicast reply.
func (d Deps) Handle(msg *wire.Message, srcAddr string, srcPort int, now time.Time) {
	if msg.Header.IsResponse() {
		d.handleAnswers(msg, now)
		return
	}
	d.handleQuestions(msg, srcAddr, srcPort, now)
}

func (d Deps) handleQuestions(msg *wire.Message, srcAddr string, srcPort int, now time.Time) {
	legacyUnicast := srcPort != protocol.Port

	for _, q := range msg.Questions {
		candidates := d.Published.FindByNameType(q.Name, q.Type)
		for _, r := range candidates {
			if r.Mode == publish.Unique && r.ProbeCount < 5 {
				if theirs, ok := conflicting(msg.Authorities, r.RR); ok {
					if wire.RdataCompare(r.RR.Rdata, theirs) > 0 {
						// Our data sorts later: RFC 6762 §8.2.1 says we win
						// the tie and keep probing unchanged.
						continue
					}
					if r.OnConflict != nil {
						r.OnConflict()
					}
					d.Published.Remove(r.Handle)
				}
				continue
			}

			if knownAnswerSuppressed(msg.Answers, r.RR) {
				continue
			}

			if r.Mode == publish.Unique {
				d.Published.Move(r.Handle, publish.Now, now)
			} else {
				deadline := now.Add(d.Scheduler.Jitter(protocol.PauseMinDelay, protocol.PauseMaxDelay))
				d.Published.Move(r.Handle, publish.Pause, deadline)
			}

			if legacyUnicast {
				d.Scheduler.EnqueueUnicast(scheduler.UnicastEntry{
					TxnID:    msg.Header.ID,
					DstAddr:  srcAddr,
					DstPort:  srcPort,
					Question: q,
					Answer:   r.RR,
				})
			}
		}
	}
}

func (d Deps) handleAnswers(msg *wire.Message, now time.Time) {
	for _, a := range msg.Answers {
		for _, r := range d.Published.FindByNameType(a.Name, a.Type()) {
			if r.Mode != publish.Unique {
				continue
			}
			if !wire.RdataEqual(r.RR.Rdata, a.Rdata) {
				if r.OnConflict != nil {
					r.OnConflict()
				}
				d.Published.Remove(r.Handle)
			}
		}

		if d.RecvCallback != nil {
			d.RecvCallback(a)
		}

		var queryKey *queryset.Key
		matches := d.Queries.FindMatching(a.Name, a.Type())
		if len(matches) > 0 {
			k := matches[0].Key
			queryKey = &k
		}
		d.Cache.Insert(a, now, (*cache.Key)(queryKey))

		// A ttl=0 goodbye already notified every matching query's AnswerCB
		// via Insert's onExpire callback; calling it again here would fire
		// the callback twice for the same goodbye.
		if a.TTL == 0 {
			continue
		}

		for _, q := range matches {
			if q.AnswerCB == nil {
				continue
			}
			action := q.AnswerCB(a)
			d.Queries.Apply(q.Key, action)
		}
	}
}

// conflicting returns the first authority record for the same (name,
// type) as ours with different rdata, if any.
func conflicting(authority []wire.ResourceRecord, ours wire.ResourceRecord) (wire.Rdata, bool) {
	for _, cand := range authority {
		if cand.Name != ours.Name || cand.Type() != ours.Type() {
			continue
		}
		if !wire.RdataEqual(cand.Rdata, ours.Rdata) {
			return cand.Rdata, true
		}
	}
	return nil, false
}

// knownAnswerSuppressed reports whether the querier already holds our
// candidate answer fresh enough to skip repeating it, per RFC 6762
// §7.1: a matching known answer only suppresses our reply if its
// remaining TTL is at least half of ours: "A Multicast DNS responder
// MUST NOT answer... if the answer it would give is already included
// in the Answer Section with an RR TTL at least half the correct value."
// A match with a stale TTL still gets answered, so the querier's cache
// refreshes before it expires.
func knownAnswerSuppressed(answers []wire.ResourceRecord, ours wire.ResourceRecord) bool {
	for _, a := range answers {
		if a.Name != ours.Name || a.Type() != ours.Type() {
			continue
		}
		if !wire.RdataEqual(a.Rdata, ours.Rdata) {
			continue
		}
		return a.TTL >= ours.TTL/2
	}
	return false
}
