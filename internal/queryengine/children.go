package queryengine

import (
	"strconv"
	"strings"

	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/rrtype"
	"github.com/lucab/adns/internal/wire"
)

// derefSlot records how one pending RR's address lookup was resolved: either
// inlined straight from Additional-section glue (no child query needed) or
// via a spawned child A query. Exactly one of the two is set once spawning
// has run, or neither if the child query could not even be created.
type derefSlot struct {
	glue  *wire.A
	child *query
}

// spawnChildren submits one child A query per pending RR that needs address
// resolution (NS/MX host names, or the checked-PTR target) and moves q to
// the child-wait list until every child has completed, per spec.md §4.2
// "Child query spawning". Hostnames already covered by Additional-section
// glue (q.glue, populated by processAnswer) are resolved inline instead of
// spawning a redundant child query.
func (e *Engine) spawnChildren(q *query) {
	hostnames := childHostnames(q)
	if len(hostnames) == 0 {
		// nothing to resolve (e.g. an empty RR set can't happen here, but
		// be defensive): complete with what we have.
		e.finalizeDeref(q)
		return
	}

	q.derefSlots = make([]derefSlot, len(hostnames))
	q.children = make([]*query, 0, len(hostnames))
	pending := 0
	for i, host := range hostnames {
		if addr, ok := q.glue[strings.ToLower(host)]; ok {
			a := addr
			q.derefSlots[i].glue = &a
			continue
		}
		pending++
	}

	if pending == 0 {
		e.finalizeDeref(q)
		return
	}

	e.timew.remove(q)
	q.state = StateChild
	q.unresolvedChildren = pending

	for i, host := range hostnames {
		if q.derefSlots[i].glue != nil {
			continue
		}
		child := &query{
			qtype:  rrtype.A,
			owner:  host,
			flags:  q.flags &^ (FlagSearch | FlagOwner), // children never search-expand or self-report owner
			state:  StateToSend,
			parent: q,
		}
		id, err := e.newID()
		if err != nil {
			q.unresolvedChildren--
			continue
		}
		wireQ, err := wire.EncodeQuestion(id, host, wire.TypeA)
		if err != nil {
			q.unresolvedChildren--
			continue
		}
		child.id = id
		child.wireQuestion = wireQ
		e.byID[id] = child
		e.timew.pushBack(child)
		q.derefSlots[i].child = child
		q.children = append(q.children, child)
	}

	if q.unresolvedChildren == 0 {
		e.finalizeDeref(q)
		return
	}
	e.childw.pushBack(q)
	if !e.noAutoSys {
		e.dispatchSends()
	}
}

// childHostnames extracts the hostnames needing address resolution from a
// query's pending RR set, per its type.
func childHostnames(q *query) []string {
	var hosts []string
	switch q.qtype {
	case rrtype.NS:
		for _, rr := range q.pending.rrs {
			hosts = append(hosts, rr.(wire.NS).Host)
		}
	case rrtype.MX:
		for _, rr := range q.pending.rrs {
			hosts = append(hosts, rr.(wire.MX).Exchange)
		}
	case rrtype.PTR:
		for _, rr := range q.pending.rrs {
			hosts = append(hosts, rr.(wire.PTR).Target)
		}
	}
	return hosts
}

// childCompleted is invoked (from completeWithStatus) whenever a child
// query finishes. Once every sibling is done, it re-assembles the parent's
// answer and completes the parent too.
func (e *Engine) childCompleted(child *query) {
	parent := child.parent
	if parent == nil || parent.state == StateDone {
		return // parent already finalized via another path (e.g. global system failure)
	}
	parent.unresolvedChildren--
	if parent.unresolvedChildren > 0 {
		return
	}
	e.childw.remove(parent)
	e.finalizeDeref(parent)
}

// finalizeDeref builds the parent's final +addr/checked RR set from its
// resolved slots (glue-inlined or child-completed) and completes the parent
// query, per spec.md §4.2.
func (e *Engine) finalizeDeref(q *query) {
	switch q.qtype {
	case rrtype.NS:
		out := make([]interface{}, 0, len(q.pending.rrs))
		for i, rr := range q.pending.rrs {
			slot := q.slotAt(i)
			out = append(out, rrtype.HostAddr{
				Host:   rr.(wire.NS).Host,
				Status: int(slot.status()),
				NAddrs: slot.nAddrs(),
				Addrs:  slot.addrs(),
			})
		}
		q.pending.rrs = out
	case rrtype.MX:
		out := make([]interface{}, 0, len(q.pending.rrs))
		for i, rr := range q.pending.rrs {
			mx := rr.(wire.MX)
			slot := q.slotAt(i)
			out = append(out, rrtype.IntHostAddr{
				Preference: mx.Preference,
				HostAddr: rrtype.HostAddr{
					Host:   mx.Exchange,
					Status: int(slot.status()),
					NAddrs: slot.nAddrs(),
					Addrs:  slot.addrs(),
				},
			})
		}
		q.pending.rrs = out
	case rrtype.PTR:
		// "Checked" PTR: the answer is the hostname itself, but only if the
		// queried address (parsed from the owner's reversed in-addr.arpa
		// form at submission) is actually a member of the resolved address
		// set — a child returning some other address does not confirm the
		// candidate (spec.md §4.2's PTR consistency check).
		var confirmed []interface{}
		for i, rr := range q.pending.rrs {
			if q.ptrQueriedAddrOK && containsAddr(q.slotAt(i).addrs(), q.ptrQueriedAddr) {
				confirmed = append(confirmed, rr.(wire.PTR).Target)
			}
		}
		q.pending.rrs = confirmed
		if len(confirmed) == 0 {
			e.completeWithStatus(q, rerrors.Inconsistent)
			return
		}
	}
	e.completeWithStatus(q, rerrors.OK)
}

// slotAt returns q's derefSlot for pending.rrs index i, or the zero value if
// spawnChildren never ran for this RR (shouldn't happen, but keeps the
// accessors below total).
func (q *query) slotAt(i int) derefSlot {
	if i >= len(q.derefSlots) {
		return derefSlot{}
	}
	return q.derefSlots[i]
}

func (s derefSlot) status() rerrors.Status {
	if s.glue != nil {
		return rerrors.OK
	}
	if s.child == nil {
		return rerrors.SystemFail
	}
	return s.child.pending.status
}

func (s derefSlot) nAddrs() int {
	if s.glue != nil {
		return 1
	}
	if s.child == nil {
		return 0
	}
	c := s.child
	if c.pending.status == rerrors.OK {
		return len(c.pending.rrs)
	}
	if c.pending.status.IsLocalFail() || c.pending.status.IsRemoteFail() || c.pending.status.IsTempFail() {
		return -1
	}
	return 0
}

func (s derefSlot) addrs() []wire.A {
	if s.glue != nil {
		return []wire.A{*s.glue}
	}
	if s.child == nil {
		return nil
	}
	out := make([]wire.A, 0, len(s.child.pending.rrs))
	for _, rr := range s.child.pending.rrs {
		out = append(out, rr.(wire.A))
	}
	return out
}

// containsAddr reports whether target is present among addrs.
func containsAddr(addrs []wire.A, target wire.A) bool {
	for _, a := range addrs {
		if a == target {
			return true
		}
	}
	return false
}

// parsePTRAddr decodes a "checked" PTR query's owner back into the address
// it asks about, per the reversed RFC 1035 in-addr.arpa convention
// (d.c.b.a.in-addr.arpa answers for address a.b.c.d). Returns ok=false for
// any owner not in that exact form.
func parsePTRAddr(owner string) (wire.A, bool) {
	name := strings.TrimSuffix(owner, ".")
	labels := strings.Split(name, ".")
	if len(labels) != 6 {
		return wire.A{}, false
	}
	if !strings.EqualFold(labels[4], "in-addr") || !strings.EqualFold(labels[5], "arpa") {
		return wire.A{}, false
	}
	var a wire.A
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(labels[3-i])
		if err != nil || n < 0 || n > 255 {
			return wire.A{}, false
		}
		a[i] = byte(n)
	}
	return a, true
}
