package queryengine

import (
	"reflect"
	"sort"
	"time"

	"github.com/lucab/adns/internal/rclock"
	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/rrtype"
)

// Handle is an opaque reference to a submitted query, returned by Submit and
// consumed by Check/Cancel/ForEachQuery callbacks.
type Handle struct {
	q *query
}

// Context returns the opaque caller context supplied at Submit.
func (h Handle) Context() interface{} { return h.q.ctx }

// completeWithStatus finalizes q with the given status: unlinks it from
// whichever list it's on, and either feeds the result back to its parent
// (child queries) or compacts it into an Answer and moves it to output
// (spec.md §4.2 "Completion").
func (e *Engine) completeWithStatus(q *query, status rerrors.Status) {
	if q.state == StateDone {
		return
	}
	switch q.list {
	case listTimew:
		e.timew.remove(q)
	case listChildw:
		e.childw.remove(q)
	}
	q.state = StateDone
	q.pending.status = status

	if q.parent != nil {
		e.childCompleted(q)
		return
	}

	delete(e.byID, q.id)
	e.applySort(q)
	q.answer = e.compact(q)
	e.output.pushBack(q)
}

// applySort orders a completed query's pending RRs by the type's comparator
// and the configured sortlist, per spec.md §4.2 "Sort order".
func (e *Engine) applySort(q *query) {
	d, ok := rrtype.Find(q.qtype)
	if !ok || d.Less == nil || len(q.pending.rrs) < 2 {
		return
	}
	ctx := &e.sortctx
	sort.SliceStable(q.pending.rrs, func(i, j int) bool {
		return d.Less(ctx, q.pending.rrs[i], q.pending.rrs[j])
	})
}

// compact builds the caller-visible Answer from a completed query's pending
// state, packing RRs into a type-homogeneous slice via reflection — the Go
// analogue of the original library's single contiguous compacted
// allocation (spec.md §4.2 "Completion"/"Interim memory arena").
func (e *Engine) compact(q *query) *Answer {
	ans := &Answer{
		Status: q.pending.status,
		CName:  q.pending.cname,
		Type:   q.qtype,
	}
	if q.flags&FlagOwner != 0 {
		ans.Owner = q.owner
	}
	if len(q.pending.rrs) == 0 {
		return ans
	}
	d, ok := rrtype.Find(q.qtype)
	if !ok {
		return ans
	}
	sampleType := reflect.TypeOf(d.SampleZero)
	packed := reflect.MakeSlice(reflect.SliceOf(sampleType), len(q.pending.rrs), len(q.pending.rrs))
	for i, rr := range q.pending.rrs {
		packed.Index(i).Set(reflect.ValueOf(rr))
	}
	ans.RRs = packed.Interface()
	ans.NRRs = len(q.pending.rrs)
	ans.Expires = q.pending.expires
	return ans
}

// Check implements the non-blocking `adns_check` contract of spec.md §4.2:
// if h's query has completed, its Answer is returned and ok is true;
// otherwise ok is false and the caller should keep driving the event loop.
func (e *Engine) Check(h Handle) (*Answer, bool) {
	q := h.q
	if q.state != StateDone || q.parent != nil || q.answer == nil {
		return nil, false // still running, a child, or canceled
	}
	if q.list == listOutput {
		e.output.remove(q)
	}
	return q.answer, true
}

// Cancel aborts h's query immediately: recursively cancels any unresolved
// children, unlinks it from every list, and frees its id, per spec.md §4.2
// "Cancellation". A query already completed (and not yet Checked) is
// simply dropped.
func (e *Engine) Cancel(h Handle) {
	e.cancelQuery(h.q)
}

func (e *Engine) cancelQuery(q *query) {
	if q.state == StateDone && q.list != listOutput {
		return // already removed (e.g. was a child, already folded into parent)
	}
	switch q.list {
	case listTimew:
		e.timew.remove(q)
	case listChildw:
		e.childw.remove(q)
	case listOutput:
		e.output.remove(q)
	}
	for _, c := range q.children {
		c.parent = nil // orphan: don't let a late response touch the canceled parent
		e.cancelQuery(c)
	}
	delete(e.byID, q.id)
	q.state = StateDone
	q.answer = nil
}

// FirstTimeout reports the earliest deadline among all in-flight queries
// (those in tosend/udp/tcpwait/tcpsent), for the caller's before_select /
// before_poll timeout computation (spec.md §4.4).
func (e *Engine) FirstTimeout(now time.Time) (time.Time, bool) {
	var first time.Time
	found := false
	e.timew.forEach(func(q *query) bool {
		if !found || q.deadline.Before(first) {
			first = q.deadline
			found = true
		}
		return true
	})
	return first, found
}

// ProcessTimeouts walks every query whose deadline has passed and advances
// it: a tosend/udp query retries against its next server (or times out if
// every server and retry budget is exhausted); a tcpwait/tcpsent query
// times out outright, per spec.md §4.4.
func (e *Engine) ProcessTimeouts(now time.Time) {
	var expired []*query
	e.timew.forEach(func(q *query) bool {
		if !q.deadline.IsZero() && !q.deadline.After(now) {
			expired = append(expired, q)
		}
		return true
	})
	for _, q := range expired {
		e.handleTimeout(q)
	}
}

func (e *Engine) handleTimeout(q *query) {
	switch q.state {
	case StateToSend:
		e.trySendUDP(q)
	case StateUDP:
		if q.udpAttempt >= e.numServers()*rclock.MaxUDPRetries {
			e.completeWithStatus(q, rerrors.Timeout)
			return
		}
		q.state = StateToSend
		e.trySendUDP(q)
	case StateTCPWait, StateTCPSent:
		e.completeWithStatus(q, rerrors.Timeout)
	}
}
