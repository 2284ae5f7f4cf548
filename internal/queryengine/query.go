// Package queryengine implements the query lifecycle engine described in
// spec.md §4.2: submission, owner canonicalization, search-list expansion,
// CNAME chasing, child-query spawning, and completion/cancellation.
package queryengine

import (
	"time"

	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/rrtype"
	"github.com/lucab/adns/internal/wire"
)

// State is a query's position in its lifecycle (spec.md §3).
type State int

const (
	StateToSend State = iota
	StateUDP
	StateTCPWait
	StateTCPSent
	StateChild
	StateDone
)

func (s State) String() string {
	switch s {
	case StateToSend:
		return "tosend"
	case StateUDP:
		return "udp"
	case StateTCPWait:
		return "tcpwait"
	case StateTCPSent:
		return "tcpsent"
	case StateChild:
		return "child"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Flags are the per-query flags of spec.md §6.
type Flags uint32

const (
	FlagSearch         Flags = 1 << iota // use the searchlist
	FlagUseVC                            // force TCP from the start
	FlagOwner                            // fill in the owner field in the answer
	FlagQuoteOKQuery                     // allow quote-requiring chars in the query domain
	FlagQuoteOKCName                     // ...in a CNAME we follow
	FlagQuoteOKAnsHost                   // ...in answers expected to be hostnames
	FlagCNameLoose                       // allow references to CNAMEs without following
	FlagCNameForbid                      // don't follow CNAMEs; fail instead
)

// listName identifies which of the engine's three lists (spec.md §3) a query
// currently belongs to, purely for invariant checking and debug output; it
// is not the mechanism that orders the list (that's the intrusive prev/next
// links below, per DESIGN.md's "Intrusive doubly-linked lists" note).
type listName int

const (
	listNone listName = iota
	listTimew
	listChildw
	listOutput
)

// query is one pending or completed DNS transaction (spec.md §3 "Query").
// Queries live in a doubly-linked intrusive list (timew/childw/output) via
// the prev/next fields, matching the "index into a slab of query slots"
// pattern DESIGN.md grounds on spec.md §9 — here the "slab" is simply
// pointer identity, which Go's garbage collector makes safe without an
// explicit free-list.
type query struct {
	id  uint16
	ctx interface{}

	qtype rrtype.QueryType
	owner string // presentation form, as submitted (canonicalized)
	flags Flags

	wireQuestion []byte // original outbound wire bytes, for id/question matching

	state State

	udpAttempt      int
	serverTriedMask uint8 // bit i: server i has been tried at least once
	deadline        time.Time
	tcpFailedMask   uint8 // bit i: server i has broken a TCP connection for this query

	parent             *query
	children           []*query // spawned child A queries, in childHostnames order
	unresolvedChildren int
	derefSlots         []derefSlot       // one per pending.rrs entry; glue- or child-resolved
	glue               map[string]wire.A // Additional-section A glue, lowercased owner -> address

	// ptrQueriedAddr is the address parsed out of this query's owner when
	// qtype is PTR (spec.md §4.1's "checked" PTR): the reversed
	// in-addr.arpa form decoded back into the address the caller actually
	// asked about, so finalizeDeref can confirm a candidate only when the
	// child A query's result actually contains it.
	ptrQueriedAddr   wire.A
	ptrQueriedAddrOK bool

	pending pendingAnswer
	answer  *Answer // set once state reaches StateDone and the result is compacted

	// Per-query scratch buffer, the counterpart of the C library's
	// scratch vbuf (spec.md §3); the response-parsing code does not use it.
	scratch []byte

	list       listName
	prev, next *query
}

// pendingAnswer accumulates a query's result as it's built up during
// response processing, compacted into an Answer at completion.
type pendingAnswer struct {
	status  rerrors.Status
	cname   string // set only if a CNAME was followed; spec.md §4.1
	owner   string // set only if FlagOwner
	rrtype  rrtype.QueryType
	expires time.Time
	rrs     []interface{} // one element per matched RR, type-homogeneous
}

// Answer is the caller-visible, compacted result of a completed query
// (spec.md §4.2 "Completion"). RRs is a packed, type-homogeneous slice
// (e.g. []wire.A, []wire.MX, []rrtype.HostAddr) built by reflection at
// finalize time — the Go analogue of the original's
// "[fixed header][RR array]" single allocation block.
type Answer struct {
	Status  rerrors.Status
	CName   string
	Owner   string
	Type    rrtype.QueryType
	Expires time.Time
	RRs     interface{} // packed slice; nil if NRRs == 0
	NRRs    int
}

// List is the doubly-linked intrusive list described in spec.md §9.
type list struct {
	name listName
	head *query
	tail *query
	n    int
}

func (l *list) pushBack(q *query) {
	if q.list != listNone {
		panic("queryengine: query already on a list")
	}
	q.list = l.name
	q.prev = l.tail
	q.next = nil
	if l.tail != nil {
		l.tail.next = q
	} else {
		l.head = q
	}
	l.tail = q
	l.n++
}

func (l *list) remove(q *query) {
	if q.list != l.name {
		panic("queryengine: removing query from wrong list")
	}
	if q.prev != nil {
		q.prev.next = q.next
	} else {
		l.head = q.next
	}
	if q.next != nil {
		q.next.prev = q.prev
	} else {
		l.tail = q.prev
	}
	q.prev, q.next = nil, nil
	q.list = listNone
	l.n--
}

func (l *list) forEach(f func(*query) bool) {
	for q, nq := l.head, (*query)(nil); q != nil; q = nq {
		nq = q.next // f may move q to another list, so capture next first
		if !f(q) {
			return
		}
	}
}
