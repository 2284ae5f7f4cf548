package queryengine

import (
	"strings"

	"github.com/lucab/adns/internal/rclock"
	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/rrtype"
	"github.com/lucab/adns/internal/transport"
	"github.com/lucab/adns/internal/wire"
)

// Submit begins a new query for owner/qtype, returning a handle the caller
// later passes to Check/Wait/Cancel. It validates the owner, applies
// search-list expansion, assigns a random id, builds the outbound wire
// question, and enqueues the query for sending (spec.md §4.2 "Submission").
func (e *Engine) Submit(owner string, qtype rrtype.QueryType, flags Flags, ctx interface{}) (Handle, *rerrors.Error) {
	if _, ok := rrtype.Find(qtype); !ok {
		return Handle{}, rerrors.NewArgumentError("unknown query type")
	}

	expanded, searchErr := e.expandOwner(owner, flags)
	if searchErr != nil {
		return Handle{}, searchErr
	}

	if err := wire.ValidateQueryName(expanded, flags&FlagQuoteOKQuery != 0); err != nil {
		return Handle{}, rerrors.NewArgumentError("invalid query domain: " + err.Error())
	}

	id, err := e.newID()
	if err != nil {
		return Handle{}, rerrors.NewInternalError("allocating query id", err)
	}

	wireQ, err := wire.EncodeQuestion(id, expanded, qtype.WireType())
	if err != nil {
		return Handle{}, rerrors.NewArgumentError("encoding query: " + err.Error())
	}

	q := &query{
		id:           id,
		ctx:          ctx,
		qtype:        qtype,
		owner:        expanded,
		flags:        flags,
		wireQuestion: wireQ,
		state:        StateToSend,
	}
	if qtype == rrtype.PTR {
		q.ptrQueriedAddr, q.ptrQueriedAddrOK = parsePTRAddr(expanded)
	}
	e.byID[id] = q
	e.timew.pushBack(q)

	if now, ok := e.now(); ok {
		q.deadline = now // send is due immediately; processTimeouts will dispatch it
	}

	if !e.noAutoSys {
		e.dispatchSends()
	}

	return Handle{q: q}, nil
}

// expandOwner applies the ndots/search-list rule described in spec.md §6:
// if FlagSearch is set, the name has no trailing dot, and it contains fewer
// dots than the configured ndots threshold, the first search-list domain is
// appended. This is a deliberate simplification of the reference resolver's
// full sequential-retry-across-the-searchlist behavior — documented as an
// Open Question resolution in DESIGN.md.
func (e *Engine) expandOwner(owner string, flags Flags) (string, *rerrors.Error) {
	if flags&FlagSearch == 0 || strings.HasSuffix(owner, ".") || len(e.cfg.Search) == 0 {
		return owner, nil
	}
	if strings.Count(owner, ".") >= e.cfg.NDots {
		return owner, nil
	}
	return owner + "." + e.cfg.Search[0], nil
}

// dispatchSends walks the tosend-state entries of timew and attempts a UDP
// send for each, per spec.md §4.2 "UDP send" / the "auto-sys" note in §4.4.
func (e *Engine) dispatchSends() {
	e.timew.forEach(func(q *query) bool {
		if q.state == StateToSend {
			e.trySendUDP(q)
		}
		return true
	})
}

// trySendUDP sends q's current wire question (or TCP fallback if
// FlagUseVC) to its next untried server.
func (e *Engine) trySendUDP(q *query) {
	if q.flags&FlagUseVC != 0 {
		e.enterTCP(q)
		return
	}
	serv := e.nextServer(q.serverTriedMask)
	result := e.udp.SendTo(e.server(serv), q.wireQuestion)
	q.serverTriedMask |= 1 << uint(serv)
	switch result {
	case transport.SendOK:
		q.state = StateUDP
		now, ok := e.now()
		if !ok {
			return
		}
		q.deadline = rclock.NextUDPDeadline(now, q.udpAttempt)
		q.udpAttempt++
	case transport.SendTooBig:
		e.enterTCP(q)
	default:
		// retryable or server-failed: leave tosend, timeout loop retries
		// against the next server on the next processTimeouts pass.
	}
}

// nextServer picks the lowest-index untried server, wrapping to 0 once all
// have been tried at least once (spec.md §4.2 "UDP send" server rotation).
func (e *Engine) nextServer(triedMask uint8) int {
	for i := 0; i < e.numServers(); i++ {
		if triedMask&(1<<uint(i)) == 0 {
			return i
		}
	}
	return 0
}

// enterTCP switches q to the TCP path: tcpwait if no connection is open yet,
// or straight to tcpsent if the shared connection is already OK and idle.
func (e *Engine) enterTCP(q *query) {
	q.state = StateTCPWait
	now, ok := e.now()
	if ok {
		q.deadline = now // placeholder; TCP dispatch recomputes on send
	}
	e.pumpTCP()
}
