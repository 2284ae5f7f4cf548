package queryengine

import (
	"math"
	"strings"
	"time"

	"github.com/lucab/adns/internal/rclock"
	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/rrtype"
	"github.com/lucab/adns/internal/transport"
	"github.com/lucab/adns/internal/wire"
)

// maxCNames bounds CNAME-chain following, per spec.md §4.2 "Answer scan".
const maxCNames = 8

// ProcessUDPReadable drains every pending UDP datagram and routes each to
// its matching query, per spec.md §4.3.
func (e *Engine) ProcessUDPReadable() {
	datagrams, err := e.udp.DrainReadable()
	if err != nil {
		e.log.Errorf("udp drain: %v", err)
		return
	}
	for _, dg := range datagrams {
		if dg.From == nil || dg.From.To4() == nil {
			continue // invalid source, silently discarded per spec.md §4.2
		}
		e.handleResponse(dg.Data, false)
	}
}

// ProcessTCPReadable drains the shared TCP connection and routes every
// complete framed message, per spec.md §4.3/§6.
func (e *Engine) ProcessTCPReadable() {
	msgs, broken, reason := e.tcp.DrainReadable()
	for _, m := range msgs {
		e.handleResponse(m, true)
	}
	if broken {
		e.handleTCPBroken(reason)
	}
}

// ProcessTCPWritable advances connect()/flush on the shared TCP socket.
func (e *Engine) ProcessTCPWritable() {
	broken, reason := e.tcp.HandleWritable()
	if broken {
		e.handleTCPBroken(reason)
		return
	}
	e.pumpTCP()
}

// ProcessTCPExceptional handles an exceptional-condition notice, per
// spec.md §4.4.
func (e *Engine) ProcessTCPExceptional() {
	if broken, reason := e.tcp.HandleExceptional(); broken {
		e.handleTCPBroken(reason)
	}
}

// handleTCPBroken marks the current server failed in every in-flight
// tcpwait/tcpsent query's tcpfailed bitmap (spec.md §4.3 "On broken"), then
// rotates the connection.
func (e *Engine) handleTCPBroken(reason string) {
	serv := e.tcp.CurrentServer()
	e.log.Warnf("tcp connection to server %d broken: %s", serv, reason)
	mark := func(q *query) bool {
		if q.state == StateTCPWait || q.state == StateTCPSent {
			q.tcpFailedMask |= 1 << uint(serv)
			if int(popcount(q.tcpFailedMask)) >= e.numServers() {
				e.completeWithStatus(q, rerrors.AllServFail)
			} else {
				q.state = StateTCPWait
			}
		}
		return true
	}
	e.timew.forEach(mark)
	e.tcp.Break()
	e.pumpTCP()
}

func popcount(b uint8) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// pumpTCP drives the shared TCP connection forward: connecting it to a
// server that still has tcpwait work, or sending queued questions once
// connected, per spec.md §4.3.
func (e *Engine) pumpTCP() {
	switch e.tcp.State() {
	case transport.Disconnected:
		e.timew.forEach(func(q *query) bool {
			if q.state != StateTCPWait {
				return true
			}
			serv := e.nextUntried(q.tcpFailedMask)
			if err := e.tcp.TryConnect(serv, e.server(serv)); err != nil {
				e.log.Errorf("tcp connect: %v", err)
				return true
			}
			return false // one connection attempt per call
		})
	case transport.OK:
		e.timew.forEach(func(q *query) bool {
			if q.state != StateTCPWait {
				return true
			}
			if err := e.tcp.Enqueue(q.wireQuestion); err != nil {
				e.completeWithStatus(q, rerrors.InvalidResponse)
				return true
			}
			q.state = StateTCPSent
			if now, ok := e.now(); ok {
				q.deadline = rclock.TCPDeadline(now)
			}
			return true
		})
	}
}

func (e *Engine) nextUntried(mask uint8) int {
	for i := 0; i < e.numServers(); i++ {
		if mask&(1<<uint(i)) == 0 {
			return i
		}
	}
	return 0
}

// handleResponse parses one complete DNS message (UDP datagram or TCP
// frame) and applies it to the matching live query, per spec.md §4.2 "UDP
// receive" / "TCP receive".
func (e *Engine) handleResponse(data []byte, viaTCP bool) {
	hdr, err := wire.DecodeHeader(data)
	if err != nil {
		return // too short to even have an id; nothing to blame
	}
	q, ok := e.byID[hdr.ID]
	if !ok {
		return // stale, spoofed, or duplicate retransmission response
	}
	if (!viaTCP && q.state != StateUDP) || (viaTCP && q.state != StateTCPSent) {
		return // response doesn't match this query's current phase
	}

	quoteOK := q.flags&FlagQuoteOKAnsHost != 0
	_, respQuestion, offset, err := wire.ParseHeaderAndQuestion(data, true)
	if err != nil {
		e.serverMisbehaved(q, viaTCP, "malformed question section: "+err.Error())
		return
	}
	origQuestion, _, _, qerr := wire.ParseHeaderAndQuestion(q.wireQuestion, true)
	if qerr == nil && !wire.MatchQuestion(origQuestion, respQuestion) {
		e.serverMisbehaved(q, viaTCP, "response question does not match query")
		return
	}

	if hdr.TC && !viaTCP {
		e.log.Debugf("query %d: response truncated, falling back to TCP", q.id)
		e.enterTCP(q)
		return
	}

	switch hdr.RCode {
	case wire.RCodeNoError:
		e.processAnswer(q, data, offset, int(hdr.ANCount), int(hdr.NSCount), int(hdr.ARCount), hdr.RA, quoteOK)
	case wire.RCodeServFail:
		e.retryOrFail(q)
	case wire.RCodeFormErr:
		e.completeWithStatus(q, rerrors.RCodeFormError)
	case wire.RCodeNotImp:
		e.completeWithStatus(q, rerrors.RCodeNotImplemented)
	case wire.RCodeRefused:
		e.completeWithStatus(q, rerrors.RCodeRefused)
	case wire.RCodeNXDomain:
		e.completeNXDomain(q, data, offset, int(hdr.ANCount), int(hdr.NSCount), quoteOK)
	default:
		e.completeWithStatus(q, rerrors.RCodeUnknown)
	}
}

// completeNXDomain finalizes an NXDOMAIN response. Per spec.md §4.2, the
// negative-caching expiry comes from the authority section's SOA MINIMUM,
// not from any answer RR (NXDOMAIN responses carry no matching answer).
func (e *Engine) completeNXDomain(q *query, data []byte, offset, ancount, nscount int, quoteOK bool) {
	off := offset
	if skipRRs(data, &off, ancount) == nil {
		for i := 0; i < nscount; i++ {
			rrhdr, err := wire.DecodeRRHeader(data, &off, true)
			if err != nil {
				break
			}
			if rrhdr.Type == wire.TypeSOA {
				if soa, perr := wire.ParseSOA(data, rrhdr.RDOff, rrhdr.RDEnd, quoteOK); perr == nil {
					if now, ok := e.now(); ok {
						q.pending.expires = now.Add(time.Duration(soa.Minimum) * time.Second)
					}
				}
				break
			}
		}
	}
	e.completeWithStatus(q, rerrors.NXDomain)
}

// skipRRs advances *offset past count RR headers and their rdata without
// parsing any payload, for walking past a section whose records aren't
// needed before reaching the one that follows.
func skipRRs(data []byte, offset *int, count int) error {
	for i := 0; i < count; i++ {
		rrhdr, err := wire.DecodeRRHeader(data, offset, true)
		if err != nil {
			return err
		}
		*offset = rrhdr.RDEnd
	}
	return nil
}

// scanAdditionalGlue walks past the authority section (nscount records,
// already known not to matter here) and collects every A record in the
// additional section into a lowercased-owner -> address map, for inlining
// NS/MX "+addr" glue without a follow-up child query (spec.md §4.2's
// Additional section handling). Returns nil if no glue was found.
func scanAdditionalGlue(data []byte, offset, nscount, arcount int) map[string]wire.A {
	off := offset
	if skipRRs(data, &off, nscount) != nil {
		return nil
	}
	var glue map[string]wire.A
	for i := 0; i < arcount; i++ {
		rrhdr, err := wire.DecodeRRHeader(data, &off, true)
		if err != nil {
			break
		}
		if rrhdr.Type == wire.TypeA {
			if a, perr := wire.ParseA(data, rrhdr.RDOff, rrhdr.RDEnd); perr == nil {
				if glue == nil {
					glue = make(map[string]wire.A)
				}
				glue[strings.ToLower(rrhdr.Name)] = a
			}
		}
	}
	return glue
}

// serverMisbehaved logs a warning (unless noserverwarn) and treats the
// response as if it had never arrived, leaving the query to time out or
// retry normally (spec.md §4.2).
func (e *Engine) serverMisbehaved(q *query, viaTCP bool, why string) {
	e.log.Warnf("query %d: %s", q.id, why)
}

// retryOrFail handles a SERVFAIL response: if every configured server has
// already been tried for this query (serverTriedMask), it completes with
// AllServFail; otherwise it's pushed back to tosend for the next server.
func (e *Engine) retryOrFail(q *query) {
	if int(popcount(q.serverTriedMask)) >= e.numServers() {
		e.completeWithStatus(q, rerrors.AllServFail)
		return
	}
	q.state = StateToSend
	if !e.noAutoSys {
		e.trySendUDP(q)
	}
}

// processAnswer scans the answer section starting at offset, following
// CNAMEs and matching RRs against the query's requested type, then
// completes or spawns child queries as appropriate (spec.md §4.2 "Answer
// scan").
func (e *Engine) processAnswer(q *query, data []byte, offset int, ancount, nscount, arcount int, serverRA bool, quoteOK bool) {
	wireType := q.qtype.WireType()
	expectedOwner := q.owner
	cnamesFollowed := 0
	var rrs []interface{}
	var sawCName string
	minTTL := uint32(math.MaxUint32)

	off := offset
	for i := 0; i < ancount; i++ {
		rrhdr, err := wire.DecodeRRHeader(data, &off, true)
		if err != nil {
			e.completeWithStatus(q, rerrors.InvalidResponse)
			return
		}
		off = rrhdr.RDEnd

		if !strings.EqualFold(rrhdr.Name, expectedOwner) {
			continue // RR for a different owner (e.g. glue); skip it
		}

		if rrhdr.Type == wire.TypeCNAME && wireType != wire.TypeCNAME {
			if q.flags&FlagCNameForbid != 0 {
				e.completeWithStatus(q, rerrors.ProhibitedCName)
				return
			}
			cn, err := wire.ParseCNAME(data, rrhdr.RDOff, rrhdr.RDEnd, quoteOK)
			if err != nil {
				e.completeWithStatus(q, rerrors.InvalidResponse)
				return
			}
			cnamesFollowed++
			if cnamesFollowed > maxCNames {
				e.completeWithStatus(q, rerrors.InvalidResponse)
				return
			}
			if sawCName == "" {
				sawCName = cn.Target
			}
			expectedOwner = cn.Target
			if rrhdr.TTL < minTTL {
				minTTL = rrhdr.TTL
			}
			continue
		}

		if rrhdr.Type != wireType {
			continue
		}

		rr, perr := parseRR(data, rrhdr, quoteOK)
		if perr != nil {
			e.completeWithStatus(q, rerrors.InvalidResponse)
			return
		}
		rrs = append(rrs, rr)
		if rrhdr.TTL < minTTL {
			minTTL = rrhdr.TTL
		}
	}

	if len(rrs) == 0 {
		if sawCName != "" && q.qtype != rrtype.CNAME {
			// a CNAME chain that never reaches a record of the requested
			// type at its end is NODATA, not an error.
			e.completeWithStatus(q, rerrors.NoData)
			return
		}
		if !serverRA {
			e.completeWithStatus(q, rerrors.NoRecurse)
			return
		}
		e.completeWithStatus(q, rerrors.NoData)
		return
	}

	// Expiry is now + the smallest TTL among the RRs actually used to build
	// this answer (spec.md §4.2 "Completion"), so a cache built on top of
	// this library never outlives the shortest-lived record it relied on.
	now, ok := e.now()
	if !ok {
		return // clock failure already force-completed every live query, including q
	}
	q.pending.expires = now.Add(time.Duration(minTTL) * time.Second)

	q.pending.cname = sawCName
	q.pending.rrs = rrs
	switch q.qtype {
	case rrtype.NS, rrtype.MX, rrtype.PTR:
		// these "+addr"/"checked" variants need a child address lookup
		// per record before the query can complete (spec.md §4.2 "Child
		// query spawning"); Addr, despite also carrying the deref flag, is
		// itself already an address record and needs no child. Additional
		// section glue lets some of those lookups resolve without ever
		// spawning a child at all.
		q.glue = scanAdditionalGlue(data, off, nscount, arcount)
		e.spawnChildren(q)
	default:
		e.completeWithStatus(q, rerrors.OK)
	}
}

// parseRR dispatches to the per-type wire parser selected by rrhdr.Type.
func parseRR(data []byte, rrhdr wire.RRHeader, quoteOK bool) (interface{}, error) {
	switch rrhdr.Type {
	case wire.TypeA:
		return wire.ParseA(data, rrhdr.RDOff, rrhdr.RDEnd)
	case wire.TypeNS:
		return wire.ParseNS(data, rrhdr.RDOff, rrhdr.RDEnd, quoteOK)
	case wire.TypeCNAME:
		return wire.ParseCNAME(data, rrhdr.RDOff, rrhdr.RDEnd, quoteOK)
	case wire.TypeSOA:
		return wire.ParseSOA(data, rrhdr.RDOff, rrhdr.RDEnd, quoteOK)
	case wire.TypePTR:
		return wire.ParsePTR(data, rrhdr.RDOff, rrhdr.RDEnd, quoteOK)
	case wire.TypeHINFO:
		return wire.ParseHINFO(data, rrhdr.RDOff, rrhdr.RDEnd)
	case wire.TypeMX:
		return wire.ParseMX(data, rrhdr.RDOff, rrhdr.RDEnd, quoteOK)
	case wire.TypeTXT:
		return wire.ParseTXT(data, rrhdr.RDOff, rrhdr.RDEnd)
	case wire.TypeRP:
		return wire.ParseRP(data, rrhdr.RDOff, rrhdr.RDEnd, quoteOK)
	default:
		return nil, wire.ErrInvalidName
	}
}
