package queryengine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/lucab/adns/internal/rclock"
	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/resolvconf"
	"github.com/lucab/adns/internal/rlog"
	"github.com/lucab/adns/internal/rrtype"
	"github.com/lucab/adns/internal/transport"
)

// Engine is one resolver instance: its configuration, transport, clock,
// logger, and the three query lists (timew, childw, output) of spec.md §3/§9.
type Engine struct {
	cfg     *resolvconf.Config
	log     *rlog.Logger
	clock   rclock.Source
	udp     *transport.UDP
	tcp     *transport.TCP
	sortctx rrtype.SortContext

	byID map[uint16]*query

	timew  list
	childw list
	output list

	noAutoSys bool
}

// New constructs an Engine from a validated configuration. It opens the
// shared UDP socket and an idle TCP state machine, per spec.md §4.3.
func New(cfg *resolvconf.Config, logger *rlog.Logger, clock rclock.Source, noAutoSys bool) (*Engine, *rerrors.Error) {
	if clock == nil {
		clock = rclock.SystemSource{}
	}
	udpSock, err := transport.NewUDP()
	if err != nil {
		return nil, rerrors.NewSocketError("opening UDP socket", err)
	}
	e := &Engine{
		cfg:       cfg,
		log:       logger,
		clock:     clock,
		udp:       udpSock,
		tcp:       transport.NewTCP(len(cfg.NameServers)),
		sortctx:   cfg.ToSortContext(),
		byID:      make(map[uint16]*query),
		noAutoSys: noAutoSys,
	}
	e.timew = list{name: listTimew}
	e.childw = list{name: listChildw}
	e.output = list{name: listOutput}
	return e, nil
}

// Finish tears down the engine's sockets. Any query still pending is left
// to the caller to Cancel first (spec.md §4.2 "Finish").
func (e *Engine) Finish() {
	e.udp.Close()
	e.tcp.Close()
}

// Now reads the engine's clock source, triggering global-system-failure
// handling on error (spec.md §4.4).
func (e *Engine) Now() (time.Time, bool) { return e.now() }

// FirstTimeoutNow is FirstTimeout evaluated against the current time.
func (e *Engine) FirstTimeoutNow() (time.Time, bool) {
	now, ok := e.now()
	if !ok {
		return time.Time{}, false
	}
	return e.FirstTimeout(now)
}

// UDPFD returns the shared UDP socket descriptor for the caller's event loop.
func (e *Engine) UDPFD() int { return e.udp.FD() }

// TCPFD returns the current TCP descriptor, or -1 when no connection is
// open (spec.md §4.4 readiness-set assembly).
func (e *Engine) TCPFD() int { return e.tcp.FD() }

// TCPWantWrite reports whether the TCP descriptor should be watched for
// writability.
func (e *Engine) TCPWantWrite() bool { return e.tcp.WantWrite() }

// server returns the configured nameserver address at index i, wrapping.
func (e *Engine) server(i int) net.IP {
	return e.cfg.NameServers[i%len(e.cfg.NameServers)]
}

// numServers returns how many nameservers are configured.
func (e *Engine) numServers() int { return len(e.cfg.NameServers) }

// newID allocates a random 16-bit transaction id not currently in use by any
// live query, per spec.md §4.2 step 2 ("randomized unique id"). A
// cryptographic source is used so ids aren't guessable by an off-path
// attacker attempting response spoofing.
func (e *Engine) newID() (uint16, error) {
	var buf [2]byte
	for attempt := 0; attempt < 1000; attempt++ {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("queryengine: reading random id: %w", err)
		}
		id := binary.BigEndian.Uint16(buf[:])
		if _, taken := e.byID[id]; !taken {
			return id, nil
		}
	}
	return 0, fmt.Errorf("queryengine: could not allocate a unique query id")
}

// now reads the clock, translating a failure into the global-system-failure
// sequence of spec.md §4.4: every live query is immediately completed with
// SystemFail.
func (e *Engine) now() (time.Time, bool) {
	t, err := e.clock.Now()
	if err != nil {
		e.log.Errorf("clock failure, failing all live queries: %v", err)
		e.globalSystemFailure()
		return time.Time{}, false
	}
	return t, true
}

// globalSystemFailure completes every query not already done with
// SystemFail, per spec.md §4.4.
func (e *Engine) globalSystemFailure() {
	for _, l := range []*list{&e.timew, &e.childw} {
		l.forEach(func(q *query) bool {
			e.completeWithStatus(q, rerrors.SystemFail)
			return true
		})
	}
}
