package queryengine

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/resolvconf"
	"github.com/lucab/adns/internal/rlog"
	"github.com/lucab/adns/internal/rrtype"
	"github.com/lucab/adns/internal/wire"
)

// fakeClock gives deterministic, test-driven control over deadline
// arithmetic instead of the real wall clock.
type fakeClock struct {
	now time.Time
	err error
}

func (c *fakeClock) Now() (time.Time, error) { return c.now, c.err }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testConfig() *resolvconf.Config {
	return &resolvconf.Config{
		NameServers: []net.IP{net.IPv4(192, 0, 2, 1), net.IPv4(192, 0, 2, 2)},
		NDots:       1,
		Timeout:     3,
		Attempts:    4,
	}
}

func newTestEngine(t *testing.T, clock *fakeClock) *Engine {
	t.Helper()
	logger := rlog.New(false, true, true, nil)
	e, err := New(testConfig(), logger, clock, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Finish)
	return e
}

func TestSubmitRejectsUnknownQueryType(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	_, err := e.Submit("example.com", rrtype.QueryType(0xffff), 0, nil)
	if err == nil {
		t.Fatalf("expected an error for an unregistered query type")
	}
}

func TestSubmitRejectsInvalidOwner(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	_, err := e.Submit("not a valid name!!", rrtype.A, 0, nil)
	if err == nil {
		t.Fatalf("expected an error for an invalid owner name")
	}
}

func TestSubmitDispatchesFirstUDPSend(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("example.com", rrtype.A, 0, "ctx")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.q.state != StateUDP {
		t.Fatalf("state = %v, want StateUDP after auto-dispatch", h.q.state)
	}
	if h.q.serverTriedMask&1 == 0 {
		t.Errorf("serverTriedMask = %08b, want server 0 marked tried", h.q.serverTriedMask)
	}
	if h.Context() != "ctx" {
		t.Errorf("Context() = %v, want %q", h.Context(), "ctx")
	}
}

func TestCheckBeforeCompletionReturnsFalse(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("example.com", rrtype.A, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := e.Check(h); ok {
		t.Fatalf("Check returned ok=true before the query completed")
	}
}

func TestCheckAfterCompletionReturnsAnswer(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("example.com", rrtype.A, FlagOwner, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.completeWithStatus(h.q, rerrors.NXDomain)
	ans, ok := e.Check(h)
	if !ok {
		t.Fatalf("Check returned ok=false after completion")
	}
	if ans.Status != rerrors.NXDomain {
		t.Errorf("Status = %v, want NXDomain", ans.Status)
	}
	if ans.Owner != "example.com" {
		t.Errorf("Owner = %q, want echoed owner", ans.Owner)
	}
	if _, id := e.byID[h.q.id]; id {
		t.Errorf("completed query id still tracked in byID")
	}
}

func TestCancelRemovesQueryAndFreesID(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("example.com", rrtype.A, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	id := h.q.id
	e.Cancel(h)
	if h.q.state != StateDone {
		t.Errorf("state = %v, want StateDone after Cancel", h.q.state)
	}
	if _, ok := e.byID[id]; ok {
		t.Errorf("canceled query id still tracked in byID")
	}
	if _, ok := e.Check(h); ok {
		t.Errorf("Check on a canceled query should never report ok=true")
	}
}

func TestCancelRecursivelyOrphansChildren(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("ns.example.com", rrtype.NS, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	parent := h.q
	parent.state = StateChild
	e.timew.remove(parent)
	child := &query{qtype: rrtype.A, owner: "ns1.example.com", state: StateToSend, parent: parent}
	id, _ := e.newID()
	child.id = id
	e.byID[id] = child
	e.timew.pushBack(child)
	parent.children = []*query{child}
	parent.unresolvedChildren = 1
	e.childw.pushBack(parent)

	e.Cancel(h)

	if child.parent != nil {
		t.Errorf("child.parent = %v, want nil (orphaned) after parent cancellation", child.parent)
	}
	if child.state != StateDone {
		t.Errorf("child state = %v, want StateDone", child.state)
	}
	if _, ok := e.byID[id]; ok {
		t.Errorf("canceled child id still tracked in byID")
	}
}

func TestRetryOrFailAdvancesThenExhausts(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("example.com", rrtype.A, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	q := h.q
	q.serverTriedMask = 1 // only server 0 tried so far; 2 servers configured
	e.retryOrFail(q)
	if q.state != StateUDP {
		t.Fatalf("state = %v, want StateUDP after a retry against the remaining server", q.state)
	}
	if q.serverTriedMask != 0b11 {
		t.Fatalf("serverTriedMask = %02b, want both servers now tried", q.serverTriedMask)
	}

	e.retryOrFail(q)
	if _, ok := e.Check(h); !ok {
		t.Fatalf("expected completion once every server has failed")
	}
}

func TestProcessTimeoutsExpiresAfterMaxRetries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	e := newTestEngine(t, clock)
	h, err := e.Submit("example.com", rrtype.A, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for i := 0; i < e.numServers()*4+2; i++ {
		clock.advance(21 * time.Second)
		e.ProcessTimeouts(clock.now)
		if ans, ok := e.Check(h); ok {
			if ans.Status != rerrors.Timeout {
				t.Fatalf("Status = %v, want Timeout", ans.Status)
			}
			return
		}
	}
	t.Fatalf("query never timed out across repeated ProcessTimeouts passes")
}

func TestGlobalSystemFailureCompletesLiveQueries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	e := newTestEngine(t, clock)
	h, err := e.Submit("example.com", rrtype.A, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	clock.err = errors.New("clock_gettime: fake failure")
	if _, ok := e.now(); ok {
		t.Fatalf("now() should report failure once the clock errors")
	}
	ans, ok := e.Check(h)
	if !ok {
		t.Fatalf("expected the query to be force-completed by global system failure")
	}
	if ans.Status != rerrors.SystemFail {
		t.Errorf("Status = %v, want SystemFail", ans.Status)
	}
}

func TestChildCompletedIgnoresAlreadyDoneParent(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	parent := &query{qtype: rrtype.NS, owner: "example.com", state: StateDone}
	child := &query{qtype: rrtype.A, owner: "ns1.example.com", state: StateDone, parent: parent}
	// Must not panic: parent was already force-completed by another path
	// (e.g. globalSystemFailure) before this child finished.
	e.childCompleted(child)
}

func TestSpawnChildrenCompletesParentOnceAllChildrenFinish(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("ns.example.com", rrtype.NS, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	parent := h.q
	parent.pending.rrs = []interface{}{wire.NS{Host: "ns1.example.com"}}

	e.spawnChildren(parent)

	if parent.state != StateChild {
		t.Fatalf("parent state = %v, want StateChild after spawnChildren", parent.state)
	}
	if len(parent.children) != 1 {
		t.Fatalf("len(parent.children) = %d, want 1", len(parent.children))
	}
	child := parent.children[0]
	if child.owner != "ns1.example.com" {
		t.Errorf("child.owner = %q, want the NS target hostname", child.owner)
	}

	e.completeWithStatus(child, rerrors.OK)

	if parent.state != StateDone {
		t.Fatalf("parent state = %v, want StateDone once its only child finishes", parent.state)
	}
	ans, ok := e.Check(h)
	if !ok {
		t.Fatalf("expected the parent query to be checkable once finalized")
	}
	hostAddrs, ok := ans.RRs.([]rrtype.HostAddr)
	if !ok || len(hostAddrs) != 1 || hostAddrs[0].Host != "ns1.example.com" {
		t.Fatalf("RRs = %#v, want one HostAddr for ns1.example.com", ans.RRs)
	}
}
