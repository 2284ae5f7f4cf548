package queryengine

import (
	"testing"
	"time"

	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/rrtype"
	"github.com/lucab/adns/internal/wire"
)

// --- minimal wire-message builders for feeding handleResponse directly ---

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func encodeRR(t *testing.T, name string, typ wire.RRType, ttl uint32, rdata []byte) []byte {
	t.Helper()
	buf, err := wire.EncodeName(nil, name)
	if err != nil {
		t.Fatalf("EncodeName(%q): %v", name, err)
	}
	buf = appendU16(buf, uint16(typ))
	buf = appendU16(buf, uint16(wire.ClassIN))
	buf = appendU32(buf, ttl)
	buf = appendU16(buf, uint16(len(rdata)))
	return append(buf, rdata...)
}

func mxRData(t *testing.T, pref uint16, exchange string) []byte {
	t.Helper()
	buf := appendU16(nil, pref)
	buf, err := wire.EncodeName(buf, exchange)
	if err != nil {
		t.Fatalf("EncodeName(%q): %v", exchange, err)
	}
	return buf
}

func ptrRData(t *testing.T, target string) []byte {
	t.Helper()
	buf, err := wire.EncodeName(nil, target)
	if err != nil {
		t.Fatalf("EncodeName(%q): %v", target, err)
	}
	return buf
}

func soaRData(t *testing.T, mname, rname string, serial, refresh, retry, expire, minimum uint32) []byte {
	t.Helper()
	buf, err := wire.EncodeName(nil, mname)
	if err != nil {
		t.Fatalf("EncodeName(%q): %v", mname, err)
	}
	buf, err = wire.EncodeName(buf, rname)
	if err != nil {
		t.Fatalf("EncodeName(%q): %v", rname, err)
	}
	buf = appendU32(buf, serial)
	buf = appendU32(buf, refresh)
	buf = appendU32(buf, retry)
	buf = appendU32(buf, expire)
	return appendU32(buf, minimum)
}

func buildMessage(t *testing.T, id uint16, rcode wire.RCode, ra bool, qname string, qtype wire.RRType, answers, authority, additional [][]byte) []byte {
	t.Helper()
	hdr := wire.Header{
		ID: id, QR: true, RD: true, RA: ra, RCode: rcode,
		QDCount: 1,
		ANCount: uint16(len(answers)),
		NSCount: uint16(len(authority)),
		ARCount: uint16(len(additional)),
	}
	buf := wire.EncodeHeader(nil, hdr)
	buf, err := wire.EncodeName(buf, qname)
	if err != nil {
		t.Fatalf("EncodeName(%q): %v", qname, err)
	}
	buf = appendU16(buf, uint16(qtype))
	buf = appendU16(buf, uint16(wire.ClassIN))
	for _, rr := range answers {
		buf = append(buf, rr...)
	}
	for _, rr := range authority {
		buf = append(buf, rr...)
	}
	for _, rr := range additional {
		buf = append(buf, rr...)
	}
	return buf
}

// TestProcessAnswerSetsExpiresFromAnswerTTL exercises spec scenario S1: the
// completed answer's expiry is now + the TTL of the A record that produced
// it.
func TestProcessAnswerSetsExpiresFromAnswerTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_000_000, 0)}
	e := newTestEngine(t, clock)
	h, err := e.Submit("example.com", rrtype.A, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	answer := encodeRR(t, "example.com", wire.TypeA, 60, []byte{93, 184, 216, 34})
	msg := buildMessage(t, h.q.id, wire.RCodeNoError, true, "example.com", wire.TypeA, [][]byte{answer}, nil, nil)
	e.handleResponse(msg, false)

	ans, ok := e.Check(h)
	if !ok {
		t.Fatalf("expected the query to complete")
	}
	if ans.Status != rerrors.OK {
		t.Fatalf("Status = %v, want OK", ans.Status)
	}
	want := clock.now.Add(60 * time.Second)
	if !ans.Expires.Equal(want) {
		t.Errorf("Expires = %v, want %v", ans.Expires, want)
	}
}

// TestProcessAnswerNXDomainExpiresFromAuthoritySOA exercises the NXDOMAIN
// branch of spec scenario S1-equivalent negative caching: expiry comes from
// the authority section's SOA MINIMUM, not from any answer RR.
func TestProcessAnswerNXDomainExpiresFromAuthoritySOA(t *testing.T) {
	clock := &fakeClock{now: time.Unix(2_000_000, 0)}
	e := newTestEngine(t, clock)
	h, err := e.Submit("nosuchhost.example.com", rrtype.A, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	soa := encodeRR(t, "example.com", wire.TypeSOA, 3600,
		soaRData(t, "ns1.example.com", "hostmaster.example.com", 1, 7200, 900, 604800, 300))
	msg := buildMessage(t, h.q.id, wire.RCodeNXDomain, true, "nosuchhost.example.com", wire.TypeA, nil, [][]byte{soa}, nil)
	e.handleResponse(msg, false)

	ans, ok := e.Check(h)
	if !ok {
		t.Fatalf("expected the query to complete")
	}
	if ans.Status != rerrors.NXDomain {
		t.Fatalf("Status = %v, want NXDomain", ans.Status)
	}
	want := clock.now.Add(300 * time.Second)
	if !ans.Expires.Equal(want) {
		t.Errorf("Expires = %v, want now+SOA.Minimum (%v)", ans.Expires, want)
	}
}

// TestCheckedPTRRejectsMismatchedChildAddress exercises spec scenario S3: a
// "checked" PTR whose child A query resolves to an address other than the
// one the PTR owner actually asks about must report Inconsistent with no
// records, not OK.
func TestCheckedPTRRejectsMismatchedChildAddress(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("5.2.0.192.in-addr.arpa", rrtype.PTR, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !h.q.ptrQueriedAddrOK || h.q.ptrQueriedAddr != (wire.A{192, 0, 2, 5}) {
		t.Fatalf("ptrQueriedAddr = %v, %v; want 192.0.2.5, true", h.q.ptrQueriedAddr, h.q.ptrQueriedAddrOK)
	}

	answer := encodeRR(t, "5.2.0.192.in-addr.arpa", wire.TypePTR, 3600, ptrRData(t, "host.example.com"))
	msg := buildMessage(t, h.q.id, wire.RCodeNoError, true, "5.2.0.192.in-addr.arpa", wire.TypePTR, [][]byte{answer}, nil, nil)
	e.handleResponse(msg, false)

	if h.q.state != StateChild {
		t.Fatalf("state = %v, want StateChild while the child A query resolves", h.q.state)
	}
	child := h.q.children[0]
	child.pending.rrs = []interface{}{wire.A{10, 0, 0, 1}} // does not contain the queried address
	e.completeWithStatus(child, rerrors.OK)

	ans, ok := e.Check(h)
	if !ok {
		t.Fatalf("expected the parent query to complete")
	}
	if ans.Status != rerrors.Inconsistent {
		t.Fatalf("Status = %v, want Inconsistent", ans.Status)
	}
	if ans.NRRs != 0 {
		t.Fatalf("NRRs = %d, want 0", ans.NRRs)
	}
}

// TestCheckedPTRConfirmsMatchingChildAddress is the positive counterpart of
// the above: when the child resolves to the queried address, the PTR
// succeeds.
func TestCheckedPTRConfirmsMatchingChildAddress(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("5.2.0.192.in-addr.arpa", rrtype.PTR, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	answer := encodeRR(t, "5.2.0.192.in-addr.arpa", wire.TypePTR, 3600, ptrRData(t, "host.example.com"))
	msg := buildMessage(t, h.q.id, wire.RCodeNoError, true, "5.2.0.192.in-addr.arpa", wire.TypePTR, [][]byte{answer}, nil, nil)
	e.handleResponse(msg, false)

	child := h.q.children[0]
	child.pending.rrs = []interface{}{wire.A{192, 0, 2, 5}}
	e.completeWithStatus(child, rerrors.OK)

	ans, ok := e.Check(h)
	if !ok {
		t.Fatalf("expected the parent query to complete")
	}
	if ans.Status != rerrors.OK {
		t.Fatalf("Status = %v, want OK", ans.Status)
	}
	names, ok := ans.RRs.([]string)
	if !ok || len(names) != 1 || names[0] != "host.example.com" {
		t.Fatalf("RRs = %#v, want one confirmed hostname", ans.RRs)
	}
}

// TestMXAdditionalGlueSkipsFollowUpQuery exercises spec scenario S4: an MX
// exchange with a matching A record in the Additional section is inlined
// without spawning a child query, and results stay sorted by preference.
func TestMXAdditionalGlueSkipsFollowUpQuery(t *testing.T) {
	e := newTestEngine(t, &fakeClock{now: time.Unix(0, 0)})
	h, err := e.Submit("example.com", rrtype.MX, 0, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	mx20 := encodeRR(t, "example.com", wire.TypeMX, 3600, mxRData(t, 20, "mx2.example.com"))
	mx10 := encodeRR(t, "example.com", wire.TypeMX, 3600, mxRData(t, 10, "mx1.example.com"))
	glue := encodeRR(t, "mx1.example.com", wire.TypeA, 3600, []byte{192, 0, 2, 1})
	msg := buildMessage(t, h.q.id, wire.RCodeNoError, true, "example.com", wire.TypeMX, [][]byte{mx20, mx10}, nil, [][]byte{glue})
	e.handleResponse(msg, false)

	if h.q.state != StateChild {
		t.Fatalf("state = %v, want StateChild (mx2 still needs a child query)", h.q.state)
	}
	if len(h.q.children) != 1 {
		t.Fatalf("len(children) = %d, want 1 (mx1 resolved via glue, no follow-up query)", len(h.q.children))
	}
	if h.q.children[0].owner != "mx2.example.com" {
		t.Errorf("spawned child owner = %q, want mx2.example.com", h.q.children[0].owner)
	}

	child := h.q.children[0]
	child.pending.rrs = []interface{}{wire.A{203, 0, 113, 5}}
	e.completeWithStatus(child, rerrors.OK)

	ans, ok := e.Check(h)
	if !ok {
		t.Fatalf("expected the parent query to complete")
	}
	hosts, ok := ans.RRs.([]rrtype.IntHostAddr)
	if !ok || len(hosts) != 2 {
		t.Fatalf("RRs = %#v, want two IntHostAddr entries", ans.RRs)
	}
	if hosts[0].Preference != 10 || hosts[0].HostAddr.Host != "mx1.example.com" {
		t.Errorf("hosts[0] = %+v, want preference 10 / mx1.example.com sorted first", hosts[0])
	}
	if len(hosts[0].HostAddr.Addrs) != 1 || hosts[0].HostAddr.Addrs[0] != (wire.A{192, 0, 2, 1}) {
		t.Errorf("hosts[0].Addrs = %v, want glue address 192.0.2.1", hosts[0].HostAddr.Addrs)
	}
	if hosts[1].Preference != 20 || hosts[1].HostAddr.Host != "mx2.example.com" {
		t.Errorf("hosts[1] = %+v, want preference 20 / mx2.example.com sorted second", hosts[1])
	}
	if len(hosts[1].HostAddr.Addrs) != 1 || hosts[1].HostAddr.Addrs[0] != (wire.A{203, 0, 113, 5}) {
		t.Errorf("hosts[1].Addrs = %v, want child-resolved address 203.0.113.5", hosts[1].HostAddr.Addrs)
	}
}
