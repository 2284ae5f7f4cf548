package wire

import (
	"testing"

	"github.com/miekg/dns"
)

// buildQuery uses miekg/dns, an independent implementation, to construct
// wire bytes for a query message. This keeps the hand-written codec under
// test honest against a second codec rather than only against itself.
func buildQuery(t *testing.T, id uint16, name string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.Id = id
	m.RecursionDesired = true
	m.Question = []dns.Question{{Name: dns.Fqdn(name), Qtype: qtype, Qclass: dns.ClassINET}}
	buf, err := m.Pack()
	if err != nil {
		t.Fatalf("miekg/dns Pack: %v", err)
	}
	return buf
}

func TestDecodeQuestionRoundTrip(t *testing.T) {
	buf := buildQuery(t, 0x1234, "example.net.", dns.TypeA)
	hdr, q, _, err := ParseHeaderAndQuestion(buf, false)
	if err != nil {
		t.Fatalf("ParseHeaderAndQuestion: %v", err)
	}
	if hdr.ID != 0x1234 {
		t.Errorf("id = %#x, want %#x", hdr.ID, 0x1234)
	}
	if !hdr.RD {
		t.Errorf("RD not set")
	}
	if q.Name != "example.net" {
		t.Errorf("name = %q, want %q", q.Name, "example.net")
	}
	if q.Type != TypeA {
		t.Errorf("type = %v, want A", q.Type)
	}
}

func TestEncodeQuestionDecodesByMiekg(t *testing.T) {
	buf, err := EncodeQuestion(0xbeef, "www.example.com.", TypeMX)
	if err != nil {
		t.Fatalf("EncodeQuestion: %v", err)
	}
	m := new(dns.Msg)
	if err := m.Unpack(buf); err != nil {
		t.Fatalf("miekg/dns Unpack of our encoding: %v", err)
	}
	if m.Id != 0xbeef {
		t.Errorf("id = %#x, want %#x", m.Id, 0xbeef)
	}
	if len(m.Question) != 1 || m.Question[0].Name != "www.example.com." || m.Question[0].Qtype != dns.TypeMX {
		t.Errorf("unexpected question: %+v", m.Question)
	}
}

func TestDecodeNameWithCompression(t *testing.T) {
	// Build a response with an NS answer whose name compresses back into
	// the question, exercising the pointer-following path.
	m := new(dns.Msg)
	m.Id = 7
	m.Question = []dns.Question{{Name: "example.net.", Qtype: dns.TypeNS, Qclass: dns.ClassINET}}
	rr := &dns.NS{
		Hdr: dns.RR_Header{Name: "example.net.", Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
		Ns:  "ns1.example.net.",
	}
	m.Answer = append(m.Answer, rr)
	buf, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	_, _, off, err := ParseHeaderAndQuestion(buf, false)
	if err != nil {
		t.Fatalf("ParseHeaderAndQuestion: %v", err)
	}
	rrhdr, err := DecodeRRHeader(buf, &off, false)
	if err != nil {
		t.Fatalf("DecodeRRHeader: %v", err)
	}
	if rrhdr.Name != "example.net" {
		t.Errorf("owner = %q, want %q", rrhdr.Name, "example.net")
	}
	ns, err := ParseNS(buf, rrhdr.RDOff, rrhdr.RDEnd, false)
	if err != nil {
		t.Fatalf("ParseNS: %v", err)
	}
	if ns.Host != "ns1.example.net" {
		t.Errorf("NS host = %q, want %q", ns.Host, "ns1.example.net")
	}
}

func TestDecodeNameRejectsForwardPointer(t *testing.T) {
	// A name at offset 12 pointing forward to offset 20 (itself, in effect,
	// since there's nothing useful there) must be rejected: pointer targets
	// must be strictly less than the current offset (spec.md §4.1).
	dgram := make([]byte, 30)
	// minimal header
	dgram[2] = 0
	// label at 12 is a pointer to 20 (forward)
	dgram[12] = 0xc0
	dgram[13] = 20
	off := 12
	_, err := DecodeName(dgram, &off, false)
	if err != ErrCompressionLoop {
		t.Fatalf("err = %v, want ErrCompressionLoop", err)
	}
}

func TestDecodeNameRejectsSelfPointer(t *testing.T) {
	dgram := make([]byte, 20)
	dgram[12] = 0xc0
	dgram[13] = 12 // points at itself
	off := 12
	_, err := DecodeName(dgram, &off, false)
	if err != ErrCompressionLoop {
		t.Fatalf("err = %v, want ErrCompressionLoop", err)
	}
}

func TestParseARequiresExactLength(t *testing.T) {
	dgram := []byte{192, 0, 2, 5, 0}
	if _, err := ParseA(dgram, 0, 5); err == nil {
		t.Fatalf("expected error for 5-byte A rdata")
	}
	a, err := ParseA(dgram, 0, 4)
	if err != nil {
		t.Fatalf("ParseA: %v", err)
	}
	if a.String() != "192.0.2.5" {
		t.Errorf("A = %v, want 192.0.2.5", a)
	}
}

func TestInvalidLabelWithoutQuoteOK(t *testing.T) {
	m := new(dns.Msg)
	m.Question = []dns.Question{{Name: "exa mple.net.", Qtype: dns.TypeA, Qclass: dns.ClassINET}}
	buf, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	_, _, _, err = ParseHeaderAndQuestion(buf, false)
	if err != ErrInvalidName {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
	if _, _, _, err := ParseHeaderAndQuestion(buf, true); err != nil {
		t.Fatalf("quoteOK parse should succeed: %v", err)
	}
}

func TestFormatMailbox822Empty(t *testing.T) {
	s, ok := FormatMailbox822(nil, "example.net")
	if !ok || s != "<>" {
		t.Errorf("got %q,%v want <>,true", s, ok)
	}
}

func TestFormatMailbox822Quoting(t *testing.T) {
	s, ok := FormatMailbox822([]byte("john.smith"), "example.net")
	if !ok {
		t.Fatalf("unexpected failure")
	}
	if s != "john.smith@example.net" {
		t.Errorf("got %q", s)
	}

	s, ok = FormatMailbox822([]byte("a@b"), "example.net")
	if !ok {
		t.Fatalf("unexpected failure")
	}
	if s != `"a\@b"@example.net` {
		t.Errorf("got %q", s)
	}
}

func TestFormatTextEscaping(t *testing.T) {
	if got := FormatText("hello"); got != `"hello"` {
		t.Errorf("got %q", got)
	}
	if got := FormatText("a\"b"); got != `"a\"b"` {
		t.Errorf("got %q", got)
	}
	if got := FormatText("a\x01b"); got != `"a\x01b"` {
		t.Errorf("got %q", got)
	}
}
