package wire

import "fmt"

// RRHeader is the fixed portion common to every resource record: owner
// name, type, class, TTL and rdata length (RFC 1035 §4.1.3).
type RRHeader struct {
	Name   string
	Type   RRType
	Class  Class
	TTL    uint32
	RDLen  uint16
	RDOff  int // offset of rdata within dgram
	RDEnd  int // RDOff + RDLen
}

// DecodeRRHeader reads one RR's fixed header at *offset and advances past
// the rdata bounds declaration (but not past the rdata itself — callers
// dispatch to a per-type parser with [RDOff,RDEnd) and then set *offset to
// RDEnd).
func DecodeRRHeader(dgram []byte, offset *int, quoteOK bool) (RRHeader, error) {
	name, err := DecodeName(dgram, offset, quoteOK)
	if err != nil {
		return RRHeader{}, err
	}
	typ, next, err := get16(dgram, *offset, len(dgram))
	if err != nil {
		return RRHeader{}, err
	}
	class, next, err := get16(dgram, next, len(dgram))
	if err != nil {
		return RRHeader{}, err
	}
	ttl, next, err := get32(dgram, next, len(dgram))
	if err != nil {
		return RRHeader{}, err
	}
	rdlen, next, err := get16(dgram, next, len(dgram))
	if err != nil {
		return RRHeader{}, err
	}
	if next+int(rdlen) > len(dgram) {
		return RRHeader{}, fmt.Errorf("wire: rdata extends past end of datagram")
	}
	*offset = next
	return RRHeader{
		Name:  name,
		Type:  RRType(typ),
		Class: Class(class),
		TTL:   ttl,
		RDLen: rdlen,
		RDOff: next,
		RDEnd: next + int(rdlen),
	}, nil
}

// --- per-type rdata payloads ---

// A is the rdata of an A record: a 4-byte IPv4 address.
type A [4]byte

func (a A) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// ParseA decodes a 4-byte IPv4 address. It must consume exactly the bytes
// between start and end, per spec.md §4.1.
func ParseA(dgram []byte, start, end int) (A, error) {
	if end-start != 4 {
		return A{}, fmt.Errorf("wire: invalidresponse: A record length %d != 4", end-start)
	}
	var a A
	copy(a[:], dgram[start:end])
	return a, nil
}

// NS is the rdata of an NS record: a (possibly compressed) domain name.
type NS struct{ Host string }

func ParseNS(dgram []byte, start, end int, quoteOK bool) (NS, error) {
	off := start
	host, err := DecodeName(dgram, &off, quoteOK)
	if err != nil {
		return NS{}, err
	}
	if off != end {
		return NS{}, fmt.Errorf("wire: invalidresponse: NS record did not consume exactly its rdata")
	}
	return NS{Host: host}, nil
}

// CNAME is the rdata of a CNAME record: a domain name.
type CNAME struct{ Target string }

func ParseCNAME(dgram []byte, start, end int, quoteOK bool) (CNAME, error) {
	off := start
	target, err := DecodeName(dgram, &off, quoteOK)
	if err != nil {
		return CNAME{}, err
	}
	if off != end {
		return CNAME{}, fmt.Errorf("wire: invalidresponse: CNAME record did not consume exactly its rdata")
	}
	return CNAME{Target: target}, nil
}

// SOA is the rdata of an SOA record.
type SOA struct {
	MName, RName                           string
	Serial, Refresh, Retry, Expire, Minimum uint32
}

func ParseSOA(dgram []byte, start, end int, quoteOK bool) (SOA, error) {
	off := start
	mname, err := DecodeName(dgram, &off, quoteOK)
	if err != nil {
		return SOA{}, err
	}
	rname, err := DecodeName(dgram, &off, true) // mailbox local-part may need quoting
	if err != nil {
		return SOA{}, err
	}
	var vals [5]uint32
	for i := range vals {
		v, next, err := get32(dgram, off, end)
		if err != nil {
			return SOA{}, fmt.Errorf("wire: invalidresponse: %w", err)
		}
		vals[i] = v
		off = next
	}
	if off != end {
		return SOA{}, fmt.Errorf("wire: invalidresponse: SOA record did not consume exactly its rdata")
	}
	return SOA{
		MName: mname, RName: rname,
		Serial: vals[0], Refresh: vals[1], Retry: vals[2], Expire: vals[3], Minimum: vals[4],
	}, nil
}

// PTR is the rdata of a PTR record: a domain name.
type PTR struct{ Target string }

func ParsePTR(dgram []byte, start, end int, quoteOK bool) (PTR, error) {
	off := start
	target, err := DecodeName(dgram, &off, quoteOK)
	if err != nil {
		return PTR{}, err
	}
	if off != end {
		return PTR{}, fmt.Errorf("wire: invalidresponse: PTR record did not consume exactly its rdata")
	}
	return PTR{Target: target}, nil
}

// HINFO is the rdata of a HINFO record: two counted character-strings.
type HINFO struct{ CPU, OS string }

func ParseHINFO(dgram []byte, start, end int) (HINFO, error) {
	off := start
	cpu, next, err := parseCharString(dgram, off, end)
	if err != nil {
		return HINFO{}, err
	}
	osstr, next2, err := parseCharString(dgram, next, end)
	if err != nil {
		return HINFO{}, err
	}
	off = next2
	if off != end {
		return HINFO{}, fmt.Errorf("wire: invalidresponse: HINFO record did not consume exactly its rdata")
	}
	return HINFO{CPU: cpu, OS: osstr}, nil
}

// MX is the rdata of an MX record: preference + exchange host name.
type MX struct {
	Preference uint16
	Exchange   string
}

func ParseMX(dgram []byte, start, end int, quoteOK bool) (MX, error) {
	pref, off, err := get16(dgram, start, end)
	if err != nil {
		return MX{}, fmt.Errorf("wire: invalidresponse: %w", err)
	}
	exch, err := DecodeName(dgram, &off, quoteOK)
	if err != nil {
		return MX{}, err
	}
	if off != end {
		return MX{}, fmt.Errorf("wire: invalidresponse: MX record did not consume exactly its rdata")
	}
	return MX{Preference: pref, Exchange: exch}, nil
}

// TXTString is one counted string within a TXT record's list.
type TXTString struct {
	Len int
	Str string
}

// ParseTXT decodes a TXT record's list of counted strings. No
// {len=-1,str=""} sentinel is appended, neither here nor by the query
// engine: the end of the list is the end of the returned slice.
func ParseTXT(dgram []byte, start, end int) ([]TXTString, error) {
	var out []TXTString
	off := start
	for off < end {
		s, next, err := parseCharString(dgram, off, end)
		if err != nil {
			return nil, err
		}
		out = append(out, TXTString{Len: next - off - 1, Str: s})
		off = next
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("wire: invalidresponse: TXT record has no strings")
	}
	return out, nil
}

// RP is the rdata of an RP record: mbox mailbox + txt-domain.
type RP struct{ Mbox, TXTDomain string }

func ParseRP(dgram []byte, start, end int, quoteOK bool) (RP, error) {
	off := start
	mbox, err := DecodeName(dgram, &off, true)
	if err != nil {
		return RP{}, err
	}
	txtdom, err := DecodeName(dgram, &off, quoteOK)
	if err != nil {
		return RP{}, err
	}
	if off != end {
		return RP{}, fmt.Errorf("wire: invalidresponse: RP record did not consume exactly its rdata")
	}
	return RP{Mbox: mbox, TXTDomain: txtdom}, nil
}

// parseCharString reads one RFC 1035 <character-string>: a length octet
// followed by that many bytes.
func parseCharString(dgram []byte, offset, end int) (string, int, error) {
	if offset >= end {
		return "", 0, fmt.Errorf("wire: invalidresponse: character-string length byte past rdata end")
	}
	l := int(dgram[offset])
	if offset+1+l > end {
		return "", 0, fmt.Errorf("wire: invalidresponse: character-string exceeds rdata bounds")
	}
	return string(dgram[offset+1 : offset+1+l]), offset + 1 + l, nil
}
