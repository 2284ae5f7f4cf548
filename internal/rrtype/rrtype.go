// Package rrtype is the type registry described in spec.md §4.1/§4.5 and
// component 6 of §2: the mapping from RR-type code to {parser, sorter,
// formatter, per-record size}, and the rr_info/rr_info_render contracts.
package rrtype

import (
	"fmt"
	"reflect"

	"github.com/lucab/adns/internal/wire"
)

// queryflag bits live in the high half of a QueryType, mirroring adns_rrtype
// in the original C source: the low 16 bits are the wire RR type, the high
// bits select the "+addr"-dereferenced or RFC822-mailbox variant.
const (
	flagDeref    QueryType = 0x10000
	flagMail822  QueryType = 0x20000
	typeCodeMask QueryType = 0x0ffff
)

// QueryType is the caller-facing record type requested from Submit: the
// wire RRType plus optional Deref/Mail822 modifier flags.
type QueryType uint32

const (
	A        = QueryType(wire.TypeA)
	NSRaw    = QueryType(wire.TypeNS)
	NS       = NSRaw | flagDeref
	CNAME    = QueryType(wire.TypeCNAME)
	SOARaw   = QueryType(wire.TypeSOA)
	SOA      = SOARaw | flagMail822
	PTRRaw   = QueryType(wire.TypePTR)
	PTR      = PTRRaw | flagDeref // "checked" PTR: cross-resolves and validates
	HINFO    = QueryType(wire.TypeHINFO)
	MXRaw    = QueryType(wire.TypeMX)
	MX       = MXRaw | flagDeref
	TXT      = QueryType(wire.TypeTXT)
	RPRaw    = QueryType(wire.TypeRP)
	RP       = RPRaw | flagMail822
	Addr     = A | flagDeref
)

// WireType returns the bare wire RR type code this QueryType answers with.
func (t QueryType) WireType() wire.RRType { return wire.RRType(t & typeCodeMask) }

// IsDeref reports whether this is a "+addr" (or "checked") dereferenced
// variant that spawns child address queries.
func (t QueryType) IsDeref() bool { return t&flagDeref != 0 }

// IsMail822 reports whether t carries the mail822 flag. Nothing in this
// package or the query engine consults it: the "822" SOA and RP variants
// use the same renderers as their "raw" variants, and wire.FormatMailbox822
// is not applied to their mailbox fields.
func (t QueryType) IsMail822() bool { return t&flagMail822 != 0 }

// HostAddr is the resolved-address payload embedded in +addr RR types
// (spec.md's "+addr type" in the GLOSSARY): a hostname plus its A-record
// addresses, or a failure status if the child query did not succeed.
type HostAddr struct {
	Host    string
	Status  int // mirrors rerrors.Status without importing it (avoids a cycle); see queryengine for translation
	NAddrs  int // -1: temp fail, 0: perm fail, >0: ok
	Addrs   []wire.A
}

// Descriptor is one entry of the type registry: everything the query engine
// and public API need to know about a QueryType without a type switch.
type Descriptor struct {
	Type       QueryType
	Name       string // "A", "NS", "CNAME", ...
	FormatTag  string // "", "raw", "+addr", "822", "checked", "addr"
	SampleZero interface{}
	Less       func(ctx *SortContext, a, b interface{}) bool
	Render     func(v interface{}) string
}

// SortContext carries the per-resolver state a comparator needs (the
// sortlist) without importing the query engine package.
type SortContext struct {
	SortList []CIDRBand
}

// CIDRBand is one sortlist entry (spec.md §6 `sortlist CIDR ...`): address
// preference bands in configured order.
type CIDRBand struct {
	Base uint32
	Mask uint32
}

// BandOf returns the index of the first sortlist entry ip matches, or
// len(SortList) if none match (an unmatched address sorts last, per
// spec.md §4.2's "Sort order").
func (c *SortContext) BandOf(ip wire.A) int {
	v := uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
	for i, band := range c.SortList {
		if v&band.Mask == band.Base {
			return i
		}
	}
	return len(c.SortList)
}

var registry = map[QueryType]*Descriptor{}

func register(d *Descriptor) { registry[d.Type] = d }

func init() {
	register(&Descriptor{Type: A, Name: "A", FormatTag: "", SampleZero: wire.A{},
		Render: func(v interface{}) string { return v.(wire.A).String() }})

	register(&Descriptor{Type: NSRaw, Name: "NS", FormatTag: "raw", SampleZero: "",
		Render: func(v interface{}) string { return v.(string) }})

	register(&Descriptor{Type: NS, Name: "NS", FormatTag: "+addr", SampleZero: HostAddr{},
		Less: lessHostAddr,
		Render: func(v interface{}) string { return renderHostAddr(v.(HostAddr)) }})

	register(&Descriptor{Type: CNAME, Name: "CNAME", FormatTag: "", SampleZero: "",
		Render: func(v interface{}) string { return v.(string) }})

	register(&Descriptor{Type: SOARaw, Name: "SOA", FormatTag: "raw", SampleZero: wire.SOA{},
		Render: renderSOA})

	register(&Descriptor{Type: SOA, Name: "SOA", FormatTag: "822", SampleZero: wire.SOA{},
		Render: renderSOA})

	register(&Descriptor{Type: PTRRaw, Name: "PTR", FormatTag: "raw", SampleZero: "",
		Render: func(v interface{}) string { return v.(string) }})

	register(&Descriptor{Type: PTR, Name: "PTR", FormatTag: "checked", SampleZero: "",
		Render: func(v interface{}) string { return v.(string) }})

	register(&Descriptor{Type: HINFO, Name: "HINFO", FormatTag: "", SampleZero: wire.HINFO{},
		Render: func(v interface{}) string {
			h := v.(wire.HINFO)
			return wire.FormatText(h.CPU) + " " + wire.FormatText(h.OS)
		}})

	register(&Descriptor{Type: MXRaw, Name: "MX", FormatTag: "raw", SampleZero: wire.MX{},
		Less:   lessMXRaw,
		Render: func(v interface{}) string { mx := v.(wire.MX); return fmt.Sprintf("%d %s", mx.Preference, mx.Exchange) }})

	register(&Descriptor{Type: MX, Name: "MX", FormatTag: "+addr", SampleZero: IntHostAddr{},
		Less: lessMX,
		Render: func(v interface{}) string {
			ih := v.(IntHostAddr)
			return fmt.Sprintf("%d %s", ih.Preference, renderHostAddr(ih.HostAddr))
		}})

	register(&Descriptor{Type: TXT, Name: "TXT", FormatTag: "", SampleZero: []wire.TXTString{},
		Render: renderTXT})

	register(&Descriptor{Type: RPRaw, Name: "RP", FormatTag: "raw", SampleZero: wire.RP{},
		Render: renderRP})

	register(&Descriptor{Type: RP, Name: "RP", FormatTag: "822", SampleZero: wire.RP{},
		Render: renderRP})

	register(&Descriptor{Type: Addr, Name: "A", FormatTag: "addr", SampleZero: wire.A{},
		Less:   lessAddr,
		Render: func(v interface{}) string { return v.(wire.A).String() }})
}

// IntHostAddr is the "+addr" MX payload: preference plus resolved addresses.
type IntHostAddr struct {
	Preference uint16
	HostAddr   HostAddr
}

// Find looks up a type's descriptor, or (nil, false) for unregistered
// types — the caller should fail the submission with
// rerrors.UnknownRRType.
func Find(t QueryType) (*Descriptor, bool) {
	d, ok := registry[t]
	return d, ok
}

// Info implements the `rr_info(type) → (name, format_tag, record_size)`
// contract of spec.md §4.5. record_size is reported via reflect purely for
// API fidelity with the original C contract; Go callers never need it to
// allocate (they receive typed slices), but it lets a host print the same
// "what's the record size" diagnostic the C library would.
func Info(t QueryType) (name, formatTag string, recordSize int, ok bool) {
	d, ok := Find(t)
	if !ok {
		return "", "", 0, false
	}
	return d.Name, d.FormatTag, int(reflect.TypeOf(d.SampleZero).Size()), true
}

// InfoRender implements `rr_info_render(type, record) → string`.
func InfoRender(t QueryType, record interface{}) (string, bool) {
	d, ok := Find(t)
	if !ok || d.Render == nil {
		return "", false
	}
	return d.Render(record), true
}

func lessAddr(ctx *SortContext, a, b interface{}) bool {
	aa, bb := a.(wire.A), b.(wire.A)
	return ctx.BandOf(aa) < ctx.BandOf(bb)
}

func lessHostAddr(ctx *SortContext, a, b interface{}) bool {
	ah, bh := a.(HostAddr), b.(HostAddr)
	return lessHostAddrBand(ctx, ah, bh)
}

func lessHostAddrBand(ctx *SortContext, ah, bh HostAddr) bool {
	if len(ah.Addrs) == 0 || len(bh.Addrs) == 0 {
		return false
	}
	return ctx.BandOf(ah.Addrs[0]) < ctx.BandOf(bh.Addrs[0])
}

func lessMXRaw(_ *SortContext, a, b interface{}) bool {
	return a.(wire.MX).Preference < b.(wire.MX).Preference
}

func lessMX(ctx *SortContext, a, b interface{}) bool {
	ai, bi := a.(IntHostAddr), b.(IntHostAddr)
	if ai.Preference != bi.Preference {
		return ai.Preference < bi.Preference
	}
	return lessHostAddrBand(ctx, ai.HostAddr, bi.HostAddr)
}

func renderHostAddr(h HostAddr) string {
	if h.NAddrs <= 0 {
		return h.Host + " - failed"
	}
	s := h.Host + ":"
	for i, a := range h.Addrs {
		if i > 0 {
			s += ","
		}
		s += " " + a.String()
	}
	return s
}

func renderSOA(v interface{}) string {
	s := v.(wire.SOA)
	return fmt.Sprintf("%s %s %d %d %d %d %d", s.MName, s.RName, s.Serial, s.Refresh, s.Retry, s.Expire, s.Minimum)
}

func renderRP(v interface{}) string {
	rp := v.(wire.RP)
	return rp.Mbox + " " + rp.TXTDomain
}

func renderTXT(v interface{}) string {
	strs := v.([]wire.TXTString)
	out := ""
	for i, s := range strs {
		if i > 0 {
			out += " "
		}
		out += wire.FormatText(s.Str)
	}
	return out
}
