// Package adns is an asynchronous, single-threaded stub DNS resolver.
//
// A Resolver never spawns goroutines or owns a thread of its own: it hands
// the caller raw file descriptors and timeout deadlines, and the caller's
// own event loop (or the Wait/Synchronous convenience wrappers below)
// drives it forward by calling Process* at the right moments. This mirrors
// the original library's "do one non-blocking attempt and tell me when to
// try again" design rather than a goroutine-per-query model.
package adns

import (
	"github.com/lucab/adns/internal/queryengine"
	"github.com/lucab/adns/internal/rerrors"
	"github.com/lucab/adns/internal/resolvconf"
	"github.com/lucab/adns/internal/rlog"
	"github.com/lucab/adns/internal/rrtype"
)

// Re-exported so callers never need to import the internal packages.
type (
	QueryType = rrtype.QueryType
	Flags     = queryengine.Flags
	Status    = rerrors.Status
	Answer    = queryengine.Answer
	Query     = queryengine.Handle
)

// Query types (spec.md §6).
const (
	A     = rrtype.A
	NS    = rrtype.NS
	NSRaw = rrtype.NSRaw
	CNAME = rrtype.CNAME
	SOA   = rrtype.SOA
	PTR   = rrtype.PTR
	HINFO = rrtype.HINFO
	MX    = rrtype.MX
	TXT   = rrtype.TXT
	RP    = rrtype.RP
	Addr  = rrtype.Addr
)

// Status values (spec.md §4.5/§7); the full set is reachable via Strerror
// and Erralias without needing every band member named here.
const (
	OK          = rerrors.OK
	NXDomain    = rerrors.NXDomain
	NoData      = rerrors.NoData
	Timeout     = rerrors.Timeout
	AllServFail = rerrors.AllServFail
)

// Query flags (spec.md §6).
const (
	FlagSearch         = queryengine.FlagSearch
	FlagUseVC          = queryengine.FlagUseVC
	FlagOwner          = queryengine.FlagOwner
	FlagQuoteOKQuery   = queryengine.FlagQuoteOKQuery
	FlagQuoteOKCName   = queryengine.FlagQuoteOKCName
	FlagQuoteOKAnsHost = queryengine.FlagQuoteOKAnsHost
	FlagCNameLoose     = queryengine.FlagCNameLoose
	FlagCNameForbid    = queryengine.FlagCNameForbid
)

// Init flags (spec.md §6).
type InitFlags uint32

const (
	IfDebug InitFlags = 1 << iota
	IfNoErrPrint
	IfNoServerWarn
	IfNoAutoSys
)

// Resolver is one independent resolver instance. Multiple Resolvers can
// coexist in the same process, each with its own configuration, sockets,
// and query set (spec.md §2).
type Resolver struct {
	eng *queryengine.Engine
	log *rlog.Logger
}

// Init builds a Resolver from the system's default configuration sources:
// /etc/resolv.conf (or $RES_CONF/$ADNS_RES_CONF), $RES_OPTIONS/
// $ADNS_RES_OPTIONS, and $LOCALDOMAIN (spec.md §6).
func Init(flags InitFlags, sink rlog.Sink) (*Resolver, *rerrors.Error) {
	cfg, err := resolvconf.Load(resolvconf.LoadOptions{})
	if err != nil {
		return nil, rerrors.NewConfigError("loading system resolver configuration", err)
	}
	return newResolver(cfg, flags, sink)
}

// InitFromConfigText builds a Resolver from literal resolv.conf-grammar
// text instead of reading the filesystem (spec.md §6 `adns_init_strcfg`).
func InitFromConfigText(text string, flags InitFlags, sink rlog.Sink) (*Resolver, *rerrors.Error) {
	cfg, perr := resolvconf.Parse(text)
	if perr != nil {
		return nil, rerrors.NewConfigError("parsing resolver configuration", perr)
	}
	return newResolver(cfg, flags, sink)
}

func newResolver(cfg *resolvconf.Config, flags InitFlags, sink rlog.Sink) (*Resolver, *rerrors.Error) {
	if flags&IfDebug != 0 {
		cfg.Debug = true
	}
	if flags&IfNoErrPrint != 0 {
		cfg.NoErrPrint = true
	}
	if flags&IfNoServerWarn != 0 {
		cfg.NoServerWarn = true
	}
	if verr := cfg.Validate(); verr != nil {
		return nil, rerrors.NewConfigError("invalid resolver configuration", verr)
	}
	logger := rlog.New(cfg.Debug, cfg.NoErrPrint, cfg.NoServerWarn, sink)
	eng, eerr := queryengine.New(cfg, logger, nil, flags&IfNoAutoSys != 0)
	if eerr != nil {
		return nil, eerr
	}
	return &Resolver{eng: eng, log: logger}, nil
}

// Finish releases the resolver's sockets. Any query still outstanding
// should be Canceled first.
func (r *Resolver) Finish() { r.eng.Finish() }

// Submit begins an asynchronous query (spec.md §4.2 "Submission").
func (r *Resolver) Submit(owner string, qtype QueryType, flags Flags, ctx interface{}) (Query, *rerrors.Error) {
	return r.eng.Submit(owner, qtype, flags, ctx)
}

// Check implements `adns_check`: a non-blocking poll for one query's
// result.
func (r *Resolver) Check(q Query) (*Answer, bool) { return r.eng.Check(q) }

// Cancel implements `adns_cancel` (spec.md §4.2 "Cancellation").
func (r *Resolver) Cancel(q Query) { r.eng.Cancel(q) }

// RRInfo implements `rr_info(type)` (spec.md §4.5).
func RRInfo(t QueryType) (name, formatTag string, recordSize int, ok bool) {
	return rrtype.Info(t)
}

// RRInfoRender implements `rr_info_render(type, record)` (spec.md §4.5).
func RRInfoRender(t QueryType, record interface{}) (string, bool) {
	return rrtype.InfoRender(t, record)
}

// Strerror implements `strerror(status)` (spec.md §4.5).
func Strerror(s Status) string { return s.Strerror() }

// Erralias implements `erralias(status)` (spec.md §4.5).
func Erralias(s Status) string { return s.Erralias() }

// Wait blocks until q's query completes, driving the resolver's own event
// loop with a real blocking poll() in the meantime (spec.md §4.2
// `adns_wait`). It is built entirely out of the same Process*/FD surface an
// external caller's event loop would use — see PollOnce.
func (r *Resolver) Wait(q Query) (*Answer, *rerrors.Error) {
	for {
		if ans, ok := r.eng.Check(q); ok {
			return ans, nil
		}
		if err := r.PollOnce(); err != nil {
			return nil, err
		}
	}
}

// Synchronous submits a query and waits for its result in one call
// (spec.md §4.2 `adns_synchronous`).
func (r *Resolver) Synchronous(owner string, qtype QueryType, flags Flags) (*Answer, *rerrors.Error) {
	q, err := r.Submit(owner, qtype, flags, nil)
	if err != nil {
		return nil, err
	}
	return r.Wait(q)
}
