package rerrors

// Status is the per-query result channel (spec.md §7), distinct from the
// local Error channel above. It travels inside a completed answer so
// callers can classify it by band without an exhaustive switch.
type Status int

// Band upper bounds, per spec.md §7. A caller classifies a Status by
// comparing it against these constants rather than enumerating every value.
const (
	MaxLocalFail  Status = 29  // OK, nomemory, unknownrrtype, systemfail
	MaxRemoteFail Status = 59  // timeout, allservfail, norecurse, invalidresponse, unknownformat
	MaxTempFail   Status = 99  // rcodeservfail .. rcodeunknown
	MaxMisconfig  Status = 199 // inconsistent, prohibitedcname, answerdomain*, invaliddata
	MaxMisquery   Status = 299 // querydomain*, nxdomain, nodata
)

const (
	// Local (0-29)
	sOK           Status = 0
	sNoMemory     Status = 1
	sUnknownRRType Status = 2
	sSystemFail   Status = 3

	// Remote, detected locally (30-59)
	sTimeout           Status = 30
	sAllServFail       Status = 31
	sNoRecurse         Status = 32
	sInvalidResponse   Status = 33
	sUnknownFormat     Status = 34

	// Remote RCODEs (60-99)
	sRCodeServFail    Status = 60
	sRCodeFormError   Status = 61
	sRCodeNotImpl     Status = 62
	sRCodeRefused     Status = 63
	sRCodeUnknown     Status = 64

	// Misconfig (100-199)
	sInconsistent          Status = 100
	sProhibitedCName       Status = 101
	sAnswerDomainInvalid   Status = 102
	sAnswerDomainTooLong   Status = 103
	sInvalidData           Status = 104

	// Misquery (200-299)
	sQueryDomainWrong   Status = 200
	sQueryDomainInvalid Status = 201
	sQueryDomainTooLong Status = 202
	sNXDomain           Status = 203
	sNoData             Status = 204
)

// Exported aliases used throughout the engine and public API.
const (
	OK                   = sOK
	NoMemory             = sNoMemory
	UnknownRRType        = sUnknownRRType
	SystemFail           = sSystemFail
	Timeout              = sTimeout
	AllServFail          = sAllServFail
	NoRecurse            = sNoRecurse
	InvalidResponse      = sInvalidResponse
	UnknownFormat        = sUnknownFormat
	RCodeServFail        = sRCodeServFail
	RCodeFormError       = sRCodeFormError
	RCodeNotImplemented  = sRCodeNotImpl
	RCodeRefused         = sRCodeRefused
	RCodeUnknown         = sRCodeUnknown
	Inconsistent         = sInconsistent
	ProhibitedCName      = sProhibitedCName
	AnswerDomainInvalid  = sAnswerDomainInvalid
	AnswerDomainTooLong  = sAnswerDomainTooLong
	InvalidData          = sInvalidData
	QueryDomainWrong     = sQueryDomainWrong
	QueryDomainInvalid   = sQueryDomainInvalid
	QueryDomainTooLong   = sQueryDomainTooLong
	NXDomain             = sNXDomain
	NoData               = sNoData
)

// IsLocalFail reports whether s is in the local-failure band.
func (s Status) IsLocalFail() bool { return s <= MaxLocalFail }

// IsRemoteFail reports whether s is a remote failure detected locally.
func (s Status) IsRemoteFail() bool { return s > MaxLocalFail && s <= MaxRemoteFail }

// IsTempFail reports whether s is a temporary remote RCODE failure.
func (s Status) IsTempFail() bool { return s > MaxRemoteFail && s <= MaxTempFail }

// IsMisconfig reports whether s reflects inconsistent or malformed data.
func (s Status) IsMisconfig() bool { return s > MaxTempFail && s <= MaxMisconfig }

// IsMisquery reports whether s reflects a definitive or submission-time
// absence/error rather than a transport problem.
func (s Status) IsMisquery() bool { return s > MaxMisconfig && s <= MaxMisquery }

var strerrors = map[Status]string{
	sOK:                  "query completed successfully",
	sNoMemory:             "out of memory",
	sUnknownRRType:        "unknown resource record type",
	sSystemFail:           "local system failure (clock or similar)",
	sTimeout:              "query timed out",
	sAllServFail:          "all nameservers failed",
	sNoRecurse:            "recursion not available",
	sInvalidResponse:      "nameserver sent invalid response",
	sUnknownFormat:        "unknown response format",
	sRCodeServFail:        "nameserver: server failure",
	sRCodeFormError:       "nameserver: format error",
	sRCodeNotImpl:         "nameserver: not implemented",
	sRCodeRefused:         "nameserver: refused",
	sRCodeUnknown:         "nameserver: unknown error",
	sInconsistent:         "child query result inconsistent with parent",
	sProhibitedCName:      "CNAME where none was permitted",
	sAnswerDomainInvalid:  "answer domain name invalid",
	sAnswerDomainTooLong:  "answer domain name too long",
	sInvalidData:          "invalid data in response",
	sQueryDomainWrong:     "wrong domain in query",
	sQueryDomainInvalid:   "query domain invalid",
	sQueryDomainTooLong:   "query domain too long",
	sNXDomain:             "no such domain",
	sNoData:               "no data of requested type",
}

var eraliases = map[Status]string{
	sOK:                  "ok",
	sNoMemory:             "nomemory",
	sUnknownRRType:        "unknownrrtype",
	sSystemFail:           "systemfail",
	sTimeout:              "timeout",
	sAllServFail:          "allservfail",
	sNoRecurse:            "norecurse",
	sInvalidResponse:      "invalidresponse",
	sUnknownFormat:        "unknownformat",
	sRCodeServFail:        "rcodeservfail",
	sRCodeFormError:       "rcodeformaterror",
	sRCodeNotImpl:         "rcodenotimplemented",
	sRCodeRefused:         "rcoderefused",
	sRCodeUnknown:         "rcodeunknown",
	sInconsistent:         "inconsistent",
	sProhibitedCName:      "prohibitedcname",
	sAnswerDomainInvalid:  "answerdomaininvalid",
	sAnswerDomainTooLong:  "answerdomaintoolong",
	sInvalidData:          "invaliddata",
	sQueryDomainWrong:     "querydomainwrong",
	sQueryDomainInvalid:   "querydomaininvalid",
	sQueryDomainTooLong:   "querydomaintoolong",
	sNXDomain:             "nxdomain",
	sNoData:               "nodata",
}

// Strerror returns a short human-readable description, per spec.md §4.5
// `strerror(status)`.
func (s Status) Strerror() string {
	if msg, ok := strerrors[s]; ok {
		return msg
	}
	return "unknown status"
}

// Erralias returns a one-word abbreviation, per spec.md §4.5
// `erralias(status)`.
func (s Status) Erralias() string {
	if alias, ok := eraliases[s]; ok {
		return alias
	}
	return "unknown"
}
