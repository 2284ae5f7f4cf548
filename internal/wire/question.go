package wire

import "fmt"

// Question is a DNS question-section entry.
type Question struct {
	Name  string // presentation form
	Type  RRType
	Class Class
}

// EncodeQuestion builds a full query message: header (QDCount=1, RD=1,
// all other sections empty) followed by one question. id must be a
// randomized 16-bit value unique among the caller's live queries
// (spec.md §4.2 step 2).
func EncodeQuestion(id uint16, name string, qtype RRType) ([]byte, error) {
	buf := EncodeHeader(nil, Header{ID: id, RD: true, QDCount: 1})
	var err error
	buf, err = EncodeName(buf, name)
	if err != nil {
		return nil, err
	}
	buf = put16(buf, uint16(qtype))
	buf = put16(buf, uint16(ClassIN))
	return buf, nil
}

// DecodeQuestion reads a single question entry at *offset and advances it
// past the entry.
func DecodeQuestion(dgram []byte, offset *int, quoteOK bool) (Question, error) {
	name, err := DecodeName(dgram, offset, quoteOK)
	if err != nil {
		return Question{}, err
	}
	qtype, next, err := get16(dgram, *offset, len(dgram))
	if err != nil {
		return Question{}, err
	}
	class, next, err := get16(dgram, next, len(dgram))
	if err != nil {
		return Question{}, err
	}
	*offset = next
	return Question{Name: name, Type: RRType(qtype), Class: Class(class)}, nil
}

// MatchQuestion reports whether two decoded questions (the response's and
// the one decoded from the original outgoing bytes) match (spec.md §4.2 UDP
// receive: "cross-check question section matches the stored wire question").
// Type and class must be equal; names are compared in their already-escaped
// presentation form with ASCII case folding, as RFC 1035 names are
// case-insensitive.
func MatchQuestion(a, b Question) bool {
	return a.Type == b.Type && a.Class == b.Class && equalFoldASCII(a.Name, b.Name)
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ParseHeaderAndQuestion reads the header and the first (and in spec.md's
// single-question model, only) question entry, returning the offset at
// which the Answer section begins.
func ParseHeaderAndQuestion(dgram []byte, quoteOK bool) (Header, Question, int, error) {
	hdr, err := DecodeHeader(dgram)
	if err != nil {
		return Header{}, Question{}, 0, err
	}
	if hdr.QDCount != 1 {
		return Header{}, Question{}, 0, fmt.Errorf("wire: expected exactly one question, got %d", hdr.QDCount)
	}
	offset := 12
	q, err := DecodeQuestion(dgram, &offset, quoteOK)
	if err != nil {
		return Header{}, Question{}, 0, err
	}
	return hdr, q, offset, nil
}
