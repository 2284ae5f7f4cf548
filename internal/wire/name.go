package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidName is returned when a decompressed name fails §4.1's LDH
// syntax check and the caller has not set QuoteOK.
var ErrInvalidName = fmt.Errorf("wire: answer domain name invalid")

// ErrNameTooLong is returned when the assembled name exceeds MaxNameLength.
var ErrNameTooLong = fmt.Errorf("wire: answer domain name too long")

// ErrCompressionLoop is returned when a compression pointer does not point
// strictly backwards, per spec.md §4.1's loop-prevention rule.
var ErrCompressionLoop = fmt.Errorf("wire: compression pointer does not point backwards")

const (
	labelPointerMask = 0xc0
	maxLabelLen      = 63
)

// isLDH reports whether b is a "letters, digits, hyphen, underscore" byte
// legal in an unescaped DNS label.
func isLDH(b byte) bool {
	return b == '-' || b == '_' ||
		(b >= '0' && b <= '9') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= 'a' && b <= 'z')
}

// needsEscape reports whether b must be rendered as \DDD (or \\ / \")
// in presentation form, per spec.md §4.1.
func needsEscape(b byte) bool {
	if b == '.' || b == '\\' || b == '"' {
		return true
	}
	return b < 33 || b > 126
}

// appendEscaped writes label (raw wire bytes) to sb in presentation form.
func appendEscaped(sb *strings.Builder, label []byte) {
	for _, b := range label {
		switch {
		case b == '\\' || b == '"':
			sb.WriteByte('\\')
			sb.WriteByte(b)
		case needsEscape(b):
			sb.WriteByte('\\')
			sb.WriteString(fmt.Sprintf("%03d", b))
		default:
			sb.WriteByte(b)
		}
	}
}

// DecodeName decompresses and renders a domain name starting at *offset
// within dgram, returning the canonical textual form (labels joined by '.',
// escaped per spec.md §4.1). *offset is advanced past the name as it
// appears in-line (a pointer terminates in-line consumption at the 2-byte
// pointer, not at whatever it points to).
//
// quoteOK permits embedding arbitrary escaped bytes in a label; without it,
// any label containing a non-LDH byte fails with ErrInvalidName.
func DecodeName(dgram []byte, offset *int, quoteOK bool) (string, error) {
	var sb strings.Builder
	cur := *offset
	firstJump := true
	jumps := 0
	labels := 0
	totalLen := 0

	for {
		if cur >= len(dgram) {
			return "", fmt.Errorf("wire: name extends past end of datagram")
		}
		lb := dgram[cur]
		switch {
		case lb == 0:
			if firstJump {
				*offset = cur + 1
			}
			if labels == 0 {
				return ".", nil // root
			}
			return sb.String(), nil

		case lb&labelPointerMask == labelPointerMask:
			if cur+2 > len(dgram) {
				return "", fmt.Errorf("wire: truncated compression pointer")
			}
			target := int(lb&^labelPointerMask)<<8 | int(dgram[cur+1])
			if firstJump {
				*offset = cur + 2
				firstJump = false
			}
			if target >= cur {
				return "", ErrCompressionLoop
			}
			jumps++
			if jumps > len(dgram) {
				return "", ErrCompressionLoop
			}
			cur = target

		case lb&labelPointerMask != 0:
			return "", fmt.Errorf("wire: reserved label length bits set")

		default:
			length := int(lb)
			if length > maxLabelLen {
				return "", fmt.Errorf("wire: label exceeds 63 bytes")
			}
			cur++
			if cur+length > len(dgram) {
				return "", fmt.Errorf("wire: label extends past end of datagram")
			}
			label := dgram[cur : cur+length]
			cur += length

			if !quoteOK {
				for _, b := range label {
					if !isLDH(b) {
						return "", ErrInvalidName
					}
				}
			}
			if labels > 0 {
				sb.WriteByte('.')
				totalLen++
			}
			appendEscaped(&sb, label)
			totalLen += len(label)
			if totalLen > MaxNameLength {
				return "", ErrNameTooLong
			}
			labels++
		}
	}
}

// splitLabels turns a presentation-form name into raw label byte strings,
// honoring \DDD and \X escapes. A trailing "." denotes the root and yields
// zero labels after it.
func splitLabels(name string) ([][]byte, error) {
	var labels [][]byte
	var cur []byte
	i := 0
	n := len(name)
	for i < n {
		c := name[i]
		switch {
		case c == '\\':
			if i+1 >= n {
				return nil, fmt.Errorf("wire: dangling escape in %q", name)
			}
			if name[i+1] >= '0' && name[i+1] <= '9' {
				if i+4 > n {
					return nil, fmt.Errorf("wire: truncated \\DDD escape in %q", name)
				}
				v, err := strconv.Atoi(name[i+1 : i+4])
				if err != nil || v > 255 {
					return nil, fmt.Errorf("wire: bad \\DDD escape in %q", name)
				}
				cur = append(cur, byte(v))
				i += 4
			} else {
				cur = append(cur, name[i+1])
				i += 2
			}
		case c == '.':
			labels = append(labels, cur)
			cur = nil
			i++
		default:
			cur = append(cur, c)
			i++
		}
	}
	if len(cur) > 0 {
		labels = append(labels, cur)
	}
	return labels, nil
}

// EncodeName appends name (presentation form, trailing dot optional) to buf
// as an uncompressed sequence of length-prefixed labels terminated by a
// zero length. The query engine never needs outbound compression: queries
// carry exactly one question, so there is nothing earlier in the message to
// point back to.
func EncodeName(buf []byte, name string) ([]byte, error) {
	labels, err := splitLabels(name)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, l := range labels {
		if len(l) == 0 {
			return nil, fmt.Errorf("wire: empty label in %q", name)
		}
		if len(l) > maxLabelLen {
			return nil, fmt.Errorf("wire: label exceeds 63 bytes in %q", name)
		}
		total += len(l) + 1
	}
	if total+1 > MaxNameLength {
		return nil, ErrNameTooLong
	}
	for _, l := range labels {
		buf = append(buf, byte(len(l)))
		buf = append(buf, l...)
	}
	buf = append(buf, 0)
	return buf, nil
}

// ValidateQueryName checks a presentation-form owner name against the
// length and syntax rules submission must enforce before it ever reaches
// the wire (spec.md §4.2 step 1): at most MaxPresentationLength bytes, and,
// unless quoteOK is set, every label restricted to LDH bytes.
func ValidateQueryName(name string, quoteOK bool) error {
	if len(name) > MaxPresentationLength {
		return ErrNameTooLong
	}
	labels, err := splitLabels(name)
	if err != nil {
		return err
	}
	if !quoteOK {
		for _, l := range labels {
			for _, b := range l {
				if !isLDH(b) {
					return ErrInvalidName
				}
			}
		}
	}
	for _, l := range labels {
		if len(l) == 0 {
			return fmt.Errorf("wire: empty label in %q", name)
		}
		if len(l) > maxLabelLen {
			return fmt.Errorf("wire: label exceeds 63 bytes in %q", name)
		}
	}
	return nil
}

// SkipName advances *offset past an in-line name (label sequence or
// pointer) without rendering it, used when a caller only needs to locate
// the bytes following a name (e.g. skipping the owner of an RR it won't
// decode further).
func SkipName(dgram []byte, offset *int) error {
	cur := *offset
	for {
		if cur >= len(dgram) {
			return fmt.Errorf("wire: name extends past end of datagram")
		}
		lb := dgram[cur]
		switch {
		case lb == 0:
			*offset = cur + 1
			return nil
		case lb&labelPointerMask == labelPointerMask:
			if cur+2 > len(dgram) {
				return fmt.Errorf("wire: truncated compression pointer")
			}
			*offset = cur + 2
			return nil
		case lb&labelPointerMask != 0:
			return fmt.Errorf("wire: reserved label length bits set")
		default:
			length := int(lb)
			cur += 1 + length
		}
	}
}
