package settings

import (
	"maps"
	"slices"
	"strings"
)

const (
	packEscape    = '\\'
	packSeparator = '='
	packTerm      = '\n'
)

// Pack encodes overrides as one `key=value\n` record per entry, sorted by
// key. Backslash, '=' and newline inside keys and values are escaped as
// `\\`, `\=` and `\n`. An empty set packs to the empty string.
func Pack(overrides map[string]string) string {
	var b strings.Builder
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		writeEscaped(&b, key)
		b.WriteByte(packSeparator)
		writeEscaped(&b, overrides[key])
		b.WriteByte(packTerm)
	}
	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case packEscape:
			b.WriteString(`\\`)
		case packSeparator:
			b.WriteString(`\=`)
		case packTerm:
			b.WriteString(`\n`)
		default:
			b.WriteByte(c)
		}
	}
}

// Unpack decodes a blob produced by Pack. Any deviation from the format is
// reported as *FormatError; no partial result is returned.
func Unpack(blob string) (map[string]string, error) {
	out := make(map[string]string)

	var (
		field       strings.Builder
		key         string
		haveKey     bool
		recordStart int
	)
	for i := 0; i < len(blob); i++ {
		switch c := blob[i]; c {
		case packEscape:
			if i+1 >= len(blob) {
				return nil, &FormatError{Offset: i, Reason: "trailing escape character"}
			}
			i++
			switch blob[i] {
			case packEscape:
				field.WriteByte(packEscape)
			case packSeparator:
				field.WriteByte(packSeparator)
			case 'n':
				field.WriteByte(packTerm)
			default:
				return nil, &FormatError{Offset: i - 1, Reason: "unknown escape sequence"}
			}
		case packSeparator:
			if haveKey {
				return nil, &FormatError{Offset: i, Reason: "unescaped '=' in value"}
			}
			key = field.String()
			if key == "" {
				return nil, &FormatError{Offset: recordStart, Reason: "empty key"}
			}
			haveKey = true
			field.Reset()
		case packTerm:
			if !haveKey {
				return nil, &FormatError{Offset: recordStart, Reason: "record without '='"}
			}
			out[key] = field.String()
			field.Reset()
			haveKey = false
			recordStart = i + 1
		default:
			field.WriteByte(c)
		}
	}
	if haveKey || field.Len() > 0 {
		return nil, &FormatError{Offset: recordStart, Reason: "unterminated record"}
	}
	return out, nil
}
