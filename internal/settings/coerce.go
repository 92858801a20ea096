package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

const listSeparator = " "

var (
	truthy = map[string]struct{}{"true": {}, "1": {}, "yes": {}}
	falsy  = map[string]struct{}{"false": {}, "0": {}, "no": {}}

	errNotBoolean = errors.New("expected one of true, 1, yes, false, 0, no")
)

// Coerce converts raw into a Value of the given kind. Failures are reported
// as *CoercionError naming key and raw.
func Coerce(key, raw string, kind Kind) (Value, error) {
	switch kind {
	case KindText:
		return TextValue(raw), nil
	case KindBool:
		b, err := parseBool(raw)
		if err != nil {
			return Value{}, &CoercionError{Key: key, Raw: raw, Expected: kind.String(), Err: err}
		}
		return BoolValue(b), nil
	case KindInt:
		i, err := parseInt(raw)
		if err != nil {
			return Value{}, &CoercionError{Key: key, Raw: raw, Expected: kind.String(), Err: err}
		}
		return IntValue(i), nil
	case KindList:
		return ListValue(splitList(raw)...), nil
	default:
		return Value{}, &CoercionError{Key: key, Raw: raw, Expected: kind.String(), Err: fmt.Errorf("unsupported kind %d", kind)}
	}
}

// parseBool matches the literals case-insensitively. Only ASCII input is
// folded, so look-alikes such as "yeſ" are rejected.
func parseBool(raw string) (bool, error) {
	for i := 0; i < len(raw); i++ {
		if raw[i] >= utf8.RuneSelf {
			return false, errNotBoolean
		}
	}
	folded := cases.Fold().String(raw)
	if _, ok := truthy[folded]; ok {
		return true, nil
	}
	if _, ok := falsy[folded]; ok {
		return false, nil
	}
	return false, errNotBoolean
}

// parseInt accepts an optional sign followed by decimal digits and nothing else.
func parseInt(raw string) (int64, error) {
	i, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return 0, numErr.Err
		}
		return 0, err
	}
	return i, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, listSeparator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
