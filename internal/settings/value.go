package settings

import (
	"slices"
	"strconv"
	"strings"
)

// Kind enumerates the types a setting can resolve to.
type Kind int

const (
	KindText Kind = iota + 1
	KindBool
	KindInt
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a typed setting value. Only the member matching Kind is meaningful.
type Value struct {
	Kind Kind
	Text string
	Bool bool
	Int  int64
	List []string
}

// TextValue returns a text Value.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// ListValue returns a list Value. A nil list is normalised to an empty one.
func ListValue(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Kind: KindList, List: items}
}

// String renders the value in the raw textual form accepted by Coerce.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindList:
		return strings.Join(v.List, listSeparator)
	default:
		return ""
	}
}

// Interface returns the member selected by Kind, for encoders.
func (v Value) Interface() any {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindList:
		return slices.Clone(v.List)
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == o.Text
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindList:
		return slices.Equal(v.List, o.List)
	default:
		return true
	}
}
