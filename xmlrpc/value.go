// Package xmlrpc is the Wire Codec: a pure, I/O-free encoder/decoder
// between domain values and the XML-RPC methodCall/methodResponse payload
// format used to talk to conversion backends (see spec §4.1, §6).
package xmlrpc

// Kind discriminates the variant a Value holds.
type Kind int

const (
	KindNil Kind = iota
	KindString
	KindInt
	KindDouble
	KindBool
	KindBase64
	KindArray
	KindStruct
)

// Value is the tagged union supported by the XML-RPC grammar this codec
// implements: string, i4/int, double, boolean, base64, nil, array (ordered),
// and struct (named, ordered members).
type Value struct {
	Kind    Kind
	Str     string // holds String and Base64 payload text (raw base64, undecoded)
	Int     int64
	Double  float64
	Bool    bool
	Array   []Value
	Members []Member
}

// Member is one named entry of a Struct value. Order is preserved because
// callers (and the fault struct in §6) depend on stable member ordering.
type Member struct {
	Name  string
	Value Value
}

// String constructs a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Int constructs an integer Value (encoded as <int>, per spec this codec's
// default; decoding accepts both <int> and <i4>).
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Double constructs a floating point Value.
func Double(f float64) Value { return Value{Kind: KindDouble, Double: f} }

// Bool constructs a boolean Value, transmitted on the wire as 0/1.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Base64 constructs a base64 Value from already-encoded base64 text. The
// codec never decodes or re-encodes this text; it passes it through
// verbatim, since decoding into bytes is the caller's responsibility
// (spec §4.2).
func Base64(encoded string) Value { return Value{Kind: KindBase64, Str: encoded} }

// Nil constructs the XML-RPC <nil/> value.
func Nil() Value { return Value{Kind: KindNil} }

// Array constructs an ordered array Value.
func Array(items ...Value) Value { return Value{Kind: KindArray, Array: items} }

// Struct constructs a struct Value from ordered named members.
func Struct(members ...Member) Value { return Value{Kind: KindStruct, Members: members} }

// M is shorthand for constructing a Member.
func M(name string, value Value) Member { return Member{Name: name, Value: value} }

// Equal reports whether v and other represent the same value. Used by
// round-trip tests (decode(encode(v)) == v).
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNil:
		return true
	case KindString, KindBase64:
		return v.Str == other.Str
	case KindInt:
		return v.Int == other.Int
	case KindDouble:
		return v.Double == other.Double
	case KindBool:
		return v.Bool == other.Bool
	case KindArray:
		if len(v.Array) != len(other.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(other.Array[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		if len(v.Members) != len(other.Members) {
			return false
		}
		for i := range v.Members {
			if v.Members[i].Name != other.Members[i].Name {
				return false
			}
			if !v.Members[i].Value.Equal(other.Members[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
