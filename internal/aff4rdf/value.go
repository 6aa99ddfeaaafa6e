package aff4rdf

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
)

// Datatype IRIs, matching the closed set of literal kinds spec §3
// describes. Kept as plain string constants (not a Go enum) because
// they round-trip through the manifest's text form as literal IRI
// suffixes (spec §4.7).
const (
	XSDInteger  = "xsd:long"
	XSDUnsigned = "xsd:unsignedInt"
	XSDString   = "xsd:string"
	XSDBytes    = "xsd:base64Binary"
	XSDURN      = "xsd:anyURI"
	XSDDateTime = "xsd:dateTime"
	AFF4Map     = "aff4:map_blob"
)

// Kind enumerates which field of Value is populated.
type Kind int

const (
	KindInteger Kind = iota
	KindUnsigned
	KindString
	KindBytes
	KindURN
	KindTimestamp
	KindMapBlob
)

// Value is the tagged-variant RDF literal described in spec §3/§4.1.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	Int   int64
	Uint  uint32
	Str   string
	Bytes []byte
	URN   URN

	Sec  int64
	Nsec int64
}

// Datatype returns the IRI this value would serialise with.
func (v Value) Datatype() string {
	switch v.Kind {
	case KindInteger:
		return XSDInteger
	case KindUnsigned:
		return XSDUnsigned
	case KindString:
		return XSDString
	case KindBytes:
		return XSDBytes
	case KindURN:
		return XSDURN
	case KindTimestamp:
		return XSDDateTime
	case KindMapBlob:
		return AFF4Map
	default:
		return XSDString
	}
}

// Constructors mirroring the closed set of literal kinds.

func Integer(v int64) Value    { return Value{Kind: KindInteger, Int: v} }
func Unsigned(v uint32) Value  { return Value{Kind: KindUnsigned, Uint: v} }
func String(v string) Value    { return Value{Kind: KindString, Str: v} }
func RawBytes(v []byte) Value  { return Value{Kind: KindBytes, Bytes: v} }
func URNValue(u URN) Value     { return Value{Kind: KindURN, URN: u} }
func MapBlob(u URN) Value      { return Value{Kind: KindMapBlob, URN: u} }
func Timestamp(sec, nsec int64) Value {
	return Value{Kind: KindTimestamp, Sec: sec, Nsec: nsec}
}
func TimestampFromTime(t time.Time) Value {
	return Timestamp(t.Unix(), int64(t.Nanosecond()))
}

// Time returns the Go time.Time for a KindTimestamp value (UTC).
func (v Value) Time() time.Time {
	return time.Unix(v.Sec, v.Nsec).UTC()
}

// Equal reports deep equality between two values of the same kind.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.Int == o.Int
	case KindUnsigned:
		return v.Uint == o.Uint
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		return string(v.Bytes) == string(o.Bytes)
	case KindURN, KindMapBlob:
		return v.URN == o.URN
	case KindTimestamp:
		return v.Sec == o.Sec && v.Nsec == o.Nsec
	default:
		return false
	}
}

// Encode produces the compact on-disk form used by the URN store
// (spec §4.1): integers are little-endian fixed-width, strings are raw
// bytes plus length prefix, URNs are their normalised string plus NUL.
func (v Value) Encode() []byte {
	switch v.Kind {
	case KindInteger:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v.Int))
		return buf
	case KindUnsigned:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v.Uint)
		return buf
	case KindString:
		return encodeLenPrefixed([]byte(v.Str))
	case KindBytes:
		return encodeLenPrefixed(v.Bytes)
	case KindURN, KindMapBlob:
		return append([]byte(v.URN.String()), 0)
	case KindTimestamp:
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(v.Sec))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(v.Nsec))
		return buf
	default:
		return nil
	}
}

func encodeLenPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.LittleEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

// Decode is the inverse of Encode for the given Kind.
func Decode(kind Kind, buf []byte) (Value, error) {
	datatypeOf := func(k Kind) string { return Value{Kind: k}.Datatype() }
	switch kind {
	case KindInteger:
		if len(buf) != 8 {
			return Value{}, &aff4errors.ParseError{Datatype: datatypeOf(kind), Bytes: buf}
		}
		return Integer(int64(binary.LittleEndian.Uint64(buf))), nil
	case KindUnsigned:
		if len(buf) != 4 {
			return Value{}, &aff4errors.ParseError{Datatype: datatypeOf(kind), Bytes: buf}
		}
		return Unsigned(binary.LittleEndian.Uint32(buf)), nil
	case KindString:
		s, err := decodeLenPrefixed(buf)
		if err != nil {
			return Value{}, &aff4errors.ParseError{Datatype: datatypeOf(kind), Bytes: buf}
		}
		return String(string(s)), nil
	case KindBytes:
		b, err := decodeLenPrefixed(buf)
		if err != nil {
			return Value{}, &aff4errors.ParseError{Datatype: datatypeOf(kind), Bytes: buf}
		}
		return RawBytes(b), nil
	case KindURN, KindMapBlob:
		if len(buf) == 0 || buf[len(buf)-1] != 0 {
			return Value{}, &aff4errors.ParseError{Datatype: datatypeOf(kind), Bytes: buf}
		}
		u := NewURN(string(buf[:len(buf)-1]))
		if kind == KindMapBlob {
			return MapBlob(u), nil
		}
		return URNValue(u), nil
	case KindTimestamp:
		if len(buf) != 16 {
			return Value{}, &aff4errors.ParseError{Datatype: datatypeOf(kind), Bytes: buf}
		}
		sec := int64(binary.LittleEndian.Uint64(buf[0:8]))
		nsec := int64(binary.LittleEndian.Uint64(buf[8:16]))
		return Timestamp(sec, nsec), nil
	default:
		return Value{}, &aff4errors.ParseError{Datatype: "unknown", Bytes: buf}
	}
}

func decodeLenPrefixed(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("short buffer")
	}
	n := binary.LittleEndian.Uint32(buf)
	if uint32(len(buf)-4) != n {
		return nil, fmt.Errorf("length mismatch")
	}
	return buf[4:], nil
}

// Serialise renders the human text form used in the RDF manifest
// (spec §4.1/§4.7): integers as decimal, datetimes as
// YYYY-MM-DDTHH:MM:SS.uuuuuu+HH:MM, URNs as IRIs, map-blob as the URN
// of the map segment.
func (v Value) Serialise() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindUnsigned:
		return strconv.FormatUint(uint64(v.Uint), 10)
	case KindString:
		return v.Str
	case KindBytes:
		return string(v.Bytes)
	case KindURN, KindMapBlob:
		return v.URN.String()
	case KindTimestamp:
		return v.Time().Format("2006-01-02T15:04:05.000000-07:00")
	default:
		return ""
	}
}

// Parse is the inverse of Serialise for the given datatype IRI.
func Parse(datatype, text string) (Value, error) {
	switch datatype {
	case XSDInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, &aff4errors.ParseError{Datatype: datatype, Bytes: []byte(text)}
		}
		return Integer(n), nil
	case XSDUnsigned:
		n, err := strconv.ParseUint(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return Value{}, &aff4errors.ParseError{Datatype: datatype, Bytes: []byte(text)}
		}
		return Unsigned(uint32(n)), nil
	case XSDString:
		return String(text), nil
	case XSDBytes:
		return RawBytes([]byte(text)), nil
	case XSDURN:
		return URNValue(NewURN(text)), nil
	case AFF4Map:
		return MapBlob(NewURN(text)), nil
	case XSDDateTime:
		t, err := time.Parse("2006-01-02T15:04:05.000000-07:00", text)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, text)
			if err != nil {
				return Value{}, &aff4errors.ParseError{Datatype: datatype, Bytes: []byte(text)}
			}
		}
		return TimestampFromTime(t), nil
	default:
		// Unknown datatypes fall back to the string variant (spec §4.7,
		// mirrored from original_source/lib/rdf.c's fallback table).
		return String(text), nil
	}
}
