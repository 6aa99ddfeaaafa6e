package aff4rdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Integer(-12345),
		Unsigned(42),
		String("hello world"),
		RawBytes([]byte{0, 1, 2, 3, 255}),
		URNValue(NewURN("aff4://volume/stream")),
		MapBlob(NewURN("aff4://volume/stream/map")),
		Timestamp(1700000000, 123456000),
	}
	for _, v := range cases {
		encoded := v.Encode()
		decoded, err := Decode(v.Kind, encoded)
		require.NoError(t, err)
		assert.True(t, v.Equal(decoded), "round trip mismatch for kind %v", v.Kind)
	}
}

func TestSerialiseParseRoundTrip(t *testing.T) {
	cases := []Value{
		Integer(7),
		Unsigned(9),
		String("a string"),
		URNValue(NewURN("aff4://volume/stream")),
	}
	for _, v := range cases {
		text := v.Serialise()
		parsed, err := Parse(v.Datatype(), text)
		require.NoError(t, err)
		assert.True(t, v.Equal(parsed))
	}
}

func TestTimestampSerialiseParseRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 500000000, time.UTC)
	v := TimestampFromTime(now)
	text := v.Serialise()
	parsed, err := Parse(XSDDateTime, text)
	require.NoError(t, err)
	assert.Equal(t, v.Sec, parsed.Sec)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(KindInteger, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseUnknownDatatypeFallsBackToString(t *testing.T) {
	v, err := Parse("xsd:somethingUnknown", "raw text")
	require.NoError(t, err)
	assert.Equal(t, KindString, v.Kind)
	assert.Equal(t, "raw text", v.Str)
}

func TestURNDecodeRejectsMissingNUL(t *testing.T) {
	_, err := Decode(KindURN, []byte("aff4://no-nul-terminator"))
	assert.Error(t, err)
}
