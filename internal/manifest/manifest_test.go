package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarbonWolf/aff4/internal/aff4rdf"
	"github.com/CarbonWolf/aff4/internal/resolver"
)

func TestSerialiseSubjectOmitsVolatilePredicates(t *testing.T) {
	store := resolver.NewStore()
	subject := aff4rdf.NewURN("aff4://volume/stream")
	store.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(42))
	store.Set(subject, aff4rdf.NewVolatileAttribute("borrowCount"), aff4rdf.Integer(1))

	body := string(SerialiseSubject(store, subject))
	assert.Contains(t, body, "aff4:size")
	assert.NotContains(t, body, "volatile:")
}

func TestParseIntoRoundTripsStatements(t *testing.T) {
	store := resolver.NewStore()
	volume := aff4rdf.NewURN("aff4://myvolume")
	subject := aff4rdf.NewURN("aff4://myvolume/stream0")
	store.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(1000))
	store.Set(subject, aff4rdf.PredType, aff4rdf.String("image"))
	store.Set(subject, aff4rdf.PredStored, aff4rdf.URNValue(volume))

	body := SerialiseSubject(store, subject)

	store2 := resolver.NewStore()
	require.NoError(t, ParseInto(store2, volume, volume, body))

	size, err := store2.ResolveValue(subject, aff4rdf.PredSize)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), size.Int)

	typ, err := store2.ResolveValue(subject, aff4rdf.PredType)
	require.NoError(t, err)
	assert.Equal(t, "image", typ.Str)
}

func TestParseIntoAssertsContainsForNewSubject(t *testing.T) {
	store := resolver.NewStore()
	volume := aff4rdf.NewURN("aff4://myvolume")
	subject := aff4rdf.NewURN("aff4://myvolume/stream0")
	store.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(5))
	body := SerialiseSubject(store, subject)

	store2 := resolver.NewStore()
	require.NoError(t, ParseInto(store2, volume, volume, body))

	contained, err := store2.ResolveList(volume, aff4rdf.PredContains)
	require.NoError(t, err)
	require.Len(t, contained, 1)
	assert.Equal(t, subject, contained[0].URN)
}

func TestParseIntoSkipsMalformedLineButContinues(t *testing.T) {
	store := resolver.NewStore()
	volume := aff4rdf.NewURN("aff4://myvolume")
	data := []byte("not a valid triple line\n<aff4://myvolume/s> <aff4:size> \"10\"^^<xsd:long> .\n")

	require.NoError(t, ParseInto(store, volume, volume, data))
	v, err := store.ResolveValue(aff4rdf.NewURN("aff4://myvolume/s"), aff4rdf.PredSize)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.Int)
}

func TestLiteralEscapingRoundTripsSpecialCharacters(t *testing.T) {
	store := resolver.NewStore()
	volume := aff4rdf.NewURN("aff4://myvolume")
	subject := aff4rdf.NewURN("aff4://myvolume/stream0")
	tricky := "line one\nline two with \"quotes\" and a \\backslash"
	store.Set(subject, aff4rdf.PredType, aff4rdf.String(tricky))

	body := SerialiseSubject(store, subject)

	store2 := resolver.NewStore()
	require.NoError(t, ParseInto(store2, volume, volume, body))
	v, err := store2.ResolveValue(subject, aff4rdf.PredType)
	require.NoError(t, err)
	assert.Equal(t, tricky, v.Str)
}
