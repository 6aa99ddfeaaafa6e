package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

func TestStoreSetReplacesPriorValue(t *testing.T) {
	s := NewStore()
	subject := aff4rdf.NewURN("aff4://volume/stream")
	s.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(10))
	s.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(20))

	v, err := s.ResolveValue(subject, aff4rdf.PredSize)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v.Int)

	list, err := s.ResolveList(subject, aff4rdf.PredSize)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStoreAddAppendsInOrder(t *testing.T) {
	s := NewStore()
	subject := aff4rdf.NewURN("aff4://volume/stream")
	s.Add(subject, aff4rdf.PredStored, aff4rdf.String("a"), false)
	s.Add(subject, aff4rdf.PredStored, aff4rdf.String("b"), false)

	list, err := s.ResolveList(subject, aff4rdf.PredStored)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Str)
	assert.Equal(t, "b", list[1].Str)
}

func TestStoreAddUniqueSkipsDuplicate(t *testing.T) {
	s := NewStore()
	subject := aff4rdf.NewURN("aff4://volume/stream")
	s.Add(subject, aff4rdf.PredStored, aff4rdf.String("a"), true)
	s.Add(subject, aff4rdf.PredStored, aff4rdf.String("a"), true)

	list, err := s.ResolveList(subject, aff4rdf.PredStored)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStoreResolveValueMissingIsNotFoundError(t *testing.T) {
	s := NewStore()
	_, err := s.ResolveValue(aff4rdf.NewURN("aff4://x"), aff4rdf.PredSize)
	require.Error(t, err)
}

func TestStoreDelPredicateOnly(t *testing.T) {
	s := NewStore()
	subject := aff4rdf.NewURN("aff4://volume/stream")
	s.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(1))
	s.Set(subject, aff4rdf.PredType, aff4rdf.String("image"))
	s.Del(subject, aff4rdf.PredSize)

	_, err := s.ResolveValue(subject, aff4rdf.PredSize)
	assert.Error(t, err)
	v, err := s.ResolveValue(subject, aff4rdf.PredType)
	require.NoError(t, err)
	assert.Equal(t, "image", v.Str)
}

func TestStoreDelAllDropsSubject(t *testing.T) {
	s := NewStore()
	subject := aff4rdf.NewURN("aff4://volume/stream")
	s.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(1))
	s.DiscardAll(subject)

	assert.Empty(t, s.Predicates(subject))
	assert.NotContains(t, s.Subjects(), subject)
}

func TestStoreResolveTypedMatchingKindSucceeds(t *testing.T) {
	s := NewStore()
	subject := aff4rdf.NewURN("aff4://volume/stream")
	s.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(42))

	v, err := s.ResolveTyped(subject, aff4rdf.PredSize, aff4rdf.KindInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int)
}

func TestStoreResolveTypedMismatchReturnsTypeMismatchError(t *testing.T) {
	s := NewStore()
	subject := aff4rdf.NewURN("aff4://volume/stream")
	s.Set(subject, aff4rdf.PredType, aff4rdf.URNValue(aff4rdf.NewURN("aff4://not-a-string")))

	_, err := s.ResolveTyped(subject, aff4rdf.PredType, aff4rdf.KindString)
	require.Error(t, err)
	var mismatch *aff4errors.TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestStoreResolveTypedMissingIsNotFoundError(t *testing.T) {
	s := NewStore()
	_, err := s.ResolveTyped(aff4rdf.NewURN("aff4://x"), aff4rdf.PredSize, aff4rdf.KindInteger)
	var notFound *aff4errors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStoreSubjectsAndPredicates(t *testing.T) {
	s := NewStore()
	a := aff4rdf.NewURN("aff4://volume/a")
	b := aff4rdf.NewURN("aff4://volume/b")
	s.Set(a, aff4rdf.PredSize, aff4rdf.Integer(1))
	s.Set(b, aff4rdf.PredType, aff4rdf.String("image"))

	subjects := s.Subjects()
	assert.Contains(t, subjects, a)
	assert.Contains(t, subjects, b)
	assert.Equal(t, []aff4rdf.Attribute{aff4rdf.PredSize}, s.Predicates(a))
}
