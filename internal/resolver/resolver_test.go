package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

type fakeStream struct {
	closed bool
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

func TestResolverOpenDispatchesByType(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	urn := aff4rdf.NewURN("aff4://volume/stream")
	r.Store.Set(urn, aff4rdf.PredType, aff4rdf.String("widget"))

	built := &fakeStream{}
	r.Dispatcher().RegisterType("widget", func(r *Resolver, u aff4rdf.URN, mode Mode) (StreamObject, error) {
		return built, nil
	})

	obj, err := r.Open(urn, ReadMode)
	require.NoError(t, err)
	assert.Same(t, built, obj)
}

func TestResolverOpenReusesCachedObject(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	urn := aff4rdf.NewURN("aff4://volume/stream")
	r.Store.Set(urn, aff4rdf.PredType, aff4rdf.String("widget"))

	calls := 0
	r.Dispatcher().RegisterType("widget", func(r *Resolver, u aff4rdf.URN, mode Mode) (StreamObject, error) {
		calls++
		return &fakeStream{}, nil
	})

	obj1, err := r.Open(urn, ReadMode)
	require.NoError(t, err)
	r.CacheReturn(urn)
	obj2, err := r.Open(urn, ReadMode)
	require.NoError(t, err)

	assert.Same(t, obj1, obj2)
	assert.Equal(t, 1, calls)
}

func TestResolverOpenUnknownTypeIsNotFound(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	_, err = r.Open(aff4rdf.NewURN("aff4://volume/ghost"), ReadMode)
	assert.Error(t, err)
}

func TestResolverEvictClosesObject(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)

	urn := aff4rdf.NewURN("aff4://volume/stream")
	r.Store.Set(urn, aff4rdf.PredType, aff4rdf.String("widget"))
	built := &fakeStream{}
	r.Dispatcher().RegisterType("widget", func(r *Resolver, u aff4rdf.URN, mode Mode) (StreamObject, error) {
		return built, nil
	})

	_, err = r.Open(urn, ReadMode)
	require.NoError(t, err)
	r.CacheReturn(urn)
	r.Evict(urn)

	assert.True(t, built.closed)
}

func TestResolverLockTryLockBlocksSecondHolder(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)
	urn := aff4rdf.NewURN("aff4://volume/stream")

	r.Lock(urn, 'w')
	err = r.TryLock(urn, 'w')
	assert.Error(t, err)
	r.Unlock(urn, 'w')
	assert.NoError(t, r.TryLock(urn, 'w'))
	r.Unlock(urn, 'w')
}
