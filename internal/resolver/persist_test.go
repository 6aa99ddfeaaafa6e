package resolver

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

func TestPersistentStoreRoundTripsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "resolver.bolt")
	subject := aff4rdf.NewURN("aff4://volume/stream0")

	p, err := OpenPersistent(dbPath, time.Second)
	require.NoError(t, err)

	store := NewStore()
	require.NoError(t, store.WithStore(p))
	store.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(1234))
	store.Add(subject, aff4rdf.PredType, aff4rdf.String("image"), false)
	require.NoError(t, p.Close())

	p2, err := OpenPersistent(dbPath, time.Second)
	require.NoError(t, err)
	defer p2.Close()

	store2 := NewStore()
	require.NoError(t, store2.WithStore(p2))

	size, err := store2.ResolveValue(subject, aff4rdf.PredSize)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size.Int)

	typ, err := store2.ResolveValue(subject, aff4rdf.PredType)
	require.NoError(t, err)
	assert.Equal(t, "image", typ.Str)
}

func TestPersistentStoreVolatilePredicatesAreNotPersisted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "resolver.bolt")
	subject := aff4rdf.NewURN("aff4://volume/stream0")

	p, err := OpenPersistent(dbPath, time.Second)
	require.NoError(t, err)

	store := NewStore()
	require.NoError(t, store.WithStore(p))
	store.Set(subject, aff4rdf.NewVolatileAttribute("borrowCount"), aff4rdf.Integer(1))
	require.NoError(t, p.Close())

	p2, err := OpenPersistent(dbPath, time.Second)
	require.NoError(t, err)
	defer p2.Close()

	store2 := NewStore()
	require.NoError(t, store2.WithStore(p2))
	_, err = store2.ResolveValue(subject, aff4rdf.NewVolatileAttribute("borrowCount"))
	assert.Error(t, err)
}

func TestPersistentStoreDiscardAllDeletesBucket(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "resolver.bolt")
	subject := aff4rdf.NewURN("aff4://volume/stream0")

	p, err := OpenPersistent(dbPath, time.Second)
	require.NoError(t, err)

	store := NewStore()
	require.NoError(t, store.WithStore(p))
	store.Set(subject, aff4rdf.PredSize, aff4rdf.Integer(99))
	store.DiscardAll(subject)
	require.NoError(t, p.Close())

	p2, err := OpenPersistent(dbPath, time.Second)
	require.NoError(t, err)
	defer p2.Close()

	store2 := NewStore()
	require.NoError(t, store2.WithStore(p2))
	_, err = store2.ResolveValue(subject, aff4rdf.PredSize)
	assert.Error(t, err)
}

func TestOpenPersistentClosedWithNilReceiverIsNoOp(t *testing.T) {
	var p *Persistent
	assert.NoError(t, p.Close())
}
