package resolver

import (
	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4log"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

// Options configures a Resolver.
type Options struct {
	// CacheSize bounds the object cache (C3); <= 0 uses DefaultCacheSize.
	CacheSize int
	// Persist, if non-nil, makes the statement store durable (C2).
	Persist *Persistent
}

// Resolver is the statement store plus object cache plus lock table
// plus type dispatcher described in spec §4.2: "the in-process
// statement store and object-cache layer through which all operations
// are mediated."
type Resolver struct {
	Store      *Store
	cache      *ObjectCache
	locks      *LockTable
	dispatcher *Dispatcher
}

// New builds a Resolver. Register stream constructors on
// r.Dispatcher() before the first Open call.
func New(opts Options) (*Resolver, error) {
	r := &Resolver{
		Store:      NewStore(),
		locks:      NewLockTable(),
		dispatcher: NewDispatcher(),
	}
	r.cache = NewObjectCache(opts.CacheSize, r.evict)
	if opts.Persist != nil {
		if err := r.Store.WithStore(opts.Persist); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Dispatcher exposes the type registry for stream packages to register
// their constructors against (spec §4.2).
func (r *Resolver) Dispatcher() *Dispatcher { return r.dispatcher }

// evict closes a stream object when the cache drops it under memory
// pressure. Errors are logged: the object's owning volume remains
// responsible for its own durability (spec §5 dirty-volume semantics).
func (r *Resolver) evict(key string, value interface{}) {
	obj, ok := value.(StreamObject)
	if !ok {
		return
	}
	if err := obj.Close(); err != nil {
		aff4log.Errorf(key, "error closing evicted stream: %v", err)
	}
}

// Open materialises the stream object for urn via the type dispatcher
// and returns a borrowed handle (spec §4.2). Borrowed handles must be
// released with CacheReturn.
func (r *Resolver) Open(urn aff4rdf.URN, mode Mode) (StreamObject, error) {
	key := urn.String()
	if obj, ok := r.cache.Borrow(key); ok {
		return obj.(StreamObject), nil
	}

	typeVal, err := r.Store.ResolveTyped(urn, aff4rdf.PredType, aff4rdf.KindString)
	typ := ""
	if err == nil {
		typ = typeVal.Str
	}
	ctor, ok := r.dispatcher.lookup(typ, urn)
	if !ok {
		return nil, &aff4errors.NotFoundError{URN: urn.String(), Predicate: string(aff4rdf.PredType)}
	}

	obj, err := ctor(r, urn, mode)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, obj)
	borrowed, _ := r.cache.Borrow(key)
	return borrowed.(StreamObject), nil
}

// CacheReturn returns a borrow obtained from Open; the cache may now
// evict the object.
func (r *Resolver) CacheReturn(urn aff4rdf.URN) {
	r.cache.Return(urn.String())
}

// Evict drops urn from the cache and closes the cached object (used
// when a stream's type is demoted after a poisoned write, spec §7). An
// entry that is still borrowed is left in place and not closed.
func (r *Resolver) Evict(urn aff4rdf.URN) {
	key := urn.String()
	value, ok := r.cache.Get(key)
	if !ok {
		return
	}
	r.cache.Remove(key)
	if _, still := r.cache.Get(key); !still {
		r.evict(key, value)
	}
}

// Lock acquires the named lock on urn, blocking until available.
func (r *Resolver) Lock(urn aff4rdf.URN, name byte) { r.locks.Lock(urn, name) }

// TryLock acquires the named lock on urn without blocking.
func (r *Resolver) TryLock(urn aff4rdf.URN, name byte) error { return r.locks.TryLock(urn, name) }

// Unlock releases the named lock on urn.
func (r *Resolver) Unlock(urn aff4rdf.URN, name byte) { r.locks.Unlock(urn, name) }

// Close releases the persistent backing store, if any.
func (r *Resolver) Close() error {
	if r.Store.persist != nil {
		return r.Store.persist.Close()
	}
	return nil
}
