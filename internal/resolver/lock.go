package resolver

import (
	"sync"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

// namedLock is a single advisory lock: a name ('w' for the writer lock,
// or any caller-chosen rune) and a mutex held by whichever goroutine
// currently owns it (spec §4.2, §6's lock(urn, lock_name) API).
type namedLock struct {
	mu sync.Mutex
}

// LockTable hands out named, per-URN advisory locks. It is the
// in-process half of the "lock(urn,name)/unlock(urn,name)" contract;
// cross-process exclusion for the outermost volume's 'w' lock is
// additionally backed by bbolt's flock when a Persistent store is in
// use (see persist.go).
type LockTable struct {
	mu    sync.Mutex
	locks map[aff4rdf.URN]map[byte]*namedLock
}

// NewLockTable returns an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[aff4rdf.URN]map[byte]*namedLock)}
}

func (t *LockTable) get(urn aff4rdf.URN, name byte) *namedLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	byName, ok := t.locks[urn]
	if !ok {
		byName = make(map[byte]*namedLock)
		t.locks[urn] = byName
	}
	l, ok := byName[name]
	if !ok {
		l = &namedLock{}
		byName[name] = l
	}
	return l
}

// Lock blocks until the named lock on urn is acquired.
func (t *LockTable) Lock(urn aff4rdf.URN, name byte) {
	t.get(urn, name).mu.Lock()
}

// TryLock attempts to acquire the named lock on urn without blocking,
// returning a LockedError if another holder has it.
func (t *LockTable) TryLock(urn aff4rdf.URN, name byte) error {
	l := t.get(urn, name)
	if !l.mu.TryLock() {
		return &aff4errors.LockedError{URN: urn.String(), LockName: string(name)}
	}
	return nil
}

// Unlock releases the named lock on urn.
func (t *LockTable) Unlock(urn aff4rdf.URN, name byte) {
	t.get(urn, name).mu.Unlock()
}
