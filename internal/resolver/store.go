// Package resolver implements the URN store / resolver (spec §4.2, C2)
// and the object cache (spec §4.2, C3). The store's in-memory layout is
// the three content-addressed maps spec §4.2 specifies: subject to its
// predicate set, (subject,predicate) to an ordered sequence of value
// ids, and value id to encoded bytes. An optional bbolt-backed store
// (see persist.go) lets a volume survive process restarts, grounded on
// the bucket-per-subject pattern in rclone's
// backend/cache/storage_persistent.go.
package resolver

import (
	"sync"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

type valueID uint64

// predicateKey identifies one (subject, predicate) pair's value
// sequence.
type predicateKey struct {
	subject   aff4rdf.URN
	predicate aff4rdf.Attribute
}

// Store is the in-process statement store. It is safe for concurrent
// use: reads take the RLock, set/add/del take the Lock (spec §5: "URN
// store: multi-threaded read, single-threaded write under the store
// mutex").
type Store struct {
	mu sync.RWMutex

	// subject -> set of predicates seen, for O(|predicates|) iteration.
	subjects map[aff4rdf.URN]map[aff4rdf.Attribute]struct{}
	// (subject, predicate) -> ordered value ids.
	sequence map[predicateKey][]valueID
	// value id -> (kind, encoded bytes), append-only.
	values  map[valueID]storedValue
	nextID  valueID

	persist *Persistent // nil if the store is memory-only
}

type storedValue struct {
	kind aff4rdf.Kind
	buf  []byte
}

// NewStore returns an empty, memory-only store.
func NewStore() *Store {
	return &Store{
		subjects: make(map[aff4rdf.URN]map[aff4rdf.Attribute]struct{}),
		sequence: make(map[predicateKey][]valueID),
		values:   make(map[valueID]storedValue),
	}
}

func (s *Store) touchSubject(subject aff4rdf.URN, predicate aff4rdf.Attribute) {
	preds, ok := s.subjects[subject]
	if !ok {
		preds = make(map[aff4rdf.Attribute]struct{})
		s.subjects[subject] = preds
	}
	preds[predicate] = struct{}{}
}

func (s *Store) appendValue(v aff4rdf.Value) valueID {
	id := s.nextID
	s.nextID++
	s.values[id] = storedValue{kind: v.Kind, buf: v.Encode()}
	return id
}

func (s *Store) materialise(id valueID) (aff4rdf.Value, error) {
	sv, ok := s.values[id]
	if !ok {
		return aff4rdf.Value{}, &aff4errors.NotFoundError{}
	}
	return aff4rdf.Decode(sv.kind, sv.buf)
}

// Set replaces all prior values for (subject, predicate) with a single
// value.
func (s *Store) Set(subject aff4rdf.URN, predicate aff4rdf.Attribute, v aff4rdf.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := predicateKey{subject, predicate}
	id := s.appendValue(v)
	s.sequence[key] = []valueID{id}
	s.touchSubject(subject, predicate)
	s.persistDeletePredicate(subject, predicate)
	s.persistAsync(subject, predicate, v)
}

// Add appends a value; if unique is true, it silently no-ops when an
// equal value is already present.
func (s *Store) Add(subject aff4rdf.URN, predicate aff4rdf.Attribute, v aff4rdf.Value, unique bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := predicateKey{subject, predicate}
	if unique {
		for _, id := range s.sequence[key] {
			existing, err := s.materialise(id)
			if err == nil && existing.Equal(v) {
				return
			}
		}
	}
	id := s.appendValue(v)
	s.sequence[key] = append(s.sequence[key], id)
	s.touchSubject(subject, predicate)
	s.persistAsync(subject, predicate, v)
}

// Del removes all values for (subject, predicate). If predicate is
// empty, it removes all statements about subject.
func (s *Store) Del(subject aff4rdf.URN, predicate aff4rdf.Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if predicate == "" {
		for p := range s.subjects[subject] {
			delete(s.sequence, predicateKey{subject, p})
		}
		delete(s.subjects, subject)
		s.persistDeleteSubject(subject)
		return
	}
	delete(s.sequence, predicateKey{subject, predicate})
	delete(s.subjects[subject], predicate)
	s.persistDeletePredicate(subject, predicate)
}

// ResolveValue returns the first value for (subject, predicate).
func (s *Store) ResolveValue(subject aff4rdf.URN, predicate aff4rdf.Attribute) (aff4rdf.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sequence[predicateKey{subject, predicate}]
	if len(ids) == 0 {
		return aff4rdf.Value{}, &aff4errors.NotFoundError{URN: subject.String(), Predicate: predicate.String()}
	}
	return s.materialise(ids[0])
}

// ResolveTyped is ResolveValue, but additionally fails with
// TypeMismatchError when the stored value's Kind isn't the one the
// caller expects (spec §4.2: resolve_value "fails with … TypeMismatch
// if datatype differs").
func (s *Store) ResolveTyped(subject aff4rdf.URN, predicate aff4rdf.Attribute, expected aff4rdf.Kind) (aff4rdf.Value, error) {
	v, err := s.ResolveValue(subject, predicate)
	if err != nil {
		return aff4rdf.Value{}, err
	}
	if v.Kind != expected {
		return aff4rdf.Value{}, &aff4errors.TypeMismatchError{
			Expected: (aff4rdf.Value{Kind: expected}).Datatype(),
			Got:      v.Datatype(),
		}
	}
	return v, nil
}

// ResolveList returns all values for (subject, predicate) in insertion
// order.
func (s *Store) ResolveList(subject aff4rdf.URN, predicate aff4rdf.Attribute) ([]aff4rdf.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sequence[predicateKey{subject, predicate}]
	out := make([]aff4rdf.Value, 0, len(ids))
	for _, id := range ids {
		v, err := s.materialise(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Predicates returns every predicate that has been set on subject.
func (s *Store) Predicates(subject aff4rdf.URN) []aff4rdf.Attribute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	preds := s.subjects[subject]
	out := make([]aff4rdf.Attribute, 0, len(preds))
	for p := range preds {
		out = append(out, p)
	}
	return out
}

// Subjects returns every subject the store has statements about.
func (s *Store) Subjects() []aff4rdf.URN {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]aff4rdf.URN, 0, len(s.subjects))
	for u := range s.subjects {
		out = append(out, u)
	}
	return out
}

// DiscardAll drops every statement whose subject is subject, in memory
// and in the persistent backing. Statements that name subject only as
// an object are kept. Nothing in this module calls it when a volume's
// backing file size no longer matches the cached size.
func (s *Store) DiscardAll(subject aff4rdf.URN) {
	s.Del(subject, "")
}
