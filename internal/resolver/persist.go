package resolver

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

// statementsBucket is the single top-level bbolt bucket; nested buckets
// are keyed by subject URN, mirroring the bucket-per-path nesting in
// rclone's backend/cache/storage_persistent.go (there nested by
// directory path component, here by subject since AFF4 subjects do not
// nest the way a filesystem tree does).
const statementsBucket = "subjects"

// Persistent wraps a bbolt database backing a Store. Opening it takes
// an OS-level flock on dbPath for the process's lifetime (bolt.Open
// semantics), which doubles as the cross-process exclusion the URN
// lock API promises for the outermost volume (spec §6).
type Persistent struct {
	db *bolt.DB
}

// OpenPersistent opens (creating if absent) a bbolt database at path,
// waiting up to timeout for another process's flock to clear.
func OpenPersistent(path string, timeout time.Duration) (*Persistent, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open resolver store %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(statementsBucket))
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialise resolver store %q", path)
	}
	return &Persistent{db: db}, nil
}

// Close releases the backing file and its flock.
func (p *Persistent) Close() error {
	if p == nil {
		return nil
	}
	return p.db.Close()
}

func subjectKey(subject aff4rdf.URN) []byte { return []byte(subject.String()) }

// WithStore attaches p as the persistent backing of s and replays
// every statement already on disk into memory.
func (s *Store) WithStore(p *Persistent) error {
	s.persist = p
	if p == nil {
		return nil
	}
	return p.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(statementsBucket))
		return root.ForEachBucket(func(name []byte) error {
			subject := aff4rdf.NewURN(string(name))
			bucket := root.Bucket(name)
			return bucket.ForEach(func(k, v []byte) error {
				pred, kind, ok := splitPredicateKey(k)
				if !ok {
					return nil
				}
				val, err := aff4rdf.Decode(kind, v)
				if err != nil {
					return nil // malformed triple: skip, don't abort replay
				}
				key := predicateKey{subject, pred}
				id := s.appendValue(val)
				s.sequence[key] = append(s.sequence[key], id)
				s.touchSubject(subject, pred)
				return nil
			})
		})
	})
}

// splitPredicateKey is the inverse of predicateValueKeyWithKind: it
// returns the predicate name (the bytes before the NUL separator) and
// the datatype kind stored in the byte that follows it.
func splitPredicateKey(k []byte) (aff4rdf.Attribute, aff4rdf.Kind, bool) {
	for i, b := range k {
		if b == 0 {
			if i+2 > len(k) {
				return "", 0, false
			}
			kind := aff4rdf.Kind(k[i+1])
			return aff4rdf.Attribute(k[:i]), kind, true
		}
	}
	return "", 0, false
}

func predicateValueKeyWithKind(predicate aff4rdf.Attribute, kind aff4rdf.Kind, seq int) []byte {
	buf := make([]byte, len(predicate)+1+1+4)
	copy(buf, predicate)
	buf[len(predicate)] = 0
	buf[len(predicate)+1] = byte(kind)
	binary.BigEndian.PutUint32(buf[len(predicate)+2:], uint32(seq))
	return buf
}

// persistAsync mirrors a freshly appended value into the backing bbolt
// database, if any. Persistence failures are logged, not propagated:
// the in-memory store remains the source of truth for the life of the
// process (spec §4.2: "a crash-safe persistent backing is allowed but
// not required").
func (s *Store) persistAsync(subject aff4rdf.URN, predicate aff4rdf.Attribute, v aff4rdf.Value) {
	if s.persist == nil || predicate.IsVolatile() {
		return
	}
	seq := len(s.sequence[predicateKey{subject, predicate}]) - 1
	key := predicateValueKeyWithKind(predicate, v.Kind, seq)
	val := v.Encode()
	_ = s.persist.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(statementsBucket))
		bucket, err := root.CreateBucketIfNotExists(subjectKey(subject))
		if err != nil {
			return err
		}
		return bucket.Put(key, val)
	})
}

func (s *Store) persistDeleteSubject(subject aff4rdf.URN) {
	if s.persist == nil {
		return
	}
	_ = s.persist.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(statementsBucket))
		return root.DeleteBucket(subjectKey(subject))
	})
}

func (s *Store) persistDeletePredicate(subject aff4rdf.URN, predicate aff4rdf.Attribute) {
	if s.persist == nil {
		return
	}
	_ = s.persist.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(statementsBucket))
		bucket := root.Bucket(subjectKey(subject))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		prefix := []byte(predicate)
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil; k, _ = c.Next() {
			p, _, ok := splitPredicateKey(k)
			if !ok || p != predicate {
				if len(toDelete) > 0 {
					break
				}
				continue
			}
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
