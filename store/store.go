// Package store implements §4.9's write-through cache over persistent
// storage: find_one/insert_one/update_one/find against an in-memory cache,
// periodically checkpointed to a bbolt-backed collection. The per-block
// sandbox half of §4.9 (mutation recording, rollback, commit) is
// chain.Sandbox; this package is the durable backing store chain.State is
// rebuilt from and checkpointed to.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Document is a generic record: a string ID plus arbitrary fields, matching
// §4.9's collection/query contract rather than any fixed schema (the
// teacher's own DB is typed per-bucket because it only ever stores UTXOs
// and headers; the sidechain's store must hold accounts, schedules, and
// checkpoints alike).
type Document map[string]any

const idField = "_id"

type collection struct {
	docs  map[string]Document
	dirty map[string]bool
}

// Store is a write-through cache keyed by collection name, checkpointed to
// a bbolt database on write_to_disk.
type Store struct {
	mu          sync.Mutex
	db          *bolt.DB
	collections map[string]*collection
}

// Open opens (creating if absent) the bbolt file at path and loads every
// existing bucket into the in-memory cache.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt: %w", err)
	}
	s := &Store{db: db, collections: make(map[string]*collection)}
	if err := s.loadAll(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) loadAll() error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			coll := &collection{docs: make(map[string]Document), dirty: make(map[string]bool)}
			err := b.ForEach(func(k, v []byte) error {
				var doc Document
				if err := json.Unmarshal(v, &doc); err != nil {
					return fmt.Errorf("store: decode %s/%s: %w", name, k, err)
				}
				coll.docs[string(k)] = doc
				return nil
			})
			if err != nil {
				return err
			}
			s.collections[string(name)] = coll
			return nil
		})
	})
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]Document), dirty: make(map[string]bool)}
		s.collections[name] = c
	}
	return c
}

// matches reports whether doc contains every key/value pair in query
// (exact equality, the only comparison §4.9's query contract requires).
func matches(doc Document, query Document) bool {
	for k, v := range query {
		dv, ok := doc[k]
		if !ok || !equalValue(dv, v) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	// Values round-tripped through JSON decode as float64/string/bool/etc,
	// so compare via the JSON form rather than Go's native type equality.
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// FindOne returns the first document (by ID ascending, for determinism)
// matching query in collection, or ok=false if none match.
func (s *Store) FindOne(collection string, query Document) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	ids := sortedIDs(c.docs)
	for _, id := range ids {
		if matches(c.docs[id], query) {
			return cloneDoc(c.docs[id]), true
		}
	}
	return nil, false
}

// Find returns every document matching query, ID-ascending.
func (s *Store) Find(collection string, query Document) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	ids := sortedIDs(c.docs)
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		if matches(c.docs[id], query) {
			out = append(out, cloneDoc(c.docs[id]))
		}
	}
	return out
}

// InsertOne stores doc under a caller-supplied or freshly assigned ID and
// marks it dirty for the next checkpoint.
func (s *Store) InsertOne(collectionName string, doc Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collectionName)

	id, _ := doc[idField].(string)
	if id == "" {
		id = fmt.Sprintf("%s-%d", collectionName, len(c.docs)+1)
	}
	if _, exists := c.docs[id]; exists {
		return "", fmt.Errorf("store: duplicate id %q in collection %q", id, collectionName)
	}

	stored := cloneDoc(doc)
	stored[idField] = id
	c.docs[id] = stored
	c.dirty[id] = true
	return id, nil
}

// UpdateOne applies update's fields (merged, not replaced) to the first
// document matching query. Returns false if nothing matched.
func (s *Store) UpdateOne(collectionName string, query, update Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collectionName)
	ids := sortedIDs(c.docs)
	for _, id := range ids {
		if !matches(c.docs[id], query) {
			continue
		}
		doc := c.docs[id]
		for k, v := range update {
			if k == idField {
				continue
			}
			doc[k] = v
		}
		c.docs[id] = doc
		c.dirty[id] = true
		return true, nil
	}
	return false, nil
}

// WriteToDisk checkpoints dirty documents to bbolt. If force is false and
// nothing is dirty, it is a no-op; rebuild and periodic background
// checkpointing both call this with force=true to guarantee a flush
// regardless of dirty state.
func (s *Store) WriteToDisk(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	anyDirty := force
	if !anyDirty {
		for _, c := range s.collections {
			if len(c.dirty) > 0 {
				anyDirty = true
				break
			}
		}
	}
	if !anyDirty {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for name, c := range s.collections {
			b, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return fmt.Errorf("store: create bucket %s: %w", name, err)
			}
			ids := c.dirty
			if force {
				ids = make(map[string]bool, len(c.docs))
				for id := range c.docs {
					ids[id] = true
				}
			}
			for id := range ids {
				doc, ok := c.docs[id]
				if !ok {
					if err := b.Delete([]byte(id)); err != nil {
						return err
					}
					continue
				}
				v, err := json.Marshal(doc)
				if err != nil {
					return fmt.Errorf("store: encode %s/%s: %w", name, id, err)
				}
				if err := b.Put([]byte(id), v); err != nil {
					return err
				}
			}
			c.dirty = make(map[string]bool)
		}
		return nil
	})
}

func sortedIDs(docs map[string]Document) []string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
