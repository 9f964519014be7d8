package realtime

import (
	"context"
	"sync"

	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/internal/safe"
	"golang.org/x/sync/singleflight"
)

// CollectionCache is an in-memory mirror of the documents in each collection, most recently inserted first.
// A collection's entry is created lazily from a full snapshot of the store and then kept current by
// applying change events. Callers must serialize Apply per collection; the engine does so with one lane per
// collection.
type CollectionCache struct {
	store   Store
	entries *safe.Map[*cacheEntry]
	fetches singleflight.Group
}

type cacheEntry struct {
	mu   sync.RWMutex
	docs []*Document
}

// NewCollectionCache creates an empty cache that fetches snapshots from the store
func NewCollectionCache(store Store) *CollectionCache {
	return &CollectionCache{
		store:   store,
		entries: safe.NewMap[*cacheEntry](nil),
	}
}

// Has returns true if the collection has been populated
func (c *CollectionCache) Has(collection string) bool {
	return c.entries.Exists(collection)
}

// Collections returns the names of the populated collections
func (c *CollectionCache) Collections() []string {
	var names []string
	c.entries.Range(func(key string, _ *cacheEntry) bool {
		names = append(names, key)
		return true
	})
	return names
}

// Ensure populates the collection from a store snapshot if it is not cached yet. Concurrent calls for the
// same collection share a single in-flight fetch.
func (c *CollectionCache) Ensure(ctx context.Context, collection string) error {
	if collection == "" {
		return errors.New(errors.Validation, "cache: empty collection name")
	}
	if c.entries.Exists(collection) {
		return nil
	}
	_, err, _ := c.fetches.Do(collection, func() (any, error) {
		if c.entries.Exists(collection) {
			return nil, nil
		}
		docs, err := c.store.Snapshot(ctx, collection)
		if err != nil {
			return nil, errors.Wrap(err, errors.Internal, "cache: failed to fetch %s snapshot", collection)
		}
		snapshot := make([]*Document, 0, len(docs))
		for _, d := range docs {
			if d != nil {
				snapshot = append(snapshot, d)
			}
		}
		c.entries.LoadOrStore(collection, &cacheEntry{docs: snapshot})
		return nil, nil
	})
	return err
}

// Apply mutates the cached collection with the event and returns true if the cache changed.
// insert prepends the full document (or replaces a cached entry with the same id), update and replace swap
// the entry with the same id, delete removes the entry with the same id. Updates and deletes for documents
// that are not cached are no-ops. Other operation types leave the cache untouched, as does an event for a
// collection that is not cached.
func (c *CollectionCache) Apply(collection string, event ChangeEvent) (bool, error) {
	entry, ok := c.entries.Load(collection)
	if !ok || !event.OperationType.mutatesDocuments() {
		return false, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	switch event.OperationType {
	case Insert:
		if event.FullDocument == nil {
			return false, errors.New(errors.Validation, "cache: insert into %s without a full document", collection)
		}
		// a replayed insert, or one already captured by the snapshot, replaces the entry where it is
		if index := entry.indexOf(event.FullDocument.ID()); index >= 0 {
			entry.replace(index, event.FullDocument)
			return true, nil
		}
		docs := make([]*Document, 0, len(entry.docs)+1)
		docs = append(docs, event.FullDocument)
		entry.docs = append(docs, entry.docs...)
		return true, nil
	case Update, Replace:
		id, hasID := event.DocumentID()
		if !hasID {
			return false, nil
		}
		index := entry.indexOf(id)
		if index < 0 {
			return false, nil
		}
		next := event.FullDocument
		if next == nil {
			patched, err := entry.docs[index].Patch(event.UpdateDescription)
			if err != nil {
				return false, err
			}
			next = patched
		}
		entry.replace(index, next)
		return true, nil
	case Delete:
		id, hasID := event.DocumentID()
		if !hasID {
			return false, nil
		}
		index := entry.indexOf(id)
		if index < 0 {
			return false, nil
		}
		docs := make([]*Document, 0, len(entry.docs)-1)
		docs = append(docs, entry.docs[:index]...)
		entry.docs = append(docs, entry.docs[index+1:]...)
		return true, nil
	}
	return false, nil
}

// Documents returns the cached documents of the collection in cache order. The returned slice is owned by
// the caller; the documents are shared and must not be mutated.
func (c *CollectionCache) Documents(collection string) ([]*Document, bool) {
	entry, ok := c.entries.Load(collection)
	if !ok {
		return nil, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	docs := make([]*Document, len(entry.docs))
	copy(docs, entry.docs)
	return docs, true
}

// Drop evicts the collection so the next Ensure refetches it
func (c *CollectionCache) Drop(collection string) {
	c.entries.Del(collection)
}

// DropAll evicts every collection
func (c *CollectionCache) DropAll() {
	c.entries.Clear()
}

func (e *cacheEntry) indexOf(id string) int {
	for i, d := range e.docs {
		if d.ID() == id {
			return i
		}
	}
	return -1
}

// replace swaps the document at index into a new slice so views handed out earlier are unaffected
func (e *cacheEntry) replace(index int, doc *Document) {
	docs := make([]*Document, len(e.docs))
	copy(docs, e.docs)
	docs[index] = doc
	e.docs = docs
}
