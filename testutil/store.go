package testutil

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
)

// Store is an in-memory realtime.Store. Its mutation helpers return the change event the mutation would
// emit on a change feed.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]*realtime.Document
	fetches     atomic.Int64
	delay       time.Duration
	err         error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{collections: map[string][]*realtime.Document{}}
}

// Snapshot returns the collection's documents, most recently inserted first
func (s *Store) Snapshot(ctx context.Context, collection string) ([]*realtime.Document, error) {
	s.fetches.Add(1)
	s.mu.RLock()
	delay, err := s.delay, s.err
	s.mu.RUnlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*realtime.Document, 0, len(s.collections[collection]))
	for _, d := range s.collections[collection] {
		docs = append(docs, d.Clone())
	}
	return docs, nil
}

// Collections returns the collection names in sorted order
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	var names []string
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Fetches returns the number of Snapshot calls
func (s *Store) Fetches() int64 {
	return s.fetches.Load()
}

// SetDelay delays every Snapshot call
func (s *Store) SetDelay(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
}

// SetError makes Snapshot and Collections fail with err. A nil error restores them.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Create creates an empty collection
func (s *Store) Create(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = []*realtime.Document{}
	}
}

// Seed inserts the documents in order without emitting events
func (s *Store) Seed(collection string, docs ...*realtime.Document) {
	for _, d := range docs {
		s.Insert(collection, d)
	}
}

// Insert prepends the document
func (s *Store) Insert(collection string, doc *realtime.Document) realtime.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append([]*realtime.Document{doc.Clone()}, s.collections[collection]...)
	return realtime.ChangeEvent{
		OperationType: realtime.Insert,
		Namespace:     namespace(collection),
		DocumentKey:   &realtime.DocumentKey{ID: doc.ID()},
		FullDocument:  doc.Clone(),
		ClusterTime:   time.Now(),
	}
}

// Update merges the fields into the document with the given id. The event carries the updated fields and the
// post-image of the document.
func (s *Store) Update(collection string, id string, fields map[string]any) (realtime.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i, d := range docs {
		if d.ID() != id {
			continue
		}
		next := d.Clone()
		if err := next.SetAll(fields); err != nil {
			return realtime.ChangeEvent{}, err
		}
		docs[i] = next
		return realtime.ChangeEvent{
			OperationType: realtime.Update,
			Namespace:     namespace(collection),
			DocumentKey:   &realtime.DocumentKey{ID: id},
			FullDocument:  next.Clone(),
			UpdateDescription: &realtime.UpdateDescription{
				UpdatedFields: fields,
			},
			ClusterTime: time.Now(),
		}, nil
	}
	return realtime.ChangeEvent{}, errors.New(errors.NotFound, "%s/%s does not exist", collection, id)
}

// Delete removes the document with the given id
func (s *Store) Delete(collection string, id string) realtime.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i, d := range docs {
		if d.ID() == id {
			s.collections[collection] = append(docs[:i:i], docs[i+1:]...)
			break
		}
	}
	return realtime.ChangeEvent{
		OperationType: realtime.Delete,
		Namespace:     namespace(collection),
		DocumentKey:   &realtime.DocumentKey{ID: id},
		ClusterTime:   time.Now(),
	}
}

// Drop removes the collection
func (s *Store) Drop(collection string) realtime.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return realtime.ChangeEvent{
		OperationType: realtime.Drop,
		Namespace:     namespace(collection),
		ClusterTime:   time.Now(),
	}
}

// Rename moves the collection's documents to the target collection, replacing it
func (s *Store) Rename(collection, target string) realtime.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[target] = s.collections[collection]
	delete(s.collections, collection)
	to := namespace(target)
	return realtime.ChangeEvent{
		OperationType: realtime.Rename,
		Namespace:     namespace(collection),
		To:            &to,
		ClusterTime:   time.Now(),
	}
}

// DropDatabase removes every collection
func (s *Store) DropDatabase() realtime.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = map[string][]*realtime.Document{}
	return realtime.ChangeEvent{
		OperationType: realtime.DropDatabase,
		Namespace:     realtime.Namespace{Database: "testing"},
		ClusterTime:   time.Now(),
	}
}

func namespace(collection string) realtime.Namespace {
	return realtime.Namespace{Database: "testing", Collection: collection}
}
