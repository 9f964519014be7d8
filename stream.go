package realtime

import (
	"sort"
	"sync"

	"github.com/autom8ter/realtime/errors"
)

// ListStream is a named, filtered view over one collection's cache
type ListStream struct {
	ID         string
	Collection string
	Filter     Filter

	viewMu     sync.Mutex
	generation uint64
	mu         sync.Mutex
	published  uint64
}

// Channel returns the channel the stream's view is published on
func (s *ListStream) Channel() string {
	return StreamChannel(s.ID)
}

// next starts a new evaluation and returns its generation. read runs under the same lock, so generations are
// ordered the same way as the reads they were taken with.
func (s *ListStream) next(read func()) uint64 {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.generation++
	read()
	return s.generation
}

// commit runs fn unless a newer generation has already been committed. Commits for one stream are serialized
// so subscribers never observe an older view after a newer one.
func (s *ListStream) commit(generation uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation < s.published {
		return false
	}
	s.published = generation
	fn()
	return true
}

// StreamRegistry holds the registered list-streams. In safe mode registering an id that already exists
// fails; otherwise the existing stream is replaced.
type StreamRegistry struct {
	mu       sync.RWMutex
	streams  map[string]*ListStream
	safeMode bool
}

// NewStreamRegistry creates an empty registry
func NewStreamRegistry(safeMode bool) *StreamRegistry {
	return &StreamRegistry{
		streams:  map[string]*ListStream{},
		safeMode: safeMode,
	}
}

// SafeMode returns true if duplicate stream ids are rejected
func (r *StreamRegistry) SafeMode() bool {
	return r.safeMode
}

// Add registers a stream. A nil filter matches every document.
func (r *StreamRegistry) Add(id, collection string, filter Filter) (*ListStream, error) {
	if id == "" {
		return nil, errors.New(errors.Validation, "stream: empty stream id")
	}
	if collection == "" {
		return nil, errors.New(errors.Validation, "stream: %s has an empty collection", id)
	}
	if filter == nil {
		filter = MatchAll
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; ok && r.safeMode {
		return nil, errors.New(errors.Conflict, "stream: %s already exists", id)
	}
	stream := &ListStream{
		ID:         id,
		Collection: collection,
		Filter:     filter,
	}
	r.streams[id] = stream
	return stream, nil
}

// Remove deletes the stream if it exists
func (r *StreamRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Get returns the stream with the given id
func (r *StreamRegistry) Get(id string) (*ListStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// current returns true if the stream is still the registered stream for its id
func (r *StreamRegistry) current(stream *ListStream) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[stream.ID] == stream
}

// Bound returns the streams bound to the collection ordered by id
func (r *StreamRegistry) Bound(collection string) []*ListStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var bound []*ListStream
	for _, s := range r.streams {
		if s.Collection == collection {
			bound = append(bound, s)
		}
	}
	sort.Slice(bound, func(i, j int) bool {
		return bound[i].ID < bound[j].ID
	})
	return bound
}

// IDs returns the registered stream ids in sorted order
func (r *StreamRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered streams
func (r *StreamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
