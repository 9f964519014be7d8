package realtime

import (
	"context"
)

// ChangeHandler handles a change event. Returning an error stops the feed.
type ChangeHandler func(ctx context.Context, event ChangeEvent) error

// Feed is the ordered source of change events
type Feed interface {
	// Watch streams change events that pass the namespace filter to fn, in order, until the context is
	// cancelled, the feed fails, or fn returns an error
	Watch(ctx context.Context, filter NamespaceFilter, fn ChangeHandler) error
}

// Store is the data store the cache snapshots are fetched from
type Store interface {
	// Snapshot returns every document in the collection, most recently inserted first
	Snapshot(ctx context.Context, collection string) ([]*Document, error)
	// Collections returns the names of the collections in the store
	Collections(ctx context.Context) ([]string, error)
}

// ConnectionHandler is implemented by the engine and consumed by a Transport
type ConnectionHandler interface {
	// Admit decides whether a connection may be established. It runs once per connection before any
	// topic is delivered to it.
	Admit(ctx context.Context, handshake *Handshake) error
	// Snapshot returns the current filtered view of a stream for a late joining client
	Snapshot(ctx context.Context, streamID string) ([]*Document, error)
	// Connected is called after a connection is admitted
	Connected(ctx context.Context, handshake *Handshake)
	// Disconnected is called after a connection closes
	Disconnected(ctx context.Context, handshake *Handshake)
}

// Transport owns client connections and delivers published topics to them
type Transport interface {
	Broadcaster
	// Serve accepts connections until the context is cancelled or Close is called
	Serve(ctx context.Context, handler ConnectionHandler) error
	// Close disconnects every client and stops serving
	Close() error
}
