package realtime

import (
	"context"
	"sync"

	"github.com/segmentio/ksuid"
)

// Listener is an in-process callback invoked with a topic's payload
type Listener func(ctx context.Context, topic string, payload any)

// ListenerID identifies a registered listener so it can be removed later
type ListenerID string

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// ListenerRegistry holds in-process subscriptions. It is independent of network delivery.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	logger    Logger
}

// NewListenerRegistry creates an empty registry
func NewListenerRegistry(logger Logger) *ListenerRegistry {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &ListenerRegistry{
		listeners: map[string][]listenerEntry{},
		logger:    logger,
	}
}

// Listen appends the listener to the topic's ordered list
func (l *ListenerRegistry) Listen(topic string, fn Listener) ListenerID {
	id := ListenerID(ksuid.New().String())
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners[topic] = append(l.listeners[topic], listenerEntry{id: id, fn: fn})
	return id
}

// RemoveListener removes the given listeners from the topic. If no ids are given every listener on the topic
// is removed.
func (l *ListenerRegistry) RemoveListener(topic string, ids ...ListenerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(ids) == 0 {
		delete(l.listeners, topic)
		return
	}
	remove := map[ListenerID]struct{}{}
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	var kept []listenerEntry
	for _, entry := range l.listeners[topic] {
		if _, ok := remove[entry.id]; !ok {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(l.listeners, topic)
		return
	}
	l.listeners[topic] = kept
}

// RemoveAllListeners clears every topic
func (l *ListenerRegistry) RemoveAllListeners() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = map[string][]listenerEntry{}
}

// Notify invokes the topic's listeners in registration order. The listener list is captured before the first
// call, so listeners may add or remove listeners. A panicking listener is logged and skipped.
func (l *ListenerRegistry) Notify(ctx context.Context, topic string, payload any) {
	l.mu.RLock()
	entries := make([]listenerEntry, len(l.listeners[topic]))
	copy(entries, l.listeners[topic])
	l.mu.RUnlock()
	for _, entry := range entries {
		l.call(ctx, entry, topic, payload)
	}
}

// Topics returns the number of listeners per topic
func (l *ListenerRegistry) Topics() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[string]int, len(l.listeners))
	for topic, entries := range l.listeners {
		counts[topic] = len(entries)
	}
	return counts
}

func (l *ListenerRegistry) call(ctx context.Context, entry listenerEntry, topic string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn(ctx, "listener panicked", map[string]any{
				"topic":    topic,
				"listener": entry.id,
				"panic":    r,
			})
		}
	}()
	entry.fn(ctx, topic, payload)
}
