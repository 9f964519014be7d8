package testutil

import (
	"context"
	"sync"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
)

// Feed is an in-memory realtime.Feed. Emitted events are delivered to the watcher in order; events for
// collections rejected by the namespace filter are dropped the way a server side filter would drop them.
type Feed struct {
	events      chan realtime.ChangeEvent
	watching    chan struct{}
	watchOnce   sync.Once
	mu          sync.RWMutex
	filter      realtime.NamespaceFilter
	handlerErrs []error
}

// NewFeed creates a feed
func NewFeed() *Feed {
	return &Feed{
		events:   make(chan realtime.ChangeEvent, 1024),
		watching: make(chan struct{}),
	}
}

// Watch delivers emitted events to fn until the context is cancelled or fn fails
func (f *Feed) Watch(ctx context.Context, filter realtime.NamespaceFilter, fn realtime.ChangeHandler) error {
	f.mu.Lock()
	f.filter = filter
	f.mu.Unlock()
	f.watchOnce.Do(func() {
		close(f.watching)
	})
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-f.events:
			if c := event.Collection(); c != "" && !filter.Pass(c) {
				continue
			}
			if err := fn(ctx, event); err != nil {
				f.mu.Lock()
				f.handlerErrs = append(f.handlerErrs, err)
				f.mu.Unlock()
				return err
			}
		}
	}
}

// Emit queues the events
func (f *Feed) Emit(events ...realtime.ChangeEvent) {
	for _, e := range events {
		f.events <- e
	}
}

// Watching is closed once Watch has been called
func (f *Feed) Watching() <-chan struct{} {
	return f.watching
}

// Filter returns the namespace filter passed to Watch
func (f *Feed) Filter() realtime.NamespaceFilter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter
}

// Transport is an in-memory realtime.Transport that records every published message
type Transport struct {
	mu          sync.RWMutex
	messages    []realtime.Message
	handler     realtime.ConnectionHandler
	serving     chan struct{}
	servingOnce sync.Once
	closed      chan struct{}
	closeOnce   sync.Once
}

// NewTransport creates a transport
func NewTransport() *Transport {
	return &Transport{
		serving: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Publish records the message
func (t *Transport) Publish(ctx context.Context, topic string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, realtime.Message{Topic: topic, Payload: payload})
}

// Serve blocks until the context is cancelled or the transport is closed
func (t *Transport) Serve(ctx context.Context, handler realtime.ConnectionHandler) error {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
	t.servingOnce.Do(func() {
		close(t.serving)
	})
	select {
	case <-ctx.Done():
	case <-t.closed:
	}
	return nil
}

// Close stops serving
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}

// Serving is closed once Serve has been called
func (t *Transport) Serving() <-chan struct{} {
	return t.serving
}

// Closed returns true if Close has been called
func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Connect runs the handler's admission and connection callbacks as a transport would for a new connection
func (t *Transport) Connect(ctx context.Context, handshake *realtime.Handshake) error {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		return errors.New(errors.Internal, "transport: not serving")
	}
	ctx = handshake.Context(ctx)
	if err := handler.Admit(ctx, handshake); err != nil {
		return err
	}
	handler.Connected(ctx, handshake)
	return nil
}

// Disconnect runs the handler's disconnection callback
func (t *Transport) Disconnect(ctx context.Context, handshake *realtime.Handshake) {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler != nil {
		handler.Disconnected(handshake.Context(ctx), handshake)
	}
}

// Messages returns the messages published on the topic in order
func (t *Transport) Messages(topic string) []realtime.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var messages []realtime.Message
	for _, m := range t.messages {
		if m.Topic == topic {
			messages = append(messages, m)
		}
	}
	return messages
}

// Topics returns the topic of every published message in order
func (t *Transport) Topics() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	topics := make([]string, 0, len(t.messages))
	for _, m := range t.messages {
		topics = append(topics, m.Topic)
	}
	return topics
}

// Last returns the most recent message published on the topic
func (t *Transport) Last(topic string) (realtime.Message, bool) {
	messages := t.Messages(topic)
	if len(messages) == 0 {
		return realtime.Message{}, false
	}
	return messages[len(messages)-1], true
}

// LastDocuments returns the documents of the most recent message published on the topic
func (t *Transport) LastDocuments(topic string) ([]*realtime.Document, bool) {
	m, ok := t.Last(topic)
	if !ok {
		return nil, false
	}
	docs, ok := m.Payload.(realtime.Documents)
	return docs, ok
}
