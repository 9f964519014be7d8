package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/autom8ter/machine/v4"
	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/internal/safe"
	"github.com/samber/lo"
)

var _ ConnectionHandler = (*Relay)(nil)

// Relay consumes a change feed and relays every change to connected clients and in-process listeners while
// keeping per-collection caches and the filtered list-streams bound to them current.
type Relay struct {
	config      Config
	feed        Feed
	store       Store
	transport   Transport
	namespace   NamespaceFilter
	logger      Logger
	broadcaster Broadcasters
	extractor   TokenExtractor
	machine     machine.Machine
	cache       *CollectionCache
	streams     *StreamRegistry
	listeners   *ListenerRegistry
	gate        *Gate
	lanes       *safe.Map[*lane]
	declared    []declaredStream
	ctx         context.Context
	cancel      context.CancelFunc
	started     atomic.Bool
	closeOnce   sync.Once
}

type declaredStream struct {
	id         string
	collection string
	filter     Filter
}

// New validates the config and creates a relay. The relay does nothing until Start is called.
func New(cfg Config, opts ...Opt) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Relay{
		config:      cfg,
		feed:        cfg.Feed,
		store:       cfg.Store,
		transport:   cfg.Transport,
		namespace:   cfg.NamespaceFilter(),
		logger:      NewNopLogger(),
		broadcaster: Broadcasters{cfg.Transport},
		machine:     machine.New(),
		cache:       NewCollectionCache(cfg.Store),
		streams:     NewStreamRegistry(cfg.SafeMode()),
		lanes:       safe.NewMap[*lane](nil),
	}
	for _, o := range opts {
		o(r)
	}
	r.listeners = NewListenerRegistry(r.logger)
	r.gate = NewGate(cfg.Authenticator, r.extractor, cfg.Middlewares...)
	for _, s := range cfg.Streams {
		d := declaredStream{id: s.ID, collection: s.Collection}
		if s.Filter != "" {
			filter, err := ScriptFilter(s.Filter)
			if err != nil {
				return nil, errors.Wrap(err, errors.Configuration, "relay: invalid filter for stream %s", s.ID)
			}
			d.filter = filter
		}
		r.declared = append(r.declared, d)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// Start provisions the configured streams, then serves the transport and consumes the change feed in the
// background until the context is cancelled or Close is called
func (r *Relay) Start(ctx context.Context) error {
	if r.ctx.Err() != nil {
		return errors.New(errors.Validation, "relay: closed")
	}
	if !r.started.CompareAndSwap(false, true) {
		return errors.New(errors.Validation, "relay: already started")
	}
	ctx, cancel := r.bind(ctx)
	if err := r.provisionStreams(ctx); err != nil {
		cancel()
		return err
	}
	r.machine.Go(ctx, func(ctx context.Context) error {
		if err := r.transport.Serve(ctx, r); err != nil && ctx.Err() == nil {
			r.logger.Error(ctx, "transport stopped serving", err, map[string]any{})
		}
		return nil
	})
	r.machine.Go(ctx, func(ctx context.Context) error {
		if err := r.feed.Watch(ctx, r.namespace, r.Handle); err != nil && ctx.Err() == nil {
			r.logger.Error(ctx, "change feed stopped", err, map[string]any{})
		}
		return nil
	})
	r.machine.Go(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		cancel()
		r.cancel()
		return nil
	})
	r.logger.Info(ctx, "relay started", map[string]any{
		"streams": r.streams.IDs(),
	})
	return nil
}

// Handle processes one change event: it is classified and delivered on its change topics, then queued on its
// collection's lane where it is applied to the cache. Handle returns once the event is queued, so the next
// event may be handled before the previous event's streams are published.
func (r *Relay) Handle(ctx context.Context, event ChangeEvent) error {
	if r.ctx.Err() != nil {
		return errors.New(errors.Internal, "relay: closed")
	}
	collection := event.Collection()
	if collection != "" && !r.namespace.Pass(collection) {
		r.logger.Debug(ctx, "ignoring change", map[string]any{
			"collection": collection,
			"type":       event.OperationType,
		})
		return nil
	}
	for _, topic := range Classify(event) {
		channel := topic.Channel()
		r.broadcaster.Publish(ctx, channel, event)
		r.listeners.Notify(ctx, channel, event)
	}
	r.publishChange(ctx, event)

	switch event.OperationType {
	case Insert, Update, Replace, Delete, Drop:
		return r.enqueue(ctx, collection, event)
	case Rename:
		if err := r.enqueue(ctx, collection, event); err != nil {
			return err
		}
		if event.To != nil && event.To.Collection != "" && r.namespace.Pass(event.To.Collection) {
			return r.enqueue(ctx, event.To.Collection, event)
		}
	case DropDatabase:
		// a collection populated by AddStream or Snapshot has no lane until its first event
		for _, name := range lo.Union(r.cache.Collections(), r.lanes.Keys()) {
			if err := r.enqueue(ctx, name, event); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddStream registers a list-stream over the collection, populating the collection's cache if needed, and
// publishes its initial view. A nil filter matches every document. In safe mode registering an existing id
// fails with an errors.Conflict error.
func (r *Relay) AddStream(ctx context.Context, id, collection string, filter Filter) error {
	stream, err := r.streams.Add(id, collection, filter)
	if err != nil {
		return err
	}
	if !r.namespace.Pass(collection) {
		r.logger.Warn(ctx, "stream bound to an ignored collection", map[string]any{
			"stream":     id,
			"collection": collection,
		})
	}
	if err := r.cache.Ensure(ctx, collection); err != nil {
		if r.streams.current(stream) {
			r.streams.Remove(id)
		}
		return err
	}
	r.refresh(ctx, stream)
	return nil
}

// RemoveStream unregisters a list-stream. Removing an unknown id is a no-op.
func (r *Relay) RemoveStream(id string) {
	r.streams.Remove(id)
}

// StreamIDs returns the registered stream ids in sorted order
func (r *Relay) StreamIDs() []string {
	return r.streams.IDs()
}

// Snapshot returns the current filtered view of the stream
func (r *Relay) Snapshot(ctx context.Context, streamID string) ([]*Document, error) {
	stream, ok := r.streams.Get(streamID)
	if !ok {
		return nil, errors.New(errors.NotFound, "relay: stream %s does not exist", streamID)
	}
	if err := r.cache.Ensure(ctx, stream.Collection); err != nil {
		return nil, err
	}
	docs, _ := r.cache.Documents(stream.Collection)
	return r.filter(ctx, stream, docs), nil
}

// Documents returns the cached documents of the collection, most recently inserted first
func (r *Relay) Documents(collection string) ([]*Document, bool) {
	return r.cache.Documents(collection)
}

// Admit runs the connection gate
func (r *Relay) Admit(ctx context.Context, handshake *Handshake) error {
	if err := r.gate.Admit(ctx, handshake); err != nil {
		r.logger.Info(ctx, "connection rejected", map[string]any{
			"reason": errors.Extract(err).Reason,
		})
		return err
	}
	return nil
}

// Connected is called by the transport after a connection is admitted
func (r *Relay) Connected(ctx context.Context, handshake *Handshake) {
	r.logger.Debug(ctx, "client connected", map[string]any{})
	if r.config.OnConnect != nil {
		r.config.OnConnect(ctx, handshake)
	}
}

// Disconnected is called by the transport after a connection closes
func (r *Relay) Disconnected(ctx context.Context, handshake *Handshake) {
	r.logger.Debug(ctx, "client disconnected", map[string]any{})
	if r.config.OnDisconnect != nil {
		r.config.OnDisconnect(ctx, handshake)
	}
}

// Listen registers an in-process listener on the topic
func (r *Relay) Listen(topic string, fn Listener) ListenerID {
	return r.listeners.Listen(topic, fn)
}

// RemoveListener removes the given listeners from the topic, or every listener on the topic if none are given
func (r *Relay) RemoveListener(topic string, ids ...ListenerID) {
	r.listeners.RemoveListener(topic, ids...)
}

// RemoveAllListeners removes every listener
func (r *Relay) RemoveAllListeners() {
	r.listeners.RemoveAllListeners()
}

// Notify invokes the topic's in-process listeners
func (r *Relay) Notify(ctx context.Context, topic string, payload any) {
	r.listeners.Notify(ctx, topic, payload)
}

// Close disconnects every client, stops the change feed and waits for background work to finish.
// The relay cannot be restarted.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.transport.Close()
		r.cancel()
		if werr := r.machine.Wait(); werr != nil && err == nil {
			err = werr
		}
		r.listeners.RemoveAllListeners()
		r.logger.Info(context.Background(), "relay closed", map[string]any{})
	})
	return errors.Wrap(err, errors.Internal, "relay: failed to close")
}

// Done returns a channel that is closed when the relay is closed or its start context is cancelled
func (r *Relay) Done() <-chan struct{} {
	return r.ctx.Done()
}

// refresh evaluates the stream over the collection's cache and publishes the result in the background, outliving
// the caller's context.
// The generation and the cache copy are taken together so a higher generation never carries an older view.
func (r *Relay) refresh(ctx context.Context, stream *ListStream) {
	var (
		docs []*Document
		ok   bool
	)
	generation := stream.next(func() {
		docs, ok = r.cache.Documents(stream.Collection)
	})
	if !ok {
		return
	}
	r.machine.Go(r.ctx, func(ctx context.Context) error {
		filtered := r.filter(ctx, stream, docs)
		if !r.streams.current(stream) {
			return nil
		}
		published := stream.commit(generation, func() {
			r.broadcaster.Publish(ctx, stream.Channel(), Documents(filtered))
			r.listeners.Notify(ctx, stream.Channel(), Documents(filtered))
		})
		if !published {
			r.logger.Debug(ctx, "discarded stale stream view", map[string]any{
				"stream":     stream.ID,
				"generation": generation,
			})
		}
		return nil
	})
}

// recompute refreshes every stream bound to the collection. Streams are evaluated independently.
func (r *Relay) recompute(ctx context.Context, collection string) {
	for _, stream := range r.streams.Bound(collection) {
		r.refresh(ctx, stream)
	}
}

func (r *Relay) filter(ctx context.Context, stream *ListStream, docs []*Document) []*Document {
	return evaluate(ctx, stream.Filter, docs, func(doc *Document, err error) {
		r.logger.Debug(ctx, "filter evaluation failed", map[string]any{
			"stream":   stream.ID,
			"document": doc.ID(),
			"error":    err.Error(),
		})
	})
}

// bind returns a context that is cancelled when either the given context or the relay is done
func (r *Relay) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-r.ctx.Done():
			cancel()
		}
	}()
	return ctx, cancel
}
