package realtime

import (
	"context"

	"github.com/autom8ter/realtime/errors"
)

// lane serializes cache mutations for one collection. Lanes for different collections run independently.
type lane struct {
	collection string
	queue      chan ChangeEvent
}

// lane returns the collection's lane, starting it on first use
func (r *Relay) lane(collection string) *lane {
	if l, ok := r.lanes.Load(collection); ok {
		return l
	}
	l, loaded := r.lanes.LoadOrStore(collection, &lane{
		collection: collection,
		queue:      make(chan ChangeEvent, r.config.laneBuffer()),
	})
	if !loaded {
		r.machine.Go(r.ctx, func(ctx context.Context) error {
			r.runLane(ctx, l)
			return nil
		})
	}
	return l
}

// enqueue blocks until the event is queued on the collection's lane
func (r *Relay) enqueue(ctx context.Context, collection string, event ChangeEvent) error {
	l := r.lane(collection)
	select {
	case l.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return errors.New(errors.Internal, "relay: closed")
	}
}

func (r *Relay) runLane(ctx context.Context, l *lane) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-l.queue:
			r.apply(ctx, l.collection, event)
		}
	}
}

// apply runs on the collection's lane. The cache is populated before the first mutation; a mutation that
// changes the cache refreshes the bound streams without waiting for their publication. Collection level
// drops evict the cache and repopulate it only if streams are still bound to the collection.
func (r *Relay) apply(ctx context.Context, collection string, event ChangeEvent) {
	switch event.OperationType {
	case Drop, Rename, DropDatabase:
		r.cache.Drop(collection)
		if len(r.streams.Bound(collection)) == 0 {
			return
		}
		if err := r.cache.Ensure(ctx, collection); err != nil {
			r.logger.Error(ctx, "failed to repopulate collection", err, map[string]any{
				"collection": collection,
			})
			return
		}
		r.recompute(ctx, collection)
		return
	case Insert, Update, Replace, Delete:
	default:
		return
	}
	if err := r.cache.Ensure(ctx, collection); err != nil {
		r.logger.Error(ctx, "failed to populate collection", err, map[string]any{
			"collection": collection,
		})
		return
	}
	changed, err := r.cache.Apply(collection, event)
	if err != nil {
		r.logger.Warn(ctx, "failed to apply change", map[string]any{
			"collection": collection,
			"type":       event.OperationType,
			"error":      err.Error(),
		})
		return
	}
	if changed {
		r.recompute(ctx, collection)
	}
}
