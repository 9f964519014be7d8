package realtime

import (
	"context"

	"github.com/autom8ter/realtime/errors"
	"github.com/samber/lo"
)

// provisionStreams registers the auto-provisioned streams and then the declared streams. Both go through
// AddStream so they are subject to the same safe mode check as any other registration.
func (r *Relay) provisionStreams(ctx context.Context) error {
	collections, err := r.autoListCollections(ctx)
	if err != nil {
		return err
	}
	for _, collection := range collections {
		if err := r.AddStream(ctx, collection, collection, nil); err != nil {
			return errors.Wrap(err, 0, "relay: failed to provision stream %s", collection)
		}
	}
	for _, d := range r.declared {
		if err := r.AddStream(ctx, d.id, d.collection, d.filter); err != nil {
			return errors.Wrap(err, 0, "relay: failed to register stream %s", d.id)
		}
	}
	return nil
}

// autoListCollections returns the collections that get an unfiltered stream keyed by their own name.
// An unset list provisions every discovered collection that passes the namespace filter, an empty list
// provisions none.
func (r *Relay) autoListCollections(ctx context.Context) ([]string, error) {
	if r.config.AutoListStream != nil {
		return lo.Uniq(r.config.AutoListStream), nil
	}
	discovered, err := r.store.Collections(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "relay: failed to discover collections")
	}
	return r.namespace.Collections(lo.Uniq(discovered)), nil
}
