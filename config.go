package realtime

import (
	"context"

	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/util"
	"github.com/samber/lo"
)

// ConnectionCallback is called with the handshake of a connection when it connects or disconnects
type ConnectionCallback func(ctx context.Context, handshake *Handshake)

// StreamConfig declares a list-stream registered at startup
type StreamConfig struct {
	// ID is the stream id, published on db:stream:{id}
	ID string `json:"id" validate:"required"`
	// Collection is the collection the stream is bound to
	Collection string `json:"collection" validate:"required"`
	// Filter is an optional javascript expression evaluated with doc bound to each document
	Filter string `json:"filter,omitempty"`
}

// Config configures a relay
type Config struct {
	// Feed is the change feed (required)
	Feed Feed `json:"-"`
	// Store is the data store cache snapshots are fetched from (required)
	Store Store `json:"-"`
	// Transport delivers topics to connected clients (required)
	Transport Transport `json:"-"`
	// Watch limits processing to the given collections. Empty means every collection.
	Watch []string `json:"watch,omitempty"`
	// Ignore excludes the given collections from processing
	Ignore []string `json:"ignore,omitempty"`
	// AutoListStream lists the collections that get an unfiltered stream keyed by the collection name at
	// startup. nil provisions every discovered collection, an empty list provisions none.
	AutoListStream []string `json:"autoListStream"`
	// SafeListStream rejects registering a stream id that already exists. nil means true.
	SafeListStream *bool `json:"safeListStream,omitempty"`
	// Streams are registered at startup after auto-provisioning
	Streams []StreamConfig `json:"streams,omitempty" validate:"dive"`
	// Authenticator verifies connection tokens. nil admits every connection.
	Authenticator Authenticator `json:"-"`
	// Middlewares run in order after authentication
	Middlewares []Middleware `json:"-"`
	// OnConnect is called after a connection is admitted
	OnConnect ConnectionCallback `json:"-"`
	// OnDisconnect is called after a connection closes
	OnDisconnect ConnectionCallback `json:"-"`
	// LaneBuffer is the number of events queued per collection before Handle blocks
	LaneBuffer int `json:"laneBuffer,omitempty" validate:"gte=0"`
}

// SafeMode returns the effective safe list stream setting
func (c Config) SafeMode() bool {
	return c.SafeListStream == nil || *c.SafeListStream
}

// NamespaceFilter returns the watch/ignore policy
func (c Config) NamespaceFilter() NamespaceFilter {
	return NamespaceFilter{
		Watch:  c.Watch,
		Ignore: c.Ignore,
	}
}

// Validate returns an errors.Configuration error if the config cannot be used to build a relay
func (c Config) Validate() error {
	if c.Feed == nil {
		return errors.New(errors.Configuration, "config: a change feed is required")
	}
	if c.Store == nil {
		return errors.New(errors.Configuration, "config: a store is required")
	}
	if c.Transport == nil {
		return errors.New(errors.Configuration, "config: a transport is required")
	}
	if err := util.ValidateStruct(c); err != nil {
		return errors.Wrap(err, errors.Configuration, "config: invalid configuration")
	}
	ids := lo.Map(c.Streams, func(s StreamConfig, _ int) string {
		return s.ID
	})
	if c.SafeMode() && len(lo.Uniq(ids)) != len(ids) {
		return errors.New(errors.Configuration, "config: duplicate stream ids: %v", ids)
	}
	return nil
}

func (c Config) laneBuffer() int {
	if c.LaneBuffer <= 0 {
		return 256
	}
	return c.LaneBuffer
}
