package mongodb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/util"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config configures a mongodb connection
type Config struct {
	URI      string `json:"uri" yaml:"uri" validate:"required"`
	Database string `json:"database" yaml:"database" validate:"required"`
}

// Conn is a connection to one mongodb database
type Conn struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect connects to the database and verifies the primary is reachable
func Connect(ctx context.Context, config Config) (*Conn, error) {
	if err := util.ValidateStruct(config); err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, errors.Wrap(err, errors.Configuration, "mongodb: failed to connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrap(err, errors.Configuration, "mongodb: failed to ping primary")
	}
	return &Conn{client: client, db: client.Database(config.Database)}, nil
}

// Feed returns a change feed over the database
func (c *Conn) Feed(opts ...FeedOpt) *Feed {
	return NewFeed(c.db, opts...)
}

// Store returns a snapshot store over the database
func (c *Conn) Store() *Store {
	return NewStore(c.db)
}

// Close disconnects the client
func (c *Conn) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Pipeline returns the change stream pipeline that applies the namespace filter on the server.
// Events without a collection (dropDatabase, invalidate) always pass.
func Pipeline(filter realtime.NamespaceFilter) mongo.Pipeline {
	if len(filter.Watch) == 0 && len(filter.Ignore) == 0 {
		return mongo.Pipeline{}
	}
	coll := bson.D{}
	if len(filter.Watch) > 0 {
		coll = append(coll, bson.E{Key: "$in", Value: filter.Watch})
	}
	if len(filter.Ignore) > 0 {
		coll = append(coll, bson.E{Key: "$nin", Value: filter.Ignore})
	}
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "ns.coll", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "ns.coll", Value: coll}},
		}}}}},
	}
}

// FeedOpt is an option for configuring a feed
type FeedOpt func(f *Feed)

// WithFeedLogger sets the feed's logger
func WithFeedLogger(logger realtime.Logger) FeedOpt {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Feed is a realtime.Feed backed by a database level change stream. Full documents are looked up for updates.
// The feed remembers the resume token of the last handled event so a later Watch continues where the previous
// one stopped.
type Feed struct {
	db          *mongo.Database
	logger      realtime.Logger
	mu          sync.Mutex
	resumeToken bson.Raw
}

// NewFeed creates a change feed over the database
func NewFeed(db *mongo.Database, opts ...FeedOpt) *Feed {
	f := &Feed{db: db, logger: realtime.NewNopLogger()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ResumeToken returns the resume token of the last handled event
func (f *Feed) ResumeToken() bson.Raw {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumeToken
}

func (f *Feed) setResumeToken(token bson.Raw) {
	if len(token) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeToken = append(bson.Raw{}, token...)
}

// Watch streams change events to fn until the context is cancelled, the stream fails or fn returns an error
func (f *Feed) Watch(ctx context.Context, filter realtime.NamespaceFilter, fn realtime.ChangeHandler) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if token := f.ResumeToken(); token != nil {
		opts.SetResumeAfter(token)
	}
	stream, err := f.db.Watch(ctx, Pipeline(filter), opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, errors.Internal, "mongodb: failed to open change stream on %s", f.db.Name())
	}
	defer stream.Close(context.Background())
	f.logger.Info(ctx, "watching change stream", map[string]any{
		"database": f.db.Name(),
		"watch":    filter.Watch,
		"ignore":   filter.Ignore,
	})
	for stream.Next(ctx) {
		var doc changeDoc
		if err := stream.Decode(&doc); err != nil {
			return errors.Wrap(err, errors.Internal, "mongodb: failed to decode change event")
		}
		event, err := doc.toChangeEvent()
		if err != nil {
			f.logger.Warn(ctx, "skipping undecodable change event", map[string]any{
				"operationType": doc.OperationType,
				"error":         err.Error(),
			})
			f.setResumeToken(stream.ResumeToken())
			continue
		}
		if err := fn(ctx, event); err != nil {
			return err
		}
		f.setResumeToken(stream.ResumeToken())
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, errors.Internal, "mongodb: change stream failure")
	}
	return nil
}

// Store is a realtime.Store that reads collection snapshots from the database
type Store struct {
	db *mongo.Database
}

// NewStore creates a store over the database
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Snapshot returns every document in the collection in reverse natural order, most recently inserted first
func (s *Store) Snapshot(ctx context.Context, collection string) ([]*realtime.Document, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "$natural", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "mongodb: failed to query %s", collection)
	}
	defer cursor.Close(ctx)
	var docs []*realtime.Document
	for cursor.Next(ctx) {
		doc, err := toDocument(cursor.Current)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "mongodb: failed to read %s", collection)
	}
	return docs, nil
}

// Collections returns the names of the database's collections in sorted order, excluding system collections
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "mongodb: failed to list collections")
	}
	return userCollections(names), nil
}

func userCollections(names []string) []string {
	filtered := lo.Filter(names, func(name string, _ int) bool {
		return !strings.HasPrefix(name, "system.")
	})
	sort.Strings(filtered)
	return filtered
}
