package realtime_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/testutil"
	"github.com/autom8ter/realtime/util"
	"github.com/stretchr/testify/assert"
)

const waitFor = 5 * time.Second

func viewIDs(h *testutil.Harness, streamID string) []string {
	docs, _ := h.Transport.LastDocuments(realtime.StreamChannel(streamID))
	return realtime.Documents(docs).IDs()
}

func TestNew(t *testing.T) {
	h := testutil.NewHarness()
	t.Run("missing collaborators", func(t *testing.T) {
		for name, cfg := range map[string]realtime.Config{
			"feed":      {Store: h.Store, Transport: h.Transport},
			"store":     {Feed: h.Feed, Transport: h.Transport},
			"transport": {Feed: h.Feed, Store: h.Store},
		} {
			_, err := realtime.New(cfg)
			assert.True(t, errors.Is(err, errors.Configuration), name)
		}
	})
	t.Run("invalid declared stream", func(t *testing.T) {
		cfg := h.Config()
		cfg.Streams = []realtime.StreamConfig{{ID: "users"}}
		_, err := realtime.New(cfg)
		assert.True(t, errors.Is(err, errors.Configuration))
		cfg.Streams = []realtime.StreamConfig{{ID: "users", Collection: "user", Filter: "doc.age >"}}
		_, err = realtime.New(cfg)
		assert.True(t, errors.Is(err, errors.Configuration))
	})
	t.Run("duplicate declared streams", func(t *testing.T) {
		cfg := h.Config()
		cfg.Streams = []realtime.StreamConfig{{ID: "users", Collection: "user"}, {ID: "users", Collection: "user"}}
		_, err := realtime.New(cfg)
		assert.True(t, errors.Is(err, errors.Configuration))
		cfg.SafeListStream = util.ToPtr(false)
		_, err = realtime.New(cfg)
		assert.NoError(t, err)
	})
	t.Run("start twice", func(t *testing.T) {
		relay, err := realtime.New(testutil.NewHarness().Config())
		assert.NoError(t, err)
		defer relay.Close()
		assert.NoError(t, relay.Start(context.Background()))
		assert.Error(t, relay.Start(context.Background()))
	})
}

func TestRelay(t *testing.T) {
	t.Run("emailed stream", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			h.Store.Seed("users", testutil.NewDoc(map[string]any{"_id": 1, "email": "a@x.com"}))
			assert.NoError(t, relay.AddStream(ctx, "emailed", "users", realtime.MustScriptFilter(`doc.email.endsWith("@x.com")`)))
			assert.Eventually(t, func() bool {
				return assert.ObjectsAreEqual([]string{"1"}, viewIDs(h, "emailed"))
			}, waitFor, 10*time.Millisecond)

			h.Feed.Emit(h.Store.Insert("users", testutil.NewDoc(map[string]any{"_id": 2, "email": "b@x.com"})))
			assert.Eventually(t, func() bool {
				return assert.ObjectsAreEqual([]string{"2", "1"}, viewIDs(h, "emailed"))
			}, waitFor, 10*time.Millisecond)
			docs, ok := relay.Documents("users")
			assert.True(t, ok)
			assert.Equal(t, []string{"2", "1"}, realtime.Documents(docs).IDs())

			h.Feed.Emit(h.Store.Delete("users", "1"))
			assert.Eventually(t, func() bool {
				return assert.ObjectsAreEqual([]string{"2"}, viewIDs(h, "emailed"))
			}, waitFor, 10*time.Millisecond)
			docs, _ = relay.Documents("users")
			assert.Equal(t, []string{"2"}, realtime.Documents(docs).IDs())
		}))
	})
	t.Run("change topics", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			var (
				mu     sync.Mutex
				events []realtime.ChangeEvent
			)
			relay.Listen("db:insert:user", func(ctx context.Context, topic string, payload any) {
				mu.Lock()
				defer mu.Unlock()
				events = append(events, payload.(realtime.ChangeEvent))
			})
			usr := testutil.NewUserDoc()
			h.Feed.Emit(h.Store.Insert(testutil.UserCollection, usr))
			assert.Eventually(t, func() bool {
				return len(h.Transport.Messages("db:insert:user:"+usr.ID())) == 1
			}, waitFor, 10*time.Millisecond)
			for _, topic := range []string{"db:change", "db:insert", "db:change:user", "db:insert:user", "db:change:user:" + usr.ID()} {
				assert.Len(t, h.Transport.Messages(topic), 1, topic)
			}
			mu.Lock()
			defer mu.Unlock()
			assert.Len(t, events, 1)
			assert.Equal(t, usr.ID(), events[0].FullDocument.ID())
		}))
	})
	t.Run("watch and ignore", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			for _, c := range []string{"a", "b", "c"} {
				assert.NoError(t, relay.Handle(ctx, realtime.ChangeEvent{
					OperationType: realtime.Insert,
					Namespace:     realtime.Namespace{Collection: c},
					DocumentKey:   &realtime.DocumentKey{ID: "1"},
					FullDocument:  testutil.NewDoc(map[string]any{"_id": 1}),
				}))
			}
			assert.Len(t, h.Transport.Messages("db:change"), 1)
			assert.Len(t, h.Transport.Messages("db:change:a"), 1)
			assert.Empty(t, h.Transport.Messages("db:change:b"))
			assert.Empty(t, h.Transport.Messages("db:change:c"))
			assert.Equal(t, realtime.NamespaceFilter{Watch: []string{"a", "b"}, Ignore: []string{"b"}}, h.Feed.Filter())
		}, func(cfg *realtime.Config) {
			cfg.Watch = []string{"a", "b"}
			cfg.Ignore = []string{"b"}
		}))
	})
	t.Run("failing filter", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			h.Store.Seed("users",
				testutil.NewDoc(map[string]any{"_id": 1}),
				testutil.NewDoc(map[string]any{"_id": 2}),
				testutil.NewDoc(map[string]any{"_id": 3}),
			)
			assert.NoError(t, relay.AddStream(ctx, "flaky", "users", realtime.FilterFunc(func(ctx context.Context, doc *realtime.Document) (bool, error) {
				if doc.ID() == "2" {
					panic("boom")
				}
				return true, nil
			})))
			assert.Eventually(t, func() bool {
				return assert.ObjectsAreEqual([]string{"3", "1"}, viewIDs(h, "flaky"))
			}, waitFor, 10*time.Millisecond)
		}))
	})
	t.Run("snapshot", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			h.Store.Seed("users",
				testutil.NewDoc(map[string]any{"_id": 1, "age": 10}),
				testutil.NewDoc(map[string]any{"_id": 2, "age": 30}),
			)
			_, err := relay.Snapshot(ctx, "adults")
			assert.True(t, errors.Is(err, errors.NotFound))
			assert.NoError(t, relay.AddStream(ctx, "adults", "users", realtime.MustScriptFilter(`doc.age >= 18`)))
			docs, err := relay.Snapshot(ctx, "adults")
			assert.NoError(t, err)
			assert.Equal(t, []string{"2"}, realtime.Documents(docs).IDs())
		}))
	})
	t.Run("remove stream", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			assert.NoError(t, relay.AddStream(ctx, "users", "users", nil))
			relay.RemoveStream("users")
			relay.RemoveStream("users")
			assert.Empty(t, relay.StreamIDs())
			_, err := relay.Snapshot(ctx, "users")
			assert.True(t, errors.Is(err, errors.NotFound))
		}))
	})
	t.Run("stream ensure failure", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			h.Store.SetError(fmt.Errorf("unavailable"))
			assert.Error(t, relay.AddStream(ctx, "users", "users", nil))
			assert.Empty(t, relay.StreamIDs())
		}))
	})
	t.Run("drop collection", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			h.Store.Seed("users", testutil.NewDoc(map[string]any{"_id": 1}))
			assert.NoError(t, relay.AddStream(ctx, "users", "users", nil))
			assert.Eventually(t, func() bool {
				return len(viewIDs(h, "users")) == 1
			}, waitFor, 10*time.Millisecond)
			h.Feed.Emit(h.Store.Drop("users"))
			assert.Eventually(t, func() bool {
				docs, ok := h.Transport.LastDocuments(realtime.StreamChannel("users"))
				return ok && len(docs) == 0
			}, waitFor, 10*time.Millisecond)
			assert.Len(t, h.Transport.Messages("db:drop:users"), 1)
		}))
	})
	t.Run("rename", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			h.Store.Seed("people", testutil.NewDoc(map[string]any{"_id": 1}))
			h.Store.Create("users")
			assert.NoError(t, relay.AddStream(ctx, "people", "people", nil))
			assert.NoError(t, relay.AddStream(ctx, "users", "users", nil))
			assert.Eventually(t, func() bool {
				_, ok := h.Transport.LastDocuments(realtime.StreamChannel("users"))
				return ok && len(viewIDs(h, "people")) == 1
			}, waitFor, 10*time.Millisecond)
			h.Feed.Emit(h.Store.Rename("people", "users"))
			assert.Eventually(t, func() bool {
				return assert.ObjectsAreEqual([]string{"1"}, viewIDs(h, "users"))
			}, waitFor, 10*time.Millisecond)
			assert.Eventually(t, func() bool {
				docs, ok := h.Transport.LastDocuments(realtime.StreamChannel("people"))
				return ok && len(docs) == 0
			}, waitFor, 10*time.Millisecond)
			docs, ok := relay.Documents("users")
			assert.True(t, ok)
			assert.Equal(t, []string{"1"}, realtime.Documents(docs).IDs())
			assert.Len(t, h.Transport.Messages("db:rename:people"), 1)
		}))
	})
	t.Run("drop database", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			h.Store.Seed("users", testutil.NewDoc(map[string]any{"_id": 1}))
			h.Store.Seed("tasks", testutil.NewDoc(map[string]any{"_id": 2}))
			assert.NoError(t, relay.AddStream(ctx, "users", "users", nil))
			assert.NoError(t, relay.AddStream(ctx, "tasks", "tasks", nil))
			relay.RemoveStream("tasks")
			assert.Eventually(t, func() bool {
				return len(viewIDs(h, "users")) == 1
			}, waitFor, 10*time.Millisecond)
			_, ok := relay.Documents("tasks")
			assert.True(t, ok)

			h.Feed.Emit(h.Store.DropDatabase())
			assert.Eventually(t, func() bool {
				_, cached := relay.Documents("tasks")
				return !cached
			}, waitFor, 10*time.Millisecond)
			assert.Eventually(t, func() bool {
				docs, ok := relay.Documents("users")
				return ok && len(docs) == 0
			}, waitFor, 10*time.Millisecond)
			assert.Eventually(t, func() bool {
				docs, ok := h.Transport.LastDocuments(realtime.StreamChannel("users"))
				return ok && len(docs) == 0
			}, waitFor, 10*time.Millisecond)
		}))
	})
	t.Run("declared streams", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			assert.Equal(t, []string{"adults"}, relay.StreamIDs())
		}, func(cfg *realtime.Config) {
			cfg.Streams = []realtime.StreamConfig{{ID: "adults", Collection: "users", Filter: "doc.age >= 18"}}
		}))
	})
	t.Run("in-process change stream", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			var (
				mu       sync.Mutex
				received []string
			)
			go func() {
				_ = relay.ChangeStream(ctx, testutil.UserCollection, func(ctx context.Context, event realtime.ChangeEvent) error {
					mu.Lock()
					defer mu.Unlock()
					received = append(received, event.DocumentKey.ID)
					return nil
				})
			}()
			time.Sleep(500 * time.Millisecond)
			var expected []string
			for i := 0; i < 3; i++ {
				usr := testutil.NewUserDoc()
				expected = append(expected, usr.ID())
				assert.NoError(t, relay.Handle(ctx, h.Store.Insert(testutil.UserCollection, usr)))
				assert.NoError(t, relay.Handle(ctx, h.Store.Insert(testutil.TaskCollection, testutil.NewTaskDoc(usr.ID()))))
			}
			assert.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return assert.ObjectsAreEqual(expected, received)
			}, waitFor, 10*time.Millisecond)
		}))
	})
}

func TestAutoListStream(t *testing.T) {
	seed := func(cfg *realtime.Config) {
		store := cfg.Store.(*testutil.Store)
		store.Seed(testutil.UserCollection, testutil.NewUserDoc())
		store.Seed(testutil.TaskCollection, testutil.NewTaskDoc("1"))
		store.Create("audit")
	}
	t.Run("unset provisions every collection", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			assert.Equal(t, []string{"audit", "task", "user"}, relay.StreamIDs())
			docs, err := relay.Snapshot(ctx, testutil.UserCollection)
			assert.NoError(t, err)
			assert.Len(t, docs, 1)
		}, seed, func(cfg *realtime.Config) {
			cfg.AutoListStream = nil
		}))
	})
	t.Run("unset respects the namespace filter", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			assert.Equal(t, []string{"task", "user"}, relay.StreamIDs())
		}, seed, func(cfg *realtime.Config) {
			cfg.AutoListStream = nil
			cfg.Ignore = []string{"audit"}
		}))
	})
	t.Run("empty provisions none", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			assert.Empty(t, relay.StreamIDs())
		}, seed, func(cfg *realtime.Config) {
			cfg.AutoListStream = []string{}
		}))
	})
	t.Run("listed collections", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			assert.Equal(t, []string{"user"}, relay.StreamIDs())
		}, seed, func(cfg *realtime.Config) {
			cfg.AutoListStream = []string{testutil.UserCollection, testutil.UserCollection}
		}))
	})
	t.Run("safe mode applies to auto streams", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			err := relay.AddStream(ctx, testutil.UserCollection, testutil.UserCollection, realtime.MustScriptFilter("doc.age > 50"))
			assert.True(t, errors.Is(err, errors.Conflict))
			relay.RemoveStream(testutil.UserCollection)
			assert.NoError(t, relay.AddStream(ctx, testutil.UserCollection, testutil.UserCollection, realtime.MustScriptFilter("doc.age > 50")))
		}, seed, func(cfg *realtime.Config) {
			cfg.AutoListStream = []string{testutil.UserCollection}
		}))
	})
	t.Run("unsafe mode replaces auto streams", func(t *testing.T) {
		assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
			assert.NoError(t, relay.AddStream(ctx, testutil.UserCollection, testutil.UserCollection, realtime.MustScriptFilter("false")))
			docs, err := relay.Snapshot(ctx, testutil.UserCollection)
			assert.NoError(t, err)
			assert.Empty(t, docs)
		}, seed, func(cfg *realtime.Config) {
			cfg.AutoListStream = []string{testutil.UserCollection}
			cfg.SafeListStream = util.ToPtr(false)
		}))
	})
	t.Run("declared stream colliding with an auto stream", func(t *testing.T) {
		h := testutil.NewHarness()
		cfg := h.Config()
		seed(&cfg)
		cfg.AutoListStream = nil
		cfg.Streams = []realtime.StreamConfig{{ID: testutil.UserCollection, Collection: testutil.UserCollection}}
		relay, err := realtime.New(cfg)
		assert.NoError(t, err)
		defer relay.Close()
		err = relay.Start(context.Background())
		assert.True(t, errors.Is(err, errors.Conflict))
	})
}

func TestConnections(t *testing.T) {
	handshake := func(target string) *realtime.Handshake {
		return realtime.NewHandshake(httptest.NewRequest(http.MethodGet, target, nil))
	}
	var (
		mu           sync.Mutex
		connected    []string
		disconnected []string
	)
	assert.Nil(t, testutil.TestRelay(func(ctx context.Context, relay *realtime.Relay, h *testutil.Harness) {
		<-h.Transport.Serving()
		hs := handshake("/?auth=secret")
		assert.NoError(t, h.Transport.Connect(ctx, hs))
		h.Transport.Disconnect(ctx, hs)

		err := h.Transport.Connect(ctx, handshake("/?auth=wrong"))
		assert.Equal(t, realtime.ReasonUnauthorized, errors.Extract(err).Reason)
		err = h.Transport.Connect(ctx, handshake("/"))
		assert.Equal(t, realtime.ReasonNoTokenProvided, errors.Extract(err).Reason)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{hs.ConnectionID}, connected)
		assert.Equal(t, []string{hs.ConnectionID}, disconnected)
		assert.Equal(t, "secret", hs.Metadata.GetString(realtime.MetadataKeyUserID))
	}, func(cfg *realtime.Config) {
		cfg.Authenticator = func(ctx context.Context, token string, hs *realtime.Handshake) (bool, error) {
			return token == "secret", nil
		}
		cfg.Middlewares = []realtime.Middleware{
			func(ctx context.Context, hs *realtime.Handshake) error {
				hs.Metadata.Set(realtime.MetadataKeyUserID, hs.Query.Get("auth"))
				return nil
			},
		}
		cfg.OnConnect = func(ctx context.Context, hs *realtime.Handshake) {
			mu.Lock()
			defer mu.Unlock()
			connected = append(connected, hs.ConnectionID)
		}
		cfg.OnDisconnect = func(ctx context.Context, hs *realtime.Handshake) {
			mu.Lock()
			defer mu.Unlock()
			disconnected = append(disconnected, hs.ConnectionID)
		}
	}))
}

func TestClose(t *testing.T) {
	h := testutil.NewHarness()
	relay, err := realtime.New(h.Config(), realtime.WithLogger(realtime.NewNopLogger()))
	assert.NoError(t, err)
	assert.NoError(t, relay.Start(context.Background()))
	<-h.Feed.Watching()
	assert.NoError(t, relay.Close())
	assert.True(t, h.Transport.Closed())
	select {
	case <-relay.Done():
	default:
		t.Fatal("relay not done after close")
	}
	assert.Error(t, relay.Handle(context.Background(), h.Store.Insert("users", testutil.NewUserDoc())))
	assert.Error(t, relay.Start(context.Background()))
	assert.NoError(t, relay.Close())
}

func TestBroadcasters(t *testing.T) {
	var (
		mu     sync.Mutex
		topics []string
	)
	mirror := realtime.BroadcasterFunc(func(ctx context.Context, topic string, payload any) {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, topic)
	})
	h := testutil.NewHarness()
	relay, err := realtime.New(h.Config(), realtime.WithBroadcasters(mirror, nil))
	assert.NoError(t, err)
	defer relay.Close()
	assert.NoError(t, relay.Start(context.Background()))
	assert.NoError(t, relay.Handle(context.Background(), realtime.ChangeEvent{
		OperationType: realtime.Invalidate,
		Namespace:     realtime.Namespace{Collection: "users"},
	}))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, h.Transport.Topics(), topics)
	assert.Equal(t, []string{"db:change", "db:invalidate", "db:change:users", "db:invalidate:users"}, topics)
}
