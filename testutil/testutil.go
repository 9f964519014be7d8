package testutil

import (
	"context"
	"time"

	"github.com/autom8ter/realtime"
	"github.com/brianvoe/gofakeit/v6"
)

const (
	UserCollection = "user"
	TaskCollection = "task"
)

var AllCollections = []string{UserCollection, TaskCollection}

func NewUserDoc() *realtime.Document {
	doc, err := realtime.NewDocumentFrom(map[string]any{
		"_id":  gofakeit.UUID(),
		"name": gofakeit.Name(),
		"contact": map[string]any{
			"email": gofakeit.Email(),
		},
		"account_id":     gofakeit.IntRange(0, 100),
		"language":       gofakeit.Language(),
		"birthday_month": gofakeit.Month(),
		"gender":         gofakeit.Gender(),
		"age":            gofakeit.IntRange(0, 100),
		"timestamp":      gofakeit.DateRange(time.Now().Truncate(7200*time.Hour), time.Now()),
	})
	if err != nil {
		panic(err)
	}
	return doc
}

func NewTaskDoc(usrID string) *realtime.Document {
	doc, err := realtime.NewDocumentFrom(map[string]any{
		"_id":     gofakeit.UUID(),
		"user":    usrID,
		"content": gofakeit.LoremIpsumSentence(5),
	})
	if err != nil {
		panic(err)
	}
	return doc
}

// NewDoc creates a document from the given fields
func NewDoc(fields map[string]any) *realtime.Document {
	doc, err := realtime.NewDocumentFrom(fields)
	if err != nil {
		panic(err)
	}
	return doc
}

// Harness holds the in-memory collaborators of a relay under test
type Harness struct {
	Store     *Store
	Feed      *Feed
	Transport *Transport
}

// NewHarness creates in-memory collaborators
func NewHarness() *Harness {
	return &Harness{
		Store:     NewStore(),
		Feed:      NewFeed(),
		Transport: NewTransport(),
	}
}

// Config returns a relay config wired to the harness. No streams are auto-provisioned.
func (h *Harness) Config() realtime.Config {
	return realtime.Config{
		Feed:           h.Feed,
		Store:          h.Store,
		Transport:      h.Transport,
		AutoListStream: []string{},
	}
}

// TestRelay starts a relay wired to a fresh harness, runs fn and closes the relay
func TestRelay(fn func(ctx context.Context, relay *realtime.Relay, h *Harness), configure ...func(cfg *realtime.Config)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h := NewHarness()
	cfg := h.Config()
	for _, c := range configure {
		c(&cfg)
	}
	relay, err := realtime.New(cfg)
	if err != nil {
		return err
	}
	defer relay.Close()
	if err := relay.Start(ctx); err != nil {
		return err
	}
	fn(ctx, relay, h)
	return nil
}

// Eventually polls fn until it returns true or the timeout elapses
func Eventually(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
