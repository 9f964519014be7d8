package realtime

import (
	"context"

	"github.com/autom8ter/machine/v4"
)

// ChangeStreamHandler is a function executed on every change event of a change stream
type ChangeStreamHandler func(ctx context.Context, event ChangeEvent) error

// changeStreamChannel returns the machine channel change events of the collection are published on
func changeStreamChannel(collection string) string {
	if collection == "" {
		return Topic{Kind: TopicAll}.Name()
	}
	return Topic{Kind: TopicByCollection, Collection: collection}.Name()
}

func (r *Relay) publishChange(ctx context.Context, event ChangeEvent) {
	r.machine.Publish(ctx, machine.Message{
		Channel: changeStreamChannel(""),
		Body:    event,
	})
	if collection := event.Collection(); collection != "" {
		r.machine.Publish(ctx, machine.Message{
			Channel: changeStreamChannel(collection),
			Body:    event,
		})
	}
}

// ChangeStream streams the change events of the collection to fn until the context is cancelled, the relay
// is closed or fn returns an error. An empty collection streams every change event.
func (r *Relay) ChangeStream(ctx context.Context, collection string, fn ChangeStreamHandler) error {
	ctx, cancel := r.bind(ctx)
	defer cancel()
	return r.machine.Subscribe(ctx, changeStreamChannel(collection), func(ctx context.Context, msg machine.Message) (bool, error) {
		switch event := msg.Body.(type) {
		case ChangeEvent:
			if err := fn(ctx, event); err != nil {
				return false, err
			}
		case *ChangeEvent:
			if err := fn(ctx, *event); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}
