package realtime

import (
	"context"
)

// Message is the envelope a topic payload is delivered in
type Message struct {
	Topic   string `json:"topic"`
	Payload any    `json:"data"`
}

// Broadcaster delivers topic payloads to connected clients. Delivery is best effort and fire-and-forget:
// a failure to deliver to one connection must not affect delivery to the others.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, payload any)
}

// BroadcasterFunc adapts a function into a Broadcaster
type BroadcasterFunc func(ctx context.Context, topic string, payload any)

// Publish calls the function
func (f BroadcasterFunc) Publish(ctx context.Context, topic string, payload any) {
	f(ctx, topic, payload)
}

// Broadcasters fans a publish out to every broadcaster in order
type Broadcasters []Broadcaster

// Publish publishes the payload to every broadcaster
func (b Broadcasters) Publish(ctx context.Context, topic string, payload any) {
	for _, broadcaster := range b {
		if broadcaster != nil {
			broadcaster.Publish(ctx, topic, payload)
		}
	}
}
