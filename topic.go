package realtime

import (
	"fmt"
	"strings"
)

// TopicKind is the category of a topic derived from a change event
type TopicKind string

const (
	// TopicAll matches every change
	TopicAll TopicKind = "all"
	// TopicByType matches changes of one operation type
	TopicByType TopicKind = "by-type"
	// TopicByCollection matches changes to one collection
	TopicByCollection TopicKind = "by-collection"
	// TopicByTypeCollection matches changes of one operation type to one collection
	TopicByTypeCollection TopicKind = "by-type-collection"
	// TopicByCollectionDoc matches changes to one document
	TopicByCollectionDoc TopicKind = "by-collection-doc"
	// TopicByTypeCollectionDoc matches changes of one operation type to one document
	TopicByTypeCollectionDoc TopicKind = "by-type-collection-doc"
)

const (
	channelPrefix = "db"
	changeChannel = "change"
	streamChannel = "stream"
	// ReplayEvent is the event name a client sends to request a stream snapshot
	ReplayEvent = "db:stream[register]"
)

// Topic is a delivery channel derived deterministically from a change event
type Topic struct {
	Kind       TopicKind
	Type       OperationType
	Collection string
	DocumentID string
}

// Name returns the topic's classifier name, ex: change:by-type-collection:insert:users
func (t Topic) Name() string {
	switch t.Kind {
	case TopicByType:
		return fmt.Sprintf("change:%s:%s", t.Kind, t.Type)
	case TopicByCollection:
		return fmt.Sprintf("change:%s:%s", t.Kind, t.Collection)
	case TopicByTypeCollection:
		return fmt.Sprintf("change:%s:%s:%s", t.Kind, t.Type, t.Collection)
	case TopicByCollectionDoc:
		return fmt.Sprintf("change:%s:%s:%s", t.Kind, t.Collection, t.DocumentID)
	case TopicByTypeCollectionDoc:
		return fmt.Sprintf("change:%s:%s:%s:%s", t.Kind, t.Type, t.Collection, t.DocumentID)
	default:
		return fmt.Sprintf("change:%s", TopicAll)
	}
}

// Channel returns the outbound channel clients and listeners subscribe to, ex: db:insert:users
func (t Topic) Channel() string {
	c := strings.ToLower(t.Collection)
	switch t.Kind {
	case TopicByType:
		return join(channelPrefix, string(t.Type))
	case TopicByCollection:
		return join(channelPrefix, changeChannel, c)
	case TopicByTypeCollection:
		return join(channelPrefix, string(t.Type), c)
	case TopicByCollectionDoc:
		return join(channelPrefix, changeChannel, c, t.DocumentID)
	case TopicByTypeCollectionDoc:
		return join(channelPrefix, string(t.Type), c, t.DocumentID)
	default:
		return join(channelPrefix, changeChannel)
	}
}

func (t Topic) String() string {
	return t.Name()
}

// Classify returns the topics a change event is delivered on. The four collection level topics are always
// present; the two document level topics are added only when the event carries a document id.
func Classify(event ChangeEvent) []Topic {
	var (
		typ        = event.OperationType
		collection = event.Collection()
	)
	topics := []Topic{
		{Kind: TopicAll},
		{Kind: TopicByType, Type: typ},
		{Kind: TopicByCollection, Collection: collection},
		{Kind: TopicByTypeCollection, Type: typ, Collection: collection},
	}
	if id, ok := event.DocumentID(); ok {
		topics = append(topics,
			Topic{Kind: TopicByCollectionDoc, Collection: collection, DocumentID: id},
			Topic{Kind: TopicByTypeCollectionDoc, Type: typ, Collection: collection, DocumentID: id},
		)
	}
	return topics
}

// Channels returns the outbound channels of the topics in order
func Channels(topics []Topic) []string {
	channels := make([]string, 0, len(topics))
	for _, t := range topics {
		channels = append(channels, t.Channel())
	}
	return channels
}

// StreamChannel returns the channel a list-stream's filtered view is published on
func StreamChannel(streamID string) string {
	return join(channelPrefix, streamChannel, streamID)
}

// ReplayChannel returns the correlation scoped channel a stream snapshot reply is sent on
func ReplayChannel(correlationID string) string {
	return fmt.Sprintf("%s[%s]", ReplayEvent, correlationID)
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}
