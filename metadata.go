package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

type ctxKey int

const (
	metadataKey ctxKey = 0
)

var (
	// MetadataKeyConnectionID is the key for the id the transport assigned to a connection
	MetadataKeyConnectionID = "connectionId"
	// MetadataKeyUserID is the key for the authenticated user id (optional)
	MetadataKeyUserID = "userId"
	// MetadataKeyClaims is the key for the decoded credential claims (optional)
	MetadataKeyClaims = "claims"
	// MetadataKeyRemoteAddr is the key for the connection's remote address
	MetadataKeyRemoteAddr = "remoteAddr"
)

// Metadata holds key value pairs describing a connection. It travels in a go Context so per-connection
// state (ex: a user id) is available to authenticators, middlewares, filters and the logger.
type Metadata struct {
	tags sync.Map
}

// NewMetadata creates metadata with the given tags
func NewMetadata(tags map[string]any) *Metadata {
	m := &Metadata{}
	if tags != nil {
		m.SetAll(tags)
	}
	return m
}

// String returns a json string of the metadata
func (m *Metadata) String() string {
	bits, _ := m.MarshalJSON()
	return string(bits)
}

// MarshalJSON returns the metadata values as json bytes
func (m *Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

// UnmarshalJSON decodes the metadata from json bytes
func (m *Metadata) UnmarshalJSON(bytes []byte) error {
	data := map[string]any{}
	if err := json.Unmarshal(bytes, &data); err != nil {
		return err
	}
	m.SetAll(data)
	return nil
}

// SetAll sets the key value fields on the metadata
func (m *Metadata) SetAll(data map[string]any) {
	for k, v := range data {
		m.tags.Store(k, v)
	}
}

// Set sets a key value pair on the metadata
func (m *Metadata) Set(key string, value any) {
	m.tags.Store(key, value)
}

// Del deletes a key from the metadata
func (m *Metadata) Del(key string) {
	m.tags.Delete(key)
}

// Get gets a key from the metadata if it exists
func (m *Metadata) Get(key string) (any, bool) {
	return m.tags.Load(key)
}

// GetString gets a string value from the metadata, returning an empty string if absent
func (m *Metadata) GetString(key string) string {
	v, ok := m.tags.Load(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Exists returns true if the key exists in the metadata
func (m *Metadata) Exists(key string) bool {
	_, ok := m.tags.Load(key)
	return ok
}

// Map returns the metadata key values as a map
func (m *Metadata) Map() map[string]any {
	data := map[string]any{}
	m.tags.Range(func(key, value any) bool {
		data[key.(string)] = value
		return true
	})
	return data
}

// ToContext adds the metadata to the input go context
func (m *Metadata) ToContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, metadataKey, m)
}

// GetMetadata gets metadata from the context if it exists
func GetMetadata(ctx context.Context) (*Metadata, bool) {
	if ctx == nil {
		return &Metadata{}, false
	}
	m, ok := ctx.Value(metadataKey).(*Metadata)
	if ok {
		return m, true
	}
	return &Metadata{}, false
}
