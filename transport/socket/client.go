package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
	"github.com/gorilla/websocket"
)

// Event is a message received from the server
type Event struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Documents decodes the event's data as a list of documents
func (e Event) Documents() (realtime.Documents, error) {
	var docs realtime.Documents
	if err := json.Unmarshal(e.Data, &docs); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "socket: event data is not a document list")
	}
	return docs, nil
}

// Err returns the error carried by the event's data, if any
func (e Event) Err() *errors.Error {
	var body struct {
		Error *errors.Error `json:"error"`
	}
	if err := json.Unmarshal(e.Data, &body); err != nil {
		return nil
	}
	return body.Error
}

// Client is a websocket connection to a Server
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to the server at the url. http(s) urls are converted to ws(s). A rejected handshake returns the
// server's error.
func Dial(ctx context.Context, serverURL string, header http.Header) (*Client, error) {
	if strings.HasPrefix(serverURL, "http") {
		serverURL = strings.Replace(serverURL, "http", "ws", 1)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, serverURL, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			defer resp.Body.Close()
			var e errors.Error
			if decodeErr := json.NewDecoder(resp.Body).Decode(&e); decodeErr == nil && e.Code != 0 {
				return nil, &e
			}
		}
		return nil, errors.Wrap(err, errors.Validation, "socket: failed to connect to %s", serverURL)
	}
	return &Client{conn: conn}, nil
}

// Read blocks until the next event arrives. A context deadline becomes the read deadline; the client is
// unusable after it expires.
func (c *Client) Read(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}
	var event Event
	if err := c.conn.ReadJSON(&event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// ReadTopic reads events until one arrives on the topic
func (c *Client) ReadTopic(ctx context.Context, topic string) (Event, error) {
	for {
		event, err := c.Read(ctx)
		if err != nil {
			return Event{}, err
		}
		if event.Topic == topic {
			return event, nil
		}
	}
}

// Replay asks the server for the current view of the stream. The reply arrives on
// realtime.ReplayChannel(correlationID).
func (c *Client) Replay(ctx context.Context, streamID, correlationID string) error {
	return c.Write(ctx, ReplayRequest{
		Event:         realtime.ReplayEvent,
		Stream:        streamID,
		CorrelationID: correlationID,
	})
}

// Write sends a raw json message to the server
func (c *Client) Write(ctx context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.conn.Close()
}
