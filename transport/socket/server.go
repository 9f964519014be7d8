package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/internal/safe"
	"github.com/autom8ter/realtime/transport/httpError"
	"github.com/autom8ter/realtime/util"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"
)

// ErrorTopic is the topic a malformed client message is answered on
const ErrorTopic = "db:error"

const (
	defaultPath       = "/"
	defaultSendBuffer = 64
	writeWait         = 10 * time.Second
	shutdownWait      = 5 * time.Second
)

// Config configures the websocket server
type Config struct {
	// Host is the interface to listen on. Empty listens on every interface.
	Host string `json:"host" yaml:"host"`
	// Port is the port to listen on. 0 picks a free port.
	Port int `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	// Path is the route the socket is served on
	Path         string   `json:"path" yaml:"path"`
	AllowOrigins []string `json:"allowOrigins" yaml:"allowOrigins"`
	// SendBuffer is the number of outbound messages queued per connection before messages to that
	// connection are dropped
	SendBuffer int `json:"sendBuffer" yaml:"sendBuffer" validate:"gte=0"`
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

func (c Config) path() string {
	if c.Path == "" {
		return defaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		return "/" + c.Path
	}
	return c.Path
}

func (c Config) sendBuffer() int {
	if c.SendBuffer == 0 {
		return defaultSendBuffer
	}
	return c.SendBuffer
}

// ReplayRequest is sent by a client to receive the current view of a stream
type ReplayRequest struct {
	Event         string `json:"event"`
	Stream        string `json:"stream"`
	CorrelationID string `json:"correlationId"`
}

const replayRequestSchema = `{
  "type": "object",
  "properties": {
    "event": {"type": "string", "enum": ["db:stream[register]"]},
    "stream": {"type": "string", "minLength": 1},
    "correlationId": {"type": "string", "minLength": 1}
  },
  "required": ["event", "stream", "correlationId"]
}`

// Opt is an option for configuring the server
type Opt func(s *Server)

// WithLogger sets the server's logger
func WithLogger(logger realtime.Logger) Opt {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server is a websocket realtime.Transport. Every admitted connection receives every published topic.
type Server struct {
	config    Config
	logger    realtime.Logger
	router    *mux.Router
	upgrader  websocket.Upgrader
	schema    *gojsonschema.Schema
	conns     *safe.Map[*conn]
	mu        sync.RWMutex
	handler   realtime.ConnectionHandler
	addr      string
	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a websocket server
func New(config Config, opts ...Opt) (*Server, error) {
	if err := util.ValidateStruct(config); err != nil {
		return nil, err
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(replayRequestSchema))
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "socket: invalid request schema")
	}
	s := &Server{
		config:   config,
		logger:   realtime.NewNopLogger(),
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		schema:   schema,
		conns:    safe.NewMap[*conn](nil),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	mwares := []mux.MiddlewareFunc{handlers.RecoveryHandler()}
	if len(config.AllowOrigins) > 0 {
		origins := config.AllowOrigins
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		}
		mwares = append([]mux.MiddlewareFunc{handlers.CORS(
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
			handlers.AllowedOrigins(origins),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)}, mwares...)
	}
	s.router.Use(mwares...)
	s.router.HandleFunc(config.path(), s.socketHandler()).Methods(http.MethodGet)
	return s, nil
}

// Handler returns the server's http handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Ready is closed once the server is listening
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server is listening on. It is empty until Ready is closed.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Connections returns the number of open connections
func (s *Server) Connections() int {
	return s.conns.Len()
}

// Serve accepts websocket connections on behalf of the handler until the context is cancelled or the
// server is closed
func (s *Server) Serve(ctx context.Context, handler realtime.ConnectionHandler) error {
	if handler == nil {
		return errors.New(errors.Validation, "socket: empty connection handler")
	}
	s.mu.Lock()
	if s.handler != nil {
		s.mu.Unlock()
		return errors.New(errors.Validation, "socket: already serving")
	}
	s.handler = handler
	s.mu.Unlock()
	lis, err := net.Listen("tcp", s.config.addr())
	if err != nil {
		return errors.Wrap(err, errors.Internal, "socket: failed to listen on %s", s.config.addr())
	}
	s.mu.Lock()
	s.addr = lis.Addr().String()
	s.mu.Unlock()
	s.readyOnce.Do(func() {
		close(s.ready)
	})
	s.logger.Info(ctx, "socket server listening", map[string]any{
		"addr": lis.Addr().String(),
		"path": s.config.path(),
	})
	srv := &http.Server{Handler: s.router}
	egp, ctx := errgroup.WithContext(ctx)
	egp.Go(func() error {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, errors.Internal, "socket: server failure")
		}
		return nil
	})
	egp.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
		s.disconnectAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return egp.Wait()
}

// Publish queues the message on every open connection. A connection whose queue is full misses the message.
func (s *Server) Publish(ctx context.Context, topic string, payload any) {
	msg := realtime.Message{Topic: topic, Payload: payload}
	s.conns.Range(func(id string, c *conn) bool {
		if !c.enqueue(msg) {
			s.logger.Debug(ctx, "dropped message for slow connection", map[string]any{
				"topic":                          topic,
				realtime.MetadataKeyConnectionID: id,
			})
		}
		return true
	})
}

// Close disconnects every client and stops serving
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.disconnectAll()
	return nil
}

func (s *Server) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Server) connectionHandler() realtime.ConnectionHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

func (s *Server) disconnectAll() {
	s.conns.Range(func(_ string, c *conn) bool {
		c.close()
		return true
	})
}

func (s *Server) socketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handler := s.connectionHandler()
		if handler == nil || s.isClosed() {
			httpError.Error(w, errors.New(http.StatusServiceUnavailable, "socket: not serving"))
			return
		}
		handshake := realtime.NewHandshake(r)
		ctx := handshake.Context(r.Context())
		if err := handler.Admit(ctx, handshake); err != nil {
			httpError.Error(w, err)
			return
		}
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug(ctx, "failed to upgrade socket request", map[string]any{"error": err.Error()})
			return
		}
		c := newConn(ws, s.config.sendBuffer())
		s.conns.Set(handshake.ConnectionID, c)
		handler.Connected(ctx, handshake)
		defer func() {
			s.conns.Del(handshake.ConnectionID)
			c.close()
			handler.Disconnected(ctx, handshake)
		}()
		// a connection accepted while closing would never be disconnected
		if s.isClosed() {
			return
		}
		egp := &errgroup.Group{}
		egp.Go(func() error {
			return c.writeLoop()
		})
		egp.Go(func() error {
			defer c.close()
			for {
				_, bits, err := ws.ReadMessage()
				if err != nil {
					return nil
				}
				s.handleMessage(ctx, handler, c, bits)
			}
		})
		if err := egp.Wait(); err != nil {
			s.logger.Debug(ctx, "socket write failure", map[string]any{"error": err.Error()})
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, handler realtime.ConnectionHandler, c *conn, bits []byte) {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(bits))
	if err != nil {
		c.enqueue(errorMessage(ErrorTopic, errors.Wrap(err, errors.Validation, "socket: malformed message")))
		return
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		c.enqueue(errorMessage(ErrorTopic, errors.New(errors.Validation, "socket: invalid message: %s", strings.Join(msgs, ","))))
		return
	}
	var req ReplayRequest
	if err := json.Unmarshal(bits, &req); err != nil {
		c.enqueue(errorMessage(ErrorTopic, errors.Wrap(err, errors.Validation, "socket: malformed message")))
		return
	}
	topic := realtime.ReplayChannel(req.CorrelationID)
	docs, err := handler.Snapshot(ctx, req.Stream)
	if err != nil {
		c.enqueue(errorMessage(topic, err))
		return
	}
	c.enqueue(realtime.Message{Topic: topic, Payload: realtime.Documents(docs)})
}

func errorMessage(topic string, err error) realtime.Message {
	return realtime.Message{
		Topic:   topic,
		Payload: map[string]any{"error": errors.Extract(err).RemoveError()},
	}
}
