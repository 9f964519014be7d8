package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/autom8ter/realtime/errors"
	"github.com/segmentio/ksuid"
)

// Rejection reasons carried by errors.Unauthorized gate errors
const (
	ReasonNoTokenProvided = "NO_TOKEN_PROVIDED"
	ReasonUnauthorized    = "UNAUTHORIZED"
	ReasonAuthError       = "AUTH_ERROR"
)

// Handshake is the connection context a gate decision is made on
type Handshake struct {
	ConnectionID string
	RemoteAddr   string
	Header       http.Header
	Query        url.Values
	Metadata     *Metadata
}

// NewHandshake captures the handshake of an incoming http request and assigns it a connection id
func NewHandshake(r *http.Request) *Handshake {
	id := ksuid.New().String()
	return &Handshake{
		ConnectionID: id,
		RemoteAddr:   r.RemoteAddr,
		Header:       r.Header.Clone(),
		Query:        r.URL.Query(),
		Metadata: NewMetadata(map[string]any{
			MetadataKeyConnectionID: id,
			MetadataKeyRemoteAddr:   r.RemoteAddr,
		}),
	}
}

// Context returns a child context carrying the handshake's metadata
func (h *Handshake) Context(ctx context.Context) context.Context {
	if h.Metadata == nil {
		h.Metadata = NewMetadata(map[string]any{})
	}
	return h.Metadata.ToContext(ctx)
}

// Authenticator verifies a credential token. true admits the connection, false rejects it. An error rejects
// the connection as a verifier failure.
type Authenticator func(ctx context.Context, token string, handshake *Handshake) (bool, error)

// Middleware runs after authentication. Returning an error rejects the connection.
type Middleware func(ctx context.Context, handshake *Handshake) error

// TokenExtractor extracts a credential token from a handshake. An empty string means no token.
type TokenExtractor func(handshake *Handshake) string

// DefaultTokenExtractor reads the token from the auth query parameter, the token query parameter or a bearer
// Authorization header, in that order
func DefaultTokenExtractor(handshake *Handshake) string {
	if handshake == nil {
		return ""
	}
	for _, key := range []string{"auth", "token"} {
		if token := handshake.Query.Get(key); token != "" {
			return token
		}
	}
	header := handshake.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Gate admits or rejects incoming connections
type Gate struct {
	authenticator Authenticator
	extractor     TokenExtractor
	middlewares   []Middleware
}

// NewGate creates a gate. A nil authenticator admits every connection before the middlewares run; a nil
// extractor uses DefaultTokenExtractor.
func NewGate(authenticator Authenticator, extractor TokenExtractor, middlewares ...Middleware) *Gate {
	if extractor == nil {
		extractor = DefaultTokenExtractor
	}
	return &Gate{
		authenticator: authenticator,
		extractor:     extractor,
		middlewares:   middlewares,
	}
}

// Admit returns nil if the connection may be established
func (g *Gate) Admit(ctx context.Context, handshake *Handshake) error {
	if err := g.authenticate(ctx, handshake); err != nil {
		return err
	}
	for _, m := range g.middlewares {
		if m == nil {
			continue
		}
		if err := runMiddleware(ctx, m, handshake); err != nil {
			if errors.Extract(err).Code == 0 {
				return errors.Wrap(err, errors.Forbidden, "gate: connection rejected by middleware")
			}
			return err
		}
	}
	return nil
}

func (g *Gate) authenticate(ctx context.Context, handshake *Handshake) error {
	if g.authenticator == nil {
		return nil
	}
	token := g.extractor(handshake)
	if token == "" {
		return errors.NewReason(errors.Unauthorized, ReasonNoTokenProvided, "gate: no token provided")
	}
	ok, err := verify(ctx, g.authenticator, token, handshake)
	if err != nil {
		e := errors.Wrap(err, errors.Unauthorized, "gate: token verification failed").(*errors.Error)
		e.Reason = ReasonAuthError
		return e
	}
	if !ok {
		return errors.NewReason(errors.Unauthorized, ReasonUnauthorized, "gate: unauthorized")
	}
	return nil
}

func verify(ctx context.Context, authenticator Authenticator, token string, handshake *Handshake) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("authenticator panic: %v", r)
		}
	}()
	return authenticator(ctx, token, handshake)
}

func runMiddleware(ctx context.Context, m Middleware, handshake *Handshake) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware panic: %v", r)
		}
	}()
	return m(ctx, handshake)
}
