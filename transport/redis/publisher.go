package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
	"github.com/autom8ter/realtime/util"
	"github.com/go-redis/redis/v9"
)

// Client is the subset of a redis client the publisher needs
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Config configures a redis connection
type Config struct {
	Addr     string `json:"addr" yaml:"addr" validate:"required"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db" validate:"gte=0"`
	// Prefix is prepended to every topic to form the redis channel name
	Prefix string `json:"prefix" yaml:"prefix"`
}

const (
	defaultBuffer  = 256
	publishTimeout = 5 * time.Second
)

// Publisher is a realtime.Broadcaster that mirrors every topic to a redis pub/sub channel of the same name.
// Messages are json encoded realtime.Message envelopes. Publish only queues the message; a background
// goroutine sends it, and messages are dropped while the queue is full.
type Publisher struct {
	client    Client
	prefix    string
	logger    realtime.Logger
	buffer    int
	queue     chan outbound
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type outbound struct {
	topic   string
	channel string
	bits    []byte
}

// Opt is an option for configuring the publisher
type Opt func(p *Publisher)

// WithLogger sets the publisher's logger
func WithLogger(logger realtime.Logger) Opt {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPrefix prefixes every redis channel name
func WithPrefix(prefix string) Opt {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// WithBuffer sets the number of messages queued before messages are dropped
func WithBuffer(buffer int) Opt {
	return func(p *Publisher) {
		if buffer > 0 {
			p.buffer = buffer
		}
	}
}

// New creates a publisher on top of an existing client and starts sending
func New(client Client, opts ...Opt) *Publisher {
	p := &Publisher{
		client: client,
		logger: realtime.NewNopLogger(),
		buffer: defaultBuffer,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan outbound, p.buffer)
	p.wg.Add(1)
	go p.run()
	return p
}

// Dial connects to redis and returns a publisher that owns the connection
func Dial(ctx context.Context, config Config, opts ...Opt) (*Publisher, error) {
	if err := util.ValidateStruct(config); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.Configuration, "redis: failed to connect to %s", config.Addr)
	}
	return New(client, append([]Opt{WithPrefix(config.Prefix)}, opts...)...), nil
}

// Channel returns the redis channel the topic is published on
func (p *Publisher) Channel(topic string) string {
	return p.prefix + topic
}

// Publish queues the payload for the topic's redis channel without blocking. Failures are logged.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) {
	bits, err := json.Marshal(realtime.Message{Topic: topic, Payload: payload})
	if err != nil {
		p.logger.Error(ctx, "failed to encode redis message", err, map[string]any{"topic": topic})
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- outbound{topic: topic, channel: p.Channel(topic), bits: bits}:
	default:
		p.logger.Warn(ctx, "dropped redis message", map[string]any{"topic": topic})
	}
}

// Close sends the queued messages and closes the redis client
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return p.client.Close()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.queue:
			p.send(msg)
		case <-p.done:
			for {
				select {
				case msg := <-p.queue:
					p.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(msg outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, msg.channel, msg.bits).Err(); err != nil {
		p.logger.Warn(ctx, "failed to publish redis message", map[string]any{
			"topic": msg.topic,
			"error": err.Error(),
		})
	}
}
