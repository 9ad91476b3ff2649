package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	backend "github.com/redis/go-redis/v9"
)

// AdapterMessage is one emit relayed between instances.
type AdapterMessage struct {
	Origin string          `json:"origin"`
	Nsp    string          `json:"nsp"`
	Frame  json.RawMessage `json:"frame"`
}

// Adapter relays emits between server instances.
type Adapter interface {
	Publish(ctx context.Context, msg AdapterMessage) error
	// Subscribe returns once the subscription is live; fn is then called
	// for every relayed message until ctx is cancelled.
	Subscribe(ctx context.Context, fn func(AdapterMessage)) error
	Close() error
}

const defaultRedisChannel = "robotsock:emit"

// RedisAdapter relays emits over a Redis pub/sub channel.
type RedisAdapter struct {
	client  *backend.Client
	channel string
	log     *slog.Logger
}

type RedisOption func(*RedisAdapter)

// WithChannel sets the pub/sub channel name.
func WithChannel(channel string) RedisOption {
	return func(a *RedisAdapter) { a.channel = channel }
}

func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(a *RedisAdapter) { a.log = l }
}

// NewRedisAdapter connects to the Redis server at addr.
func NewRedisAdapter(addr, password string, db int, opts ...RedisOption) *RedisAdapter {
	return NewRedisAdapterFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewRedisAdapterFromClient(client *backend.Client, opts ...RedisOption) *RedisAdapter {
	a := &RedisAdapter{
		client:  client,
		channel: defaultRedisChannel,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *RedisAdapter) Publish(ctx context.Context, msg AdapterMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := a.client.Publish(ctx, a.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

func (a *RedisAdapter) Subscribe(ctx context.Context, fn func(AdapterMessage)) error {
	sub := a.client.Subscribe(ctx, a.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", a.channel, err)
	}

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg AdapterMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					a.log.Warn("invalid relay message", "err", err)
					continue
				}
				fn(msg)
			}
		}
	}()
	return nil
}

func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
