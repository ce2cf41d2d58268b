// Package events pushes engine events to subscribers over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Type names an engine event.
type Type string

const (
	TypeRegistered Type = "oracle.registered"
	TypeSubmitted  Type = "price.submitted"
	TypeAggregated Type = "price.aggregated"
	TypeWithdrawn  Type = "rewards.withdrawn"
	TypeDisputed   Type = "dispute.submitted"
)

// Event is the message body published for every engine mutation.
type Event struct {
	Type       Type      `json:"type"`
	TxID       string    `json:"txId"`
	Pair       string    `json:"pair,omitempty"`
	Epoch      int64     `json:"epoch,omitempty"`
	Oracle     string    `json:"oracle,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data,omitempty"`
}

// Publisher emits events. Implementations are best-effort and never fail the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}

// Close implements Publisher.
func (Nop) Close() error { return nil }

// RedisOptions configure the Redis publisher.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisPublisher publishes JSON events to "<prefix>:<type>" channels.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	p := newRedisPublisher(rdb, opts.ChannelPrefix, logger)
	p.logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to redis")
	return p, nil
}

func newRedisPublisher(client *redis.Client, prefix string, logger zerolog.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "keenoracle"
	}
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Channel returns the channel an event type is published on.
func (p *RedisPublisher) Channel(t Type) string {
	return p.prefix + ":" + string(t)
}

// Publish encodes the event and publishes it. Failures are logged.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to encode event")
		return
	}
	channel := p.Channel(event.Type)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("channel", channel).Msg("failed to publish redis message")
	}
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*RedisPublisher)(nil)
)
