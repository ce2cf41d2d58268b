package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEventJSON(t *testing.T) {
	event := Event{
		Type:       TypeAggregated,
		TxID:       "aggregation_0123456789abcdef",
		Pair:       "BTC/USD",
		Epoch:      42,
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"price.aggregated","txId":"aggregation_0123456789abcdef","pair":"BTC/USD","epoch":42,"occurredAt":"2024-03-01T12:00:00Z"}`, string(payload))
}

func TestChannelPrefix(t *testing.T) {
	p := newRedisPublisher(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "", zerolog.Nop())
	t.Cleanup(func() { _ = p.Close() })
	require.Equal(t, "keenoracle:dispute.submitted", p.Channel(TypeDisputed))
}

func TestPublishFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := newRedisPublisher(client, "test", zerolog.New(&buf))
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Publish(ctx, Event{Type: TypeSubmitted})

	require.Contains(t, buf.String(), "failed to publish redis message")
	require.Contains(t, buf.String(), "test:price.submitted")
}

func TestNewRedisPublisherUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisPublisher(ctx, RedisOptions{Addr: "127.0.0.1:1"}, zerolog.Nop())
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	p.Publish(context.Background(), Event{Type: TypeRegistered})
	require.NoError(t, p.Close())
}
