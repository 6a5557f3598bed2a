package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Event) error { return f.err }

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("sink down")
	f := Fanout{failingNotifier{err: boom}, rec}

	err := f.Notify(context.Background(), Event{Type: "SubscriptionCreated"})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.Events(), 1)
}

func TestRecorder_OfType(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	require.NoError(t, rec.Notify(ctx, Event{Type: "A"}))
	require.NoError(t, rec.Notify(ctx, Event{Type: "B"}))
	require.NoError(t, rec.Notify(ctx, Event{Type: "A"}))

	assert.Len(t, rec.OfType("A"), 2)
	assert.Empty(t, rec.OfType("C"))
}

func TestRedisPublisher_Publishes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	id := uuid.New()
	pub := NewRedisPublisher(client, "")
	require.NoError(t, pub.Notify(ctx, Event{
		Type:          "SubscriptionRenewed",
		AggregateID:   id,
		AggregateType: "subscription",
		Version:       2,
		OccurredAt:    time.Unix(86_400, 0).UTC(),
		Data:          map[string]interface{}{"expires_at": 5_184_000},
	}))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "SubscriptionRenewed", got.Type)
		assert.Equal(t, id, got.AggregateID)
		assert.Equal(t, 2, got.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisPublisher_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err = NewRedisPublisher(client, "chan").Notify(context.Background(), Event{Type: "X"})
	assert.Error(t, err)
}
