package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fooddash/internal/errs"
	"fooddash/internal/types"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func created(id string) OrderCreated {
	return OrderCreated{OrderID: types.ID(id), UserID: "u1", TotalAmount: types.NewMoney(2900, "NGN")}
}

func TestPublishDeliversToTypedListeners(t *testing.T) {
	bus := newTestBus()
	var got []types.ID
	var mu sync.Mutex

	On(bus, "collect", Fatal, func(_ context.Context, e OrderCreated) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.OrderID)
		return nil
	})
	On(bus, "other", Fatal, func(_ context.Context, e PaymentCompleted) error {
		t.Errorf("payment listener must not receive order events")
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), created("o1")))
	assert.Equal(t, []types.ID{"o1"}, got)
}

func TestPublishBestEffortFailureIsSwallowed(t *testing.T) {
	bus := newTestBus()
	var fatalRan atomic.Bool

	On(bus, "notify", BestEffort, func(context.Context, OrderCreated) error {
		return errors.New("smtp down")
	})
	On(bus, "payment", Fatal, func(context.Context, OrderCreated) error {
		fatalRan.Store(true)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), created("o1")))
	assert.True(t, fatalRan.Load())
}

func TestPublishFatalFailureReturnsSagaStepError(t *testing.T) {
	bus := newTestBus()
	var notified atomic.Bool

	On(bus, "payment.initialize", Fatal, func(context.Context, OrderCreated) error {
		return errs.Gateway("payment.initialize", errors.New("timeout"))
	})
	On(bus, "notify", BestEffort, func(context.Context, OrderCreated) error {
		notified.Store(true)
		return nil
	})

	err := bus.Publish(context.Background(), created("o1"))
	require.Error(t, err)
	assert.Equal(t, errs.KindSagaStep, errs.KindOf(err))
	assert.Contains(t, err.Error(), "order.created/payment.initialize")
	assert.True(t, notified.Load(), "sibling listeners still run")
}

func TestPublishRecoversPanics(t *testing.T) {
	bus := newTestBus()
	On(bus, "boom", Fatal, func(context.Context, OrderCreated) error {
		panic("nil map")
	})

	err := bus.Publish(context.Background(), created("o1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: nil map")
}

func TestPublishRunsSiblingsConcurrently(t *testing.T) {
	bus := newTestBus()
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	for _, name := range []string{"a", "b"} {
		On(bus, name, Fatal, func(context.Context, OrderCreated) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- bus.Publish(context.Background(), created("o1")) }()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("listeners did not start concurrently")
		}
	}
	close(release)
	require.NoError(t, <-done)
}

func TestPublishDetachesCancellation(t *testing.T) {
	bus := newTestBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr error
	On(bus, "check", Fatal, func(ctx context.Context, _ OrderCreated) error {
		sawErr = ctx.Err()
		return nil
	})

	require.NoError(t, bus.Publish(ctx, created("o1")))
	assert.NoError(t, sawErr)
}

func TestSubscribeAllReceivesEveryEvent(t *testing.T) {
	bus := newTestBus()
	var names []Name
	var mu sync.Mutex
	bus.SubscribeAll(Listener{Name: "tap", Policy: BestEffort, Handle: func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, e.EventName())
		return nil
	}})

	require.NoError(t, bus.Publish(context.Background(), created("o1")))
	require.NoError(t, bus.Publish(context.Background(), DriverAssigned{OrderID: "o1", DriverID: "d1"}))
	assert.Equal(t, []Name{NameOrderCreated, NameDriverAssigned}, names)
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaRelayForwardsJSON(t *testing.T) {
	w := &recordingWriter{}
	relay := &KafkaRelay{writer: w, prefix: "fooddash."}

	require.NoError(t, relay.Forward(context.Background(), created("o42")))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "fooddash.order.created", msg.Topic)
	assert.Equal(t, "o42", string(msg.Key))
	assert.Equal(t, "order.created", NewMessageCarrier(&msg).Get("event-name"))

	var decoded OrderCreated
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, types.ID("o42"), decoded.OrderID)
	assert.Equal(t, int64(2900), decoded.TotalAmount.Amount)
}

func TestKafkaRelayFailureDoesNotFailPublish(t *testing.T) {
	bus := newTestBus()
	relay := &KafkaRelay{writer: &recordingWriter{err: errors.New("broker down")}, prefix: "x."}
	bus.SubscribeAll(relay.Listener())

	assert.NoError(t, bus.Publish(context.Background(), created("o1")))
}

func TestMessageCarrierSetOverwrites(t *testing.T) {
	msg := kafka.Message{}
	c := NewMessageCarrier(&msg)
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
