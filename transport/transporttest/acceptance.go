// Package transporttest is an acceptance suite every transport runs in its
// own tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/casualjim/eva/transport"
	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BrokerFactory returns a fresh broker URI for one test. Everything it needs
// to tear down is registered with t.Cleanup.
type BrokerFactory func(t *testing.T) string

type acceptanceTest struct {
	name string
	test func(t *testing.T, broker string)
}

// Run runs the acceptance suite against the transport registered for the
// scheme of the URIs newBroker returns.
func Run(t *testing.T, newBroker BrokerFactory) {
	tests := []acceptanceTest{
		{"round trips messages", testRoundTrip},
		{"reports an empty topic", testEmpty},
		{"isolates topics", testTopicIsolation},
		{"redelivers after a failed delivery", testRedelivery},
		{"delivers on the calling goroutine", testSynchronousDelivery},
		{"publishes from inside a delivery", testPublishFromDelivery},
		{"honours context cancellation", testCancelled},
		{"rejects use after close", testClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.test(t, newBroker(t))
		})
	}
}

// Dial opens a transport for broker and topic and closes it on cleanup.
func Dial(t *testing.T, broker, topic string) transport.Transport {
	t.Helper()
	tr, err := transport.Open(context.Background(), transport.Endpoint{Broker: broker, Topic: topic})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// ConsumeEventually retries Consume while it reports transport.ErrNoMessage,
// for transports that hand messages over asynchronously.
func ConsumeEventually(t *testing.T, tr transport.Transport, deliver transport.Deliver) error {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := tr.Consume(context.Background(), deliver)
		if !errors.Is(err, transport.ErrNoMessage) || time.Now().After(deadline) {
			return err
		}
	}
}

// subscribe starts the subscription of transports that only see messages
// published after they subscribed.
func subscribe(t *testing.T, tr transport.Transport) {
	t.Helper()
	if s, ok := tr.(interface{ Subscribe() error }); ok {
		require.NoError(t, s.Subscribe())
	}
}

func receive(t *testing.T, tr transport.Transport) transport.Message {
	t.Helper()
	var got transport.Message
	require.NoError(t, ConsumeEventually(t, tr, func(_ context.Context, msg transport.Message) error {
		got = msg
		return nil
	}))
	return got
}

func testRoundTrip(t *testing.T, broker string) {
	ctx := context.Background()
	pub := Dial(t, broker, "orders")
	sub := Dial(t, broker, "orders")
	subscribe(t, sub)

	ts := strfmt.DateTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, pub.Publish(ctx, transport.Message{
		ID:        "msg-1",
		Topic:     "orders",
		Key:       "customer-7",
		Payload:   []byte(`{"id":1,"item":"book"}`),
		Metadata:  map[string]string{"source": "acceptance"},
		Timestamp: ts,
	}))

	got := receive(t, sub)
	assert.Equal(t, "msg-1", got.ID)
	assert.Equal(t, "orders", got.Topic)
	assert.Equal(t, "customer-7", got.Key)
	assert.JSONEq(t, `{"id":1,"item":"book"}`, string(got.Payload))
	assert.Equal(t, "acceptance", got.Metadata["source"])
	assert.True(t, time.Time(ts).Equal(time.Time(got.Timestamp)), "timestamp %s", got.Timestamp)
}

func testEmpty(t *testing.T, broker string) {
	tr := Dial(t, broker, "idle")
	assert.ErrorIs(t, tr.Consume(context.Background(), nil), transport.ErrNoMessage)
}

func testTopicIsolation(t *testing.T, broker string) {
	ctx := context.Background()
	a := Dial(t, broker, "a")
	b := Dial(t, broker, "b")
	subscribe(t, a)
	subscribe(t, b)

	require.NoError(t, a.Publish(ctx, transport.Message{ID: "for-a", Payload: []byte(`{}`)}))
	assert.Equal(t, "for-a", receive(t, a).ID)
	assert.ErrorIs(t, b.Consume(ctx, nil), transport.ErrNoMessage)
}

func testRedelivery(t *testing.T, broker string) {
	ctx := context.Background()
	tr := Dial(t, broker, "jobs")
	subscribe(t, tr)
	require.NoError(t, tr.Publish(ctx, transport.Message{ID: "job-1", Payload: []byte(`{}`)}))

	boom := errors.New("handler failed")
	err := ConsumeEventually(t, tr, func(context.Context, transport.Message) error { return boom })
	require.ErrorIs(t, err, boom, "the delivery error is returned unchanged")

	assert.Equal(t, "job-1", receive(t, tr).ID)
}

func testSynchronousDelivery(t *testing.T, broker string) {
	ctx := context.Background()
	tr := Dial(t, broker, "sync")
	subscribe(t, tr)
	for i := range 3 {
		require.NoError(t, tr.Publish(ctx, transport.Message{ID: fmt.Sprint(i), Payload: []byte(`{}`)}))
	}

	for range 3 {
		calls := 0
		require.NoError(t, ConsumeEventually(t, tr, func(context.Context, transport.Message) error {
			calls++
			return nil
		}))
		assert.Equal(t, 1, calls, "consume delivers at most one message and returns after it")
	}
}

func testPublishFromDelivery(t *testing.T, broker string) {
	ctx := context.Background()
	tr := Dial(t, broker, "requests")
	subscribe(t, tr)
	require.NoError(t, tr.Publish(ctx, transport.Message{ID: "request", Payload: []byte(`{}`)}))

	done := make(chan error, 1)
	go func() {
		done <- ConsumeEventually(t, tr, func(ctx context.Context, msg transport.Message) error {
			return tr.Publish(ctx, transport.Message{ID: "reply-to-" + msg.ID, Payload: []byte(`{}`)})
		})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("publish from inside a delivery did not return")
	}

	assert.Equal(t, "reply-to-request", receive(t, tr).ID)
}

func testCancelled(t *testing.T, broker string) {
	tr := Dial(t, broker, "cancel")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Consume(ctx, nil), context.Canceled)
}

func testClosed(t *testing.T, broker string) {
	tr, err := transport.Open(context.Background(), transport.Endpoint{Broker: broker, Topic: "closed"})
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "close is idempotent")

	assert.ErrorIs(t, tr.Publish(context.Background(), transport.Message{ID: "late"}), transport.ErrClosed)
	assert.ErrorIs(t, tr.Consume(context.Background(), nil), transport.ErrClosed)
}
