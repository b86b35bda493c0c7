package eva

import (
	"context"
	"errors"
	"testing"

	"github.com/casualjim/eva/transport"
	"github.com/casualjim/eva/transport/memory"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestTopicPublishConsume(t *testing.T) {
	t.Cleanup(func() { memory.Reset("topic") })
	ctx := context.Background()
	a := newTestAgency(t)
	key := K("mem://topic", "orders")

	type seen struct {
		topic *Topic
		msg   transport.Message
		data  any
	}
	var got []seen
	record := func(_ context.Context, topic *Topic, msg transport.Message, data any) error {
		got = append(got, seen{topic, msg, data})
		return nil
	}

	h := a.Subscribe(key, record, nil)
	require.NoError(t, h.Publish(ctx, map[string]any{"id": 42, "item": "book"}))

	require.NoError(t, h.Consume(ctx, record, "explicit"))
	require.Len(t, got, 1)
	assert.Same(t, h, got[0].topic)
	assert.Equal(t, "explicit", got[0].data)
	assert.Equal(t, "orders", got[0].msg.Topic)
	assert.NotEmpty(t, got[0].msg.ID)
	assert.Equal(t, int64(42), got[0].msg.Document().Get("id").Int())
	assert.Equal(t, "book", got[0].msg.Document().Get("item").String())

	err := h.Consume(ctx, record, nil)
	assert.ErrorIs(t, err, transport.ErrNoMessage)
	assert.Len(t, got, 1, "the notifier is not called without a message")
}

func TestTopicPoll(t *testing.T) {
	t.Cleanup(func() { memory.Reset("poll") })
	ctx := context.Background()
	a := newTestAgency(t)

	st, res := track("poll-state")
	var data any
	h := a.Subscribe(K("mem://poll", "t"), func(_ context.Context, _ *Topic, _ transport.Message, state any) error {
		data = state
		return nil
	}, res)

	require.NoError(t, h.Publish(ctx, "{}"))
	require.NoError(t, h.Poll(ctx))
	assert.Same(t, st, data)
}

func TestTopicPollKeepsStateAlive(t *testing.T) {
	t.Cleanup(func() { memory.Reset("poll-hold") })
	ctx := context.Background()
	a := newTestAgency(t)
	key := K("mem://poll-hold", "t")

	st, res := track("in-use")
	next, nextRes := track("next")
	var releasedInside int32 = -1
	h := a.Subscribe(key, func(_ context.Context, _ *Topic, _ transport.Message, state any) error {
		a.Subscribe(key, noop, nextRes)
		releasedInside = state.(*tracked).releases.Load()
		return nil
	}, res)

	require.NoError(t, h.Publish(ctx, "{}"))
	require.NoError(t, h.Poll(ctx))
	assert.EqualValues(t, 0, releasedInside, "state is not released while the notifier runs")
	assert.EqualValues(t, 1, st.releases.Load(), "replaced state is released after the notifier")
	assert.EqualValues(t, 0, next.releases.Load())
	assert.Same(t, nextRes, h.State())
}

func TestTopicCallbackErrorPropagates(t *testing.T) {
	t.Cleanup(func() { memory.Reset("cberr") })
	ctx := context.Background()
	a := newTestAgency(t)
	h := a.Subscribe(K("mem://cberr", "t"), noop, nil)
	require.NoError(t, h.Publish(ctx, "{}"))

	boom := errors.New("handler failed")
	err := h.Consume(ctx, func(context.Context, *Topic, transport.Message, any) error { return boom }, nil)
	assert.ErrorIs(t, err, boom)

	// memory puts the message back after a failed delivery
	require.NoError(t, h.Consume(ctx, nil, nil))
	assert.ErrorIs(t, h.Consume(ctx, nil, nil), transport.ErrNoMessage)
}

func TestTopicSharesHubAcrossKeys(t *testing.T) {
	t.Cleanup(func() { memory.Reset("shared") })
	ctx := context.Background()
	a := New(DefaultBroker("mem://shared"))
	t.Cleanup(func() { _ = a.Close() })

	producer := a.Subscribe(Key{Topic: Some("orders")}, nil, nil)
	consumer := a.Subscribe(K("mem://shared", "orders"), nil, nil)
	assert.NotSame(t, producer, consumer, "a null broker is a different key than the default broker")

	require.NoError(t, producer.Publish(ctx, `{"n":1}`))
	var n int64
	require.NoError(t, consumer.Consume(ctx, func(_ context.Context, _ *Topic, msg transport.Message, _ any) error {
		n = msg.Document().Get("n").Int()
		return nil
	}, nil))
	assert.Equal(t, int64(1), n)
}

func TestTopicTransportErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("broker down")
	tr := &mockTransport{}
	tr.On("Publish", mock.Anything, mock.Anything).Return(boom)
	tr.On("Consume", mock.Anything, mock.Anything).Return(boom)
	tr.On("Close").Return(nil)

	a := New(Transport("fake", mockFactory(tr, nil)))
	t.Cleanup(func() { _ = a.Close() })
	h := a.Subscribe(K("fake://x", "t"), noop, nil)

	assert.Same(t, boom, h.Publish(ctx, "x"), "publish errors are returned unchanged")
	assert.Same(t, boom, h.Consume(ctx, noop, nil), "consume errors are returned unchanged")
}

func TestTopicDialFailure(t *testing.T) {
	boom := errors.New("dial failed")
	calls := 0
	a := New(Transport("flaky", func(context.Context, transport.Endpoint) (transport.Transport, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return memory.Dial(context.Background(), transport.Endpoint{Broker: "mem://flaky", Topic: "t"})
	}))
	t.Cleanup(func() { _ = a.Close(); memory.Reset("flaky") })

	h := a.Subscribe(K("flaky://x", "t"), noop, nil)
	assert.ErrorIs(t, h.Publish(context.Background(), "x"), boom)
	require.NoError(t, h.Publish(context.Background(), "x"), "a failed dial is retried on next use")
	assert.Equal(t, 2, calls)
}

func TestTopicAccessors(t *testing.T) {
	a := New(DefaultBroker("mem://acc"), DefaultTopic("fallback"))
	t.Cleanup(func() { _ = a.Close() })

	h := a.Subscribe(Key{Topic: Some("orders")}, noop, nil)
	assert.Equal(t, "mem://acc", h.Broker())
	assert.Equal(t, "orders", h.Name())
	assert.Same(t, a, h.Agency())
	assert.Equal(t, Key{Topic: Some("orders")}, h.Key())

	h = a.Subscribe(Key{Broker: Some("mem://other")}, noop, nil)
	assert.Equal(t, "mem://other", h.Broker())
	assert.Equal(t, "fallback", h.Name())
}

func TestTopicPublishMessage(t *testing.T) {
	var sent transport.Message
	tr := &mockTransport{}
	tr.On("Publish", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(transport.Message)
	}).Return(nil)
	tr.On("Close").Return(nil)

	a := New(Transport("fake", mockFactory(tr, nil)), DefaultTopic("fallback"))
	t.Cleanup(func() { _ = a.Close() })
	h := a.Subscribe(Key{Broker: Some("fake://x")}, noop, nil)

	require.NoError(t, h.PublishMessage(context.Background(), transport.Message{
		ID:       "fixed",
		Key:      "customer-1",
		Payload:  []byte(`{}`),
		Metadata: map[string]string{"k": "v"},
	}))
	assert.Equal(t, "fixed", sent.ID)
	assert.Equal(t, "fallback", sent.Topic)
	assert.Equal(t, "customer-1", sent.Key)
	assert.False(t, sent.Timestamp.IsZero())
}

func TestEncode(t *testing.T) {
	type order struct {
		ID int `json:"id"`
	}
	tests := []struct {
		name  string
		event any
		want  string
	}{
		{"bytes", []byte(`{"a":1}`), `{"a":1}`},
		{"raw message", json.RawMessage(`{"r":1}`), `{"r":1}`},
		{"string", `{"b":2}`, `{"b":2}`},
		{"gjson", gjson.Parse(`{"c":3}`), `{"c":3}`},
		{"struct", order{ID: 7}, `{"id":7}`},
		{"nil", nil, `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encode(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := encode(make(chan int))
	assert.Error(t, err)

	raw, err := encode(json.RawMessage(`not json`))
	require.NoError(t, err)
	assert.Equal(t, "not json", string(raw), "raw messages are not re-encoded")
}
