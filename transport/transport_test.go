package transport

import (
	"context"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{ ep Endpoint }

func (nopTransport) Publish(context.Context, Message) error { return nil }
func (nopTransport) Consume(context.Context, Deliver) error { return ErrNoMessage }
func (nopTransport) Close() error                           { return nil }

func TestEndpoint(t *testing.T) {
	t.Run("scheme", func(t *testing.T) {
		assert.Equal(t, "kafka", Endpoint{Broker: "KAFKA://localhost:9092"}.Scheme())
		assert.Equal(t, "mem", Endpoint{Broker: "mem://local"}.Scheme())
		assert.Equal(t, "", Endpoint{Broker: "localhost:9092"}.Scheme())
		assert.Equal(t, "", Endpoint{}.Scheme())
	})

	t.Run("hosts", func(t *testing.T) {
		hosts, err := Endpoint{Broker: "kafka://a:9092,b:9092?group=g"}.Hosts()
		require.NoError(t, err)
		assert.Equal(t, []string{"a:9092", "b:9092"}, hosts)

		_, err = Endpoint{Broker: "mem://"}.Hosts()
		assert.Error(t, err)
	})

	t.Run("string", func(t *testing.T) {
		assert.Equal(t, "mem://local/orders", Endpoint{Broker: "mem://local", Topic: "orders"}.String())
	})
}

func TestHeadersRoundTrip(t *testing.T) {
	ts := strfmt.DateTime(time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC))
	msg := Message{
		ID:        "id-1",
		Topic:     "orders",
		Key:       "customer-7",
		Payload:   []byte(`{"total":12}`),
		Metadata:  map[string]string{"source": "test"},
		Timestamp: ts,
	}

	got := FromHeaders("orders", msg.Payload, msg.Headers())
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Key, got.Key)
	assert.Equal(t, map[string]string{"source": "test"}, got.Metadata)
	assert.True(t, time.Time(ts).Equal(time.Time(got.Timestamp)))
	assert.Equal(t, int64(12), got.Document().Get("total").Int())
}

func TestFromHeadersDefaultsTimestamp(t *testing.T) {
	got := FromHeaders("t", nil, nil)
	assert.False(t, time.Time(got.Timestamp).IsZero())
	assert.Nil(t, got.Metadata)
}

func TestRegistry(t *testing.T) {
	Register("Test-Nop", func(_ context.Context, ep Endpoint) (Transport, error) {
		return nopTransport{ep: ep}, nil
	})
	t.Cleanup(func() { factories.Del("test-nop") })

	assert.Contains(t, Schemes(), "test-nop")

	tr, err := Open(context.Background(), Endpoint{Broker: "test-nop://x", Topic: "t"})
	require.NoError(t, err)
	assert.Equal(t, "t", tr.(nopTransport).ep.Topic)

	_, err = Open(context.Background(), Endpoint{Broker: "nope://x"})
	assert.ErrorIs(t, err, ErrUnknownScheme)

	assert.Panics(t, func() { Register("bad", nil) })
}
