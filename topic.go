package eva

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casualjim/eva/pkg/uuidx"
	"github.com/casualjim/eva/transport"
	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Notifier receives a consumed message. It runs synchronously inside
// Consume, on the goroutine that called Consume, at most once per call.
// The error it returns is returned from Consume.
type Notifier func(ctx context.Context, topic *Topic, msg transport.Message, state any) error

// Topic is the handle of one (broker, topic) subscription.
//
// It is created by Agency.Subscribe and stays valid until the key is
// unsubscribed or the agency is closed. Publish and Consume never take the
// agency lock; the handle dials its transport on first use.
type Topic struct {
	key      Key
	endpoint transport.Endpoint
	agency   *Agency
	factory  transport.Factory

	mu        sync.Mutex
	transport transport.Transport
	notify    Notifier
	state     *Resource
	destroyed bool
}

func newTopic(a *Agency, key Key, ep transport.Endpoint, factory transport.Factory) *Topic {
	return &Topic{
		key:      key,
		endpoint: ep,
		agency:   a,
		factory:  factory,
	}
}

// Key returns the key the topic is registered under.
func (t *Topic) Key() Key { return t.key }

// Endpoint returns the broker URI and topic name the handle dials, with the
// agency defaults applied to null key fields.
func (t *Topic) Endpoint() transport.Endpoint { return t.endpoint }

// Broker returns the broker URI the handle dials.
func (t *Topic) Broker() string { return t.endpoint.Broker }

// Name returns the topic name the handle publishes to and consumes from.
func (t *Topic) Name() string { return t.endpoint.Topic }

// Agency returns the agency the topic belongs to.
func (t *Topic) Agency() *Agency { return t.agency }

// State returns the resource currently owned by the subscription.
func (t *Topic) State() *Resource {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Publish encodes event and hands it to the transport. Byte slices, raw JSON
// messages, strings and gjson results are sent as they are; any other value is
// marshalled to JSON. Transport errors are returned unchanged.
func (t *Topic) Publish(ctx context.Context, event any) error {
	payload, err := encode(event)
	if err != nil {
		return fmt.Errorf("eva: encode event for %s: %w", t.key, err)
	}
	return t.PublishMessage(ctx, transport.Message{Payload: payload})
}

// PublishMessage sends msg as given, filling in the id, topic and timestamp
// when they are empty.
func (t *Topic) PublishMessage(ctx context.Context, msg transport.Message) error {
	tr, err := t.bind(ctx)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuidx.NewString()
	}
	if msg.Topic == "" {
		msg.Topic = t.endpoint.Topic
	}
	if time.Time(msg.Timestamp).IsZero() {
		msg.Timestamp = strfmt.DateTime(time.Now().UTC())
	}
	return tr.Publish(ctx, msg)
}

// Consume pulls at most one message from the transport and, when one was
// received, calls fn with it and data before returning. fn may be nil, in
// which case the message is consumed and dropped.
func (t *Topic) Consume(ctx context.Context, fn Notifier, data any) error {
	tr, err := t.bind(ctx)
	if err != nil {
		return err
	}
	return tr.Consume(ctx, func(ctx context.Context, msg transport.Message) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, t, msg, data)
	})
}

// Poll is Consume with the notifier and state registered by Subscribe. The
// state stays alive until Poll returns, even when a concurrent Subscribe or
// Unsubscribe replaces it; its release then runs after the notifier.
func (t *Topic) Poll(ctx context.Context) error {
	t.mu.Lock()
	fn, state := t.notify, t.state
	state.hold()
	t.mu.Unlock()
	defer state.unhold()

	return t.Consume(ctx, fn, state.Value())
}

func (t *Topic) bind(ctx context.Context) (transport.Transport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		return nil, fmt.Errorf("eva: topic %s: %w", t.key, ErrClosed)
	}
	if t.transport != nil {
		return t.transport, nil
	}
	if t.factory == nil {
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownScheme, t.endpoint.Broker)
	}
	tr, err := t.factory(ctx, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("eva: dial %s: %w", t.endpoint, err)
	}
	t.transport = tr
	return tr, nil
}

// swap installs a new notifier and state. A previously owned resource
// wrapping other state is released before swap returns; one wrapping the same
// state hands it over to the new resource.
func (t *Topic) swap(fn Notifier, state *Resource) {
	t.mu.Lock()
	old := t.state
	t.notify, t.state = fn, state
	switch {
	case old == nil, old == state:
		old = nil
	case sameState(old, state):
		old.disown(state)
		old = nil
	}
	t.mu.Unlock()

	old.Release()
}

// destroy closes the transport and releases the owned resource. It is called
// once, after the topic has been removed from its agency.
func (t *Topic) destroy() error {
	t.mu.Lock()
	tr, state := t.transport, t.state
	t.transport, t.state, t.notify = nil, nil, nil
	t.destroyed = true
	t.mu.Unlock()

	var err error
	if tr != nil {
		if cerr := tr.Close(); cerr != nil {
			err = fmt.Errorf("eva: close transport %s: %w", t.endpoint, cerr)
		}
	}
	state.Release()
	return err
}

func encode(event any) ([]byte, error) {
	switch v := event.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	case gjson.Result:
		return []byte(v.Raw), nil
	default:
		return json.Marshal(v)
	}
}
