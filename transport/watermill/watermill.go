// Package watermill adapts watermill publishers and subscribers to the
// transport contract.
//
// The "watermill" scheme serves named in-process GoChannel hubs,
// "watermill://name?poll=100ms", shared by every transport dialed for the same
// name. Other watermill backends are exposed under a scheme of their own with
// Factory.
//
// Watermill delivery is fan-out: every transport that consumed from a topic
// receives its own copy of each message published after it subscribed, and
// persistent hubs replay earlier messages to late subscribers. A message whose
// delivery failed is nacked and redelivered.
package watermill

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/casualjim/eva/internal/registry"
	"github.com/casualjim/eva/pkg/slogx"
	"github.com/casualjim/eva/transport"
)

// Scheme is the broker URI scheme of the in-process hubs.
const Scheme = "watermill"

const DefaultPollTimeout = 100 * time.Millisecond

func init() {
	transport.Register(Scheme, Dial)
}

var hubs = registry.New[*gochannel.GoChannel]()

// Hub returns the GoChannel for name, creating a persistent one on first use.
func Hub(name string) *gochannel.GoChannel {
	h, _ := hubs.GetOrAdd(name, func() *gochannel.GoChannel {
		return gochannel.NewGoChannel(
			gochannel.Config{Persistent: true},
			Logger(slog.Default().With(slogx.LoggerName("watermill"), slog.String("hub", name))),
		)
	})
	return h
}

// Reset closes the hub for name and forgets it.
func Reset(name string) error {
	h, ok := hubs.Get(name)
	if !ok {
		return nil
	}
	hubs.Del(name)
	return h.Close()
}

// Dial binds a transport to the hub named by the broker URI host.
func Dial(ctx context.Context, ep transport.Endpoint) (transport.Transport, error) {
	u, err := ep.URL()
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("watermill: hub name is required")
	}
	h := Hub(u.Host)
	return Factory(h, h)(ctx, ep)
}

// Factory returns a transport factory over an existing publisher and
// subscriber. The transports it creates do not close them. The broker URI
// may carry a poll timeout.
func Factory(pub message.Publisher, sub message.Subscriber) transport.Factory {
	return func(_ context.Context, ep transport.Endpoint) (transport.Transport, error) {
		if ep.Topic == "" {
			return nil, fmt.Errorf("watermill: topic is required")
		}
		u, err := ep.URL()
		if err != nil {
			return nil, err
		}
		poll := DefaultPollTimeout
		if p := u.Query().Get("poll"); p != "" {
			if poll, err = time.ParseDuration(p); err != nil || poll <= 0 {
				return nil, fmt.Errorf("watermill: invalid poll timeout %q", p)
			}
		}
		return New(pub, sub, ep.Topic, poll), nil
	}
}

// New binds pub and sub to topic.
func New(pub message.Publisher, sub message.Subscriber, topic string, poll time.Duration) *Transport {
	if poll <= 0 {
		poll = DefaultPollTimeout
	}
	return &Transport{pub: pub, sub: sub, topic: topic, poll: poll}
}

// Transport publishes to and consumes from one watermill topic.
type Transport struct {
	pub   message.Publisher
	sub   message.Subscriber
	topic string
	poll  time.Duration

	// recv serializes Consume; mu guards the fields below and is never held
	// while a delivery runs, so deliver may publish on the same transport.
	recv     sync.Mutex
	mu       sync.Mutex
	messages <-chan *message.Message
	cancel   context.CancelFunc
	closed   bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Publish(ctx context.Context, msg transport.Message) error {
	if t.isClosed() {
		return transport.ErrClosed
	}
	id := msg.ID
	if id == "" {
		id = watermill.NewUUID()
	}
	wm := message.NewMessage(id, msg.Payload)
	for k, v := range msg.Headers() {
		wm.Metadata.Set(k, v)
	}
	wm.SetContext(ctx)
	if err := t.pub.Publish(t.topic, wm); err != nil {
		return fmt.Errorf("watermill: publish %s: %w", t.topic, err)
	}
	return nil
}

// Subscribe starts receiving messages ahead of the first Consume.
func (t *Transport) Subscribe() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	return t.subscribeLocked()
}

func (t *Transport) subscribeLocked() error {
	if t.messages != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := t.sub.Subscribe(ctx, t.topic)
	if err != nil {
		cancel()
		return fmt.Errorf("watermill: subscribe %s: %w", t.topic, err)
	}
	t.messages, t.cancel = ch, cancel
	return nil
}

func (t *Transport) Consume(ctx context.Context, deliver transport.Deliver) error {
	t.recv.Lock()
	defer t.recv.Unlock()

	messages, err := t.subscription(ctx)
	if err != nil {
		return err
	}

	timer := time.NewTimer(t.poll)
	defer timer.Stop()

	var wm *message.Message
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return transport.ErrNoMessage
	case m, ok := <-messages:
		if !ok {
			return transport.ErrClosed
		}
		wm = m
	}

	msg := transport.FromHeaders(t.topic, wm.Payload, wm.Metadata)
	if msg.ID == "" {
		msg.ID = wm.UUID
	}
	if err := deliver(ctx, msg); err != nil {
		wm.Nack()
		return err
	}
	wm.Ack()
	return nil
}

func (t *Transport) subscription(ctx context.Context) (<-chan *message.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.subscribeLocked(); err != nil {
		return nil, err
	}
	return t.messages, nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close ends the subscription. The publisher and subscriber stay open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	t.messages = nil
	return nil
}
