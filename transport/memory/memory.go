// Package memory is an in-process transport. Every broker name ("mem://name")
// is a hub of FIFO queues, one per topic, shared by all transports dialed for
// that name in the process. Consume never blocks: it returns
// transport.ErrNoMessage on an empty queue.
//
// A message whose delivery fails is put back at the head of its queue.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/eva/internal/registry"
	"github.com/casualjim/eva/transport"
)

// Scheme is the broker URI scheme served by this package.
const Scheme = "mem"

func init() {
	transport.Register(Scheme, Dial)
}

var hubs = registry.New[*Hub]()

// Hub holds the queues of one broker name.
type Hub struct {
	name   string
	queues *haxmap.Map[string, *queue]
}

// Lookup returns the hub for a broker name, creating it on first use.
func Lookup(name string) *Hub {
	h, _ := hubs.GetOrAdd(name, func() *Hub {
		return &Hub{name: name, queues: haxmap.New[string, *queue]()}
	})
	return h
}

// Reset drops the hub for name and everything queued on it.
func Reset(name string) {
	hubs.Del(name)
}

// Name returns the broker name of the hub.
func (h *Hub) Name() string { return h.name }

// Len returns the number of messages waiting on topic.
func (h *Hub) Len(topic string) int {
	q, ok := h.queues.Get(topic)
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (h *Hub) queue(topic string) *queue {
	q, _ := h.queues.GetOrCompute(topic, func() *queue { return &queue{} })
	return q
}

type queue struct {
	mu    sync.Mutex
	items []transport.Message
}

func (q *queue) push(msg transport.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

func (q *queue) pop() (transport.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return transport.Message{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

func (q *queue) requeue(msg transport.Message) {
	q.mu.Lock()
	q.items = append([]transport.Message{msg}, q.items...)
	q.mu.Unlock()
}

// Dial binds a transport to the hub named by the broker URI host.
func Dial(_ context.Context, ep transport.Endpoint) (transport.Transport, error) {
	u, err := ep.URL()
	if err != nil {
		return nil, err
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("memory: unexpected scheme %q", u.Scheme)
	}
	if ep.Topic == "" {
		return nil, fmt.Errorf("memory: topic is required")
	}
	hub := Lookup(u.Host)
	return &Transport{hub: hub, topic: ep.Topic, q: hub.queue(ep.Topic)}, nil
}

// Transport publishes to and consumes from one queue of a hub.
type Transport struct {
	hub    *Hub
	topic  string
	q      *queue
	closed atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Publish(ctx context.Context, msg transport.Message) error {
	if t.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.Topic = t.topic
	t.q.push(msg)
	return nil
}

func (t *Transport) Consume(ctx context.Context, deliver transport.Deliver) error {
	if t.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, ok := t.q.pop()
	if !ok {
		return transport.ErrNoMessage
	}
	if err := deliver(ctx, msg); err != nil {
		t.q.requeue(msg)
		return err
	}
	return nil
}

// Close detaches the transport. Queued messages stay on the hub.
func (t *Transport) Close() error {
	t.closed.Store(true)
	return nil
}
