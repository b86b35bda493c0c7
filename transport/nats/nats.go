// Package nats is a NATS core transport. Broker URIs are NATS server URLs
// with an optional poll timeout:
//
//	nats://host:4222?poll=250ms
//
// The topic is used as the subject. The subscription is opened on the first
// Consume, so only messages published after that are seen. A message whose
// delivery failed is held and handed out again by the next Consume.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/casualjim/eva/transport"
	"github.com/nats-io/nats.go"
)

// Scheme is the broker URI scheme served by this package.
const Scheme = "nats"

const DefaultPollTimeout = time.Second

func init() {
	transport.Register(Scheme, Dial)
}

// Connect opens a connection to url named "eva" with compression enabled,
// unless other options are given.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts, nats.Name("eva"), nats.Compression(true))
	}
	return nats.Connect(url, opts...)
}

// Dial connects to the server named by the broker URI.
func Dial(_ context.Context, ep transport.Endpoint) (transport.Transport, error) {
	if ep.Topic == "" {
		return nil, fmt.Errorf("nats: subject is required")
	}
	u, err := ep.URL()
	if err != nil {
		return nil, err
	}
	poll := DefaultPollTimeout
	q := u.Query()
	if p := q.Get("poll"); p != "" {
		if poll, err = time.ParseDuration(p); err != nil || poll <= 0 {
			return nil, fmt.Errorf("nats: invalid poll timeout %q", p)
		}
		q.Del("poll")
		u.RawQuery = q.Encode()
	}

	nc, err := Connect(u.String())
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", u.Redacted(), err)
	}
	return New(nc, ep.Topic, poll), nil
}

// New wraps an established connection. The transport owns nc and closes it.
func New(nc *nats.Conn, subject string, poll time.Duration) *Transport {
	if poll <= 0 {
		poll = DefaultPollTimeout
	}
	return &Transport{conn: nc, subject: subject, poll: poll}
}

// Transport publishes to and consumes from one subject.
type Transport struct {
	conn    *nats.Conn
	subject string
	poll    time.Duration

	// recv serializes Consume and guards pending. mu guards sub and closed
	// and is released before a delivery runs.
	recv    sync.Mutex
	pending *nats.Msg

	mu     sync.Mutex
	sub    *nats.Subscription
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Publish(_ context.Context, msg transport.Message) error {
	if t.isClosed() {
		return transport.ErrClosed
	}
	m := nats.NewMsg(t.subject)
	m.Data = msg.Payload
	for k, v := range msg.Headers() {
		m.Header.Set(k, v)
	}
	if err := t.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("nats: publish %s: %w", t.subject, err)
	}
	return nil
}

// Subscribe opens the subscription ahead of the first Consume.
func (t *Transport) Subscribe() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	return t.subscribeLocked()
}

func (t *Transport) subscribeLocked() error {
	if t.sub != nil {
		return nil
	}
	sub, err := t.conn.SubscribeSync(t.subject)
	if err != nil {
		return fmt.Errorf("nats: subscribe %s: %w", t.subject, err)
	}
	// make sure the server knows about the interest before returning
	if err := t.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats: flush: %w", err)
	}
	t.sub = sub
	return nil
}

func (t *Transport) Consume(ctx context.Context, deliver transport.Deliver) error {
	t.recv.Lock()
	defer t.recv.Unlock()

	sub, err := t.subscription()
	if err != nil {
		return err
	}

	m := t.pending
	if m == nil {
		pctx, cancel := context.WithTimeout(ctx, t.poll)
		defer cancel()
		m, err = sub.NextMsgWithContext(pctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return transport.ErrNoMessage
		case t.isClosed():
			return transport.ErrClosed
		default:
			return fmt.Errorf("nats: next message on %s: %w", t.subject, err)
		}
	}

	if err := deliver(ctx, message(m)); err != nil {
		t.pending = m
		return err
	}
	t.pending = nil
	return nil
}

func (t *Transport) subscription() (*nats.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if err := t.subscribeLocked(); err != nil {
		return nil, err
	}
	return t.sub, nil
}

func message(m *nats.Msg) transport.Message {
	headers := make(map[string]string, len(m.Header))
	for k := range m.Header {
		headers[k] = m.Header.Get(k)
	}
	return transport.FromHeaders(m.Subject, m.Data, headers)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close drains the subscription and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	var err error
	if t.sub != nil {
		err = t.sub.Unsubscribe()
		t.sub = nil
	}
	t.conn.Close()
	if errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}
	return err
}
