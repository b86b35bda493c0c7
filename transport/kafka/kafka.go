// Package kafka is a Kafka transport built on franz-go. Broker URIs take the
// form
//
//	kafka://host1:9092,host2:9092?group=orders&poll=500ms
//
// The consumer group defaults to "eva" and the poll timeout, the longest a
// single Consume waits for a record, to one second. Offsets are committed
// only after a record was delivered successfully; a record whose delivery
// failed is handed out again by the next Consume.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casualjim/eva/pkg/slogx"
	"github.com/casualjim/eva/transport"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Scheme is the broker URI scheme served by this package.
const Scheme = "kafka"

const (
	DefaultGroup       = "eva"
	DefaultPollTimeout = time.Second
)

func init() {
	transport.Register(Scheme, Dial)
}

// Options are the connection settings decoded from a broker URI.
type Options struct {
	Seeds       []string
	Group       string
	PollTimeout time.Duration
}

// ParseOptions decodes the seed brokers and query settings of ep.
func ParseOptions(ep transport.Endpoint) (Options, error) {
	u, err := ep.URL()
	if err != nil {
		return Options{}, err
	}
	if u.Scheme != Scheme {
		return Options{}, fmt.Errorf("kafka: unexpected scheme %q", u.Scheme)
	}
	seeds, err := ep.Hosts()
	if err != nil {
		return Options{}, err
	}

	o := Options{Seeds: seeds, Group: DefaultGroup, PollTimeout: DefaultPollTimeout}
	q := u.Query()
	if g := q.Get("group"); g != "" {
		o.Group = g
	}
	if p := q.Get("poll"); p != "" {
		d, err := time.ParseDuration(p)
		if err != nil || d <= 0 {
			return Options{}, fmt.Errorf("kafka: invalid poll timeout %q", p)
		}
		o.PollTimeout = d
	}
	return o, nil
}

// Dial creates the producer client for ep. The consumer joins its group on
// the first Consume.
func Dial(_ context.Context, ep transport.Endpoint) (transport.Transport, error) {
	if ep.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	o, err := ParseOptions(ep)
	if err != nil {
		return nil, err
	}
	producer, err := kgo.NewClient(
		kgo.SeedBrokers(o.Seeds...),
		kgo.DefaultProduceTopic(ep.Topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	return &Transport{
		opts:     o,
		topic:    ep.Topic,
		producer: producer,
		log:      slog.Default().With(slogx.LoggerName("kafka"), slogx.Endpoint(ep.Broker, ep.Topic)),
	}, nil
}

// Transport produces to and consumes from one Kafka topic.
type Transport struct {
	opts     Options
	topic    string
	producer *kgo.Client
	log      *slog.Logger

	// recv serializes Consume and guards pending. mu guards consumer and
	// closed and is released before a delivery runs.
	recv    sync.Mutex
	pending *kgo.Record

	mu       sync.Mutex
	consumer *kgo.Client
	closed   bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Publish(ctx context.Context, msg transport.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	rec := &kgo.Record{
		Topic:     t.topic,
		Value:     msg.Payload,
		Timestamp: time.Time(msg.Timestamp),
	}
	if msg.Key != "" {
		rec.Key = []byte(msg.Key)
	}
	for k, v := range msg.Headers() {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := t.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce to %s: %w", t.topic, err)
	}
	return nil
}

func (t *Transport) Consume(ctx context.Context, deliver transport.Deliver) error {
	t.recv.Lock()
	defer t.recv.Unlock()

	consumer, err := t.consumerClient()
	if err != nil {
		return err
	}

	rec := t.pending
	if rec == nil {
		if rec, err = t.poll(ctx, consumer); err != nil {
			return err
		}
	}

	if err := deliver(ctx, message(rec)); err != nil {
		t.pending = rec
		return err
	}
	t.pending = nil
	if err := consumer.CommitRecords(ctx, rec); err != nil {
		t.log.WarnContext(ctx, "commit failed", slogx.Error(err), slog.Int64("offset", rec.Offset))
	}
	return nil
}

func (t *Transport) consumerClient() (*kgo.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if t.consumer != nil {
		return t.consumer, nil
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(t.opts.Seeds...),
		kgo.ConsumerGroup(t.opts.Group),
		kgo.ConsumeTopics(t.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create consumer: %w", err)
	}
	t.consumer = cl
	return cl, nil
}

func (t *Transport) poll(ctx context.Context, consumer *kgo.Client) (*kgo.Record, error) {
	pctx, cancel := context.WithTimeout(ctx, t.opts.PollTimeout)
	defer cancel()
	fetches := consumer.PollRecords(pctx, 1)
	if fetches.IsClientClosed() {
		return nil, transport.ErrClosed
	}
	var errs []error
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		errs = append(errs, fmt.Errorf("kafka: fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs := fetches.Records()
	if len(recs) == 0 {
		return nil, transport.ErrNoMessage
	}
	return recs[0], nil
}

func message(rec *kgo.Record) transport.Message {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	msg := transport.FromHeaders(rec.Topic, rec.Value, headers)
	if msg.Key == "" && len(rec.Key) > 0 {
		msg.Key = string(rec.Key)
	}
	return msg
}

// Close shuts down the producer and leaves the consumer group.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.consumer != nil {
		t.consumer.Close()
		t.consumer = nil
	}
	t.producer.Close()
	return nil
}
