// Package transport defines the contract between a topic handle and the
// backend that actually moves its messages.
//
// A Transport is bound to exactly one (broker, topic) endpoint. It owns
// whatever backend state that takes (a client connection, a consumer group
// membership, a prepared statement) and releases it on Close.
//
// Backends register a Factory for a URI scheme from an init function so that
// enabling one is a blank import:
//
//	import _ "github.com/casualjim/eva/transport/kafka"
//
// Consume pulls at most one message per call and hands it to the Deliver
// function synchronously, on the calling goroutine, before returning. The
// error returned from Deliver is returned from Consume unchanged, and a
// backend with redelivery semantics uses it to decide between ack and nack.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/tidwall/gjson"
)

var (
	// ErrNoMessage is returned from Consume when nothing was available.
	ErrNoMessage = errors.New("transport: no message available")
	// ErrUnknownScheme is returned when no factory is registered for a broker URI.
	ErrUnknownScheme = errors.New("transport: unknown broker scheme")
	// ErrClosed is returned by a transport used after Close.
	ErrClosed = errors.New("transport: closed")
)

// Metadata keys stamped on every message by the topic handle.
const (
	MetaMessageID = "eva-message-id"
	MetaTimestamp = "eva-timestamp"
	MetaKey       = "eva-key"
)

// Message is a single document carried over a topic.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Key       string            `json:"key,omitempty"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp strfmt.DateTime   `json:"timestamp"`
}

// Document parses the payload as a JSON document.
func (m Message) Document() gjson.Result {
	return gjson.ParseBytes(m.Payload)
}

// Headers returns the metadata merged with the message id, key and timestamp,
// for backends that carry everything but the payload as string headers.
func (m Message) Headers() map[string]string {
	h := make(map[string]string, len(m.Metadata)+3)
	for k, v := range m.Metadata {
		h[k] = v
	}
	h[MetaMessageID] = m.ID
	h[MetaTimestamp] = m.Timestamp.String()
	if m.Key != "" {
		h[MetaKey] = m.Key
	}
	return h
}

// FromHeaders rebuilds a message from a payload and the headers written by
// Headers. Unknown headers end up in Metadata.
func FromHeaders(topic string, payload []byte, headers map[string]string) Message {
	msg := Message{Topic: topic, Payload: payload}
	for k, v := range headers {
		switch k {
		case MetaMessageID:
			msg.ID = v
		case MetaKey:
			msg.Key = v
		case MetaTimestamp:
			if ts, err := strfmt.ParseDateTime(v); err == nil {
				msg.Timestamp = ts
			}
		default:
			if msg.Metadata == nil {
				msg.Metadata = make(map[string]string)
			}
			msg.Metadata[k] = v
		}
	}
	if time.Time(msg.Timestamp).IsZero() {
		msg.Timestamp = strfmt.DateTime(time.Now().UTC())
	}
	return msg
}

// Deliver receives one consumed message.
type Deliver func(ctx context.Context, msg Message) error

// Transport publishes to and consumes from a single endpoint.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context, deliver Deliver) error
	Close() error
}

// Endpoint is the effective broker URI and topic a transport is bound to,
// after the agency defaults have been applied.
type Endpoint struct {
	Broker string
	Topic  string
}

func (e Endpoint) String() string {
	return e.Broker + "/" + e.Topic
}

// Scheme returns the URI scheme of the broker, lower cased.
// A broker without "://" has no scheme.
func (e Endpoint) Scheme() string {
	scheme, _, ok := strings.Cut(e.Broker, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// URL parses the broker URI.
func (e Endpoint) URL() (*url.URL, error) {
	u, err := url.Parse(e.Broker)
	if err != nil {
		return nil, fmt.Errorf("transport: parse broker %q: %w", e.Broker, err)
	}
	return u, nil
}

// Hosts returns the comma separated host list of the broker URI, as used by
// seed broker lists ("kafka://a:9092,b:9092").
func (e Endpoint) Hosts() ([]string, error) {
	u, err := e.URL()
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, h := range strings.Split(u.Host, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("transport: broker %q has no hosts", e.Broker)
	}
	return hosts, nil
}
