/*
Package eva is a broker agnostic pub/sub façade. Callers subscribe to a
(broker, topic) pair and get back a Topic handle through which they publish
documents or consume them into a callback, without knowing whether the
messages travel over Kafka, NATS, a SQL table or an in-process queue.

The package revolves around two types:

  - Agency: the registry of live handles. It keeps at most one Topic per Key,
    orders keys with Compare, and serializes structural changes with a
    multi-reader/single-writer lock.
  - Topic: one subscription. It owns its transport, the notifier installed by
    Subscribe and the Resource holding the notifier's state.

# Basic Usage

	agency := eva.New(eva.DefaultBroker("kafka://localhost:9092"))
	defer agency.Close()

	orders := agency.Subscribe(eva.K("kafka://localhost:9092", "orders"), onOrder, eva.Own(conn, closeConn))
	if err := orders.Publish(ctx, map[string]any{"id": 42}); err != nil {
		return err
	}
	if err := orders.Poll(ctx); err != nil && !errors.Is(err, transport.ErrNoMessage) {
		return err
	}

A Key field may be null (the zero Name). Null fields resolve to the agency
defaults when the topic dials its transport, while the key itself keeps the
null so that (null, "x"), ("x", null) and ("x", "x") stay distinct.

# Ownership

State handed to Subscribe is wrapped in a Resource. The topic releases it
exactly once: when a later Subscribe on the same key brings a different
Resource, or when the topic is destroyed by Unsubscribe or Agency.Close.

# Transports

Backends live in the transport sub packages and register a factory for their
URI scheme when imported:

	import (
		_ "github.com/casualjim/eva/transport/kafka"
		_ "github.com/casualjim/eva/transport/nats"
	)

Consume pulls at most one message and calls the notifier synchronously before
returning; Publish and Consume never take the agency lock.
*/
package eva
