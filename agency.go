package eva

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/casualjim/eva/pkg/slogx"
	"github.com/casualjim/eva/transport"
	"github.com/fogfish/opts"
	"github.com/tidwall/btree"
	"github.com/tidwall/gjson"
)

// Agency is the registry of live topic handles. It holds at most one Topic
// per Key and is safe for concurrent use: Find takes the lock in shared mode,
// Subscribe, Unsubscribe and LoadConfig take it exclusively.
//
// The zero Agency is not usable; obtain one with New or Init.
type Agency struct {
	mu     sync.RWMutex
	topics *btree.BTreeG[*Topic]

	userData      any
	defaultBroker Name
	defaultTopic  Name
	config        gjson.Result
	transports    map[string]transport.Factory
	log           *slog.Logger
}

// New allocates and initializes an agency.
func New(options ...opts.Option[Agency]) *Agency {
	return Init(nil, nil, options...)
}

// Init initializes a, allocating it when a is nil, and returns it. An agency
// that was closed may be initialized again. Initializing a live agency or
// passing an option that fails to apply panics.
func Init(a *Agency, userData any, options ...opts.Option[Agency]) *Agency {
	if a == nil {
		a = &Agency{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.topics != nil {
		panic("eva: Init called on a live agency")
	}
	a.userData = userData
	a.defaultBroker, a.defaultTopic = Name{}, Name{}
	a.config = gjson.Result{}
	a.transports = make(map[string]transport.Factory)
	a.log = nil
	if err := opts.Apply(a, options); err != nil {
		panic(err)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	a.log = a.log.With(slogx.LoggerName("eva"))
	a.topics = btree.NewBTreeGOptions(func(x, y *Topic) bool {
		return Compare(x.key, y.key) < 0
	}, btree.Options{NoLocks: true})
	return a
}

// UserData returns the value passed to Init.
func (a *Agency) UserData() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userData
}

// Defaults returns the broker URI and topic applied to null key fields.
func (a *Agency) Defaults() (broker, topic Name) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.defaultBroker, a.defaultTopic
}

// Config returns the last document applied with LoadConfig.
func (a *Agency) Config() gjson.Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// Find returns the topic registered under key.
func (a *Agency) Find(key Key) (*Topic, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.topics == nil {
		return nil, false
	}
	return a.topics.Get(&Topic{key: key})
}

// Subscribe returns the topic registered under key, creating it when absent,
// and installs fn and state as its notifier and owned state.
//
// On a repeat subscribe the handle and its transport are kept; only the
// notifier and state are replaced. If the topic owned different state, it is
// released before Subscribe returns, or once a running Poll is done with it.
// Release functions run with the agency locked and must not call back into it.
//
// Subscribe panics when the agency is not initialized or already closed.
func (a *Agency) Subscribe(key Key, fn Notifier, state *Resource) *Topic {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.topics == nil {
		panic(fmt.Errorf("eva: subscribe %s: %w", key, ErrClosed))
	}
	return a.subscribeLocked(key, fn, state)
}

func (a *Agency) subscribeLocked(key Key, fn Notifier, state *Resource) *Topic {
	if t, ok := a.topics.Get(&Topic{key: key}); ok {
		t.swap(fn, state)
		a.log.Debug("resubscribed topic", slogx.Key(key))
		return t
	}

	ep := transport.Endpoint{
		Broker: key.Broker.Or(a.defaultBroker).Value,
		Topic:  key.Topic.Or(a.defaultTopic).Value,
	}
	factory := a.factoryFor(ep.Scheme())
	if factory == nil {
		a.log.Warn("no transport registered for broker", slogx.Key(key), slogx.Endpoint(ep.Broker, ep.Topic))
	}

	t := newTopic(a, key, ep, factory)
	t.swap(fn, state)
	a.topics.Set(t)
	a.log.Debug("subscribed topic", slogx.Key(key), slogx.Endpoint(ep.Broker, ep.Topic))
	return t
}

func (a *Agency) factoryFor(scheme string) transport.Factory {
	if f, ok := a.transports[scheme]; ok {
		return f
	}
	if f, ok := transport.Lookup(scheme); ok {
		return f
	}
	return nil
}

// Unsubscribe removes the topic registered under key and destroys it,
// closing its transport and releasing its owned state. It returns an error
// wrapping ErrNotFound when the key is absent, and the transport close error
// otherwise.
func (a *Agency) Unsubscribe(key Key) error {
	a.mu.Lock()
	if a.topics == nil {
		a.mu.Unlock()
		return fmt.Errorf("eva: unsubscribe %s: %w", key, ErrClosed)
	}
	t, ok := a.topics.Delete(&Topic{key: key})
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("eva: unsubscribe %s: %w", key, ErrNotFound)
	}
	a.log.Debug("unsubscribed topic", slogx.Key(key))
	return t.destroy()
}

// Len returns the number of live topics.
func (a *Agency) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.topics == nil {
		return 0
	}
	return a.topics.Len()
}

// Topics returns the live topics ordered by key.
func (a *Agency) Topics() []*Topic {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.topics == nil {
		return nil
	}
	return a.topics.Items()
}

// Each calls fn for the live topics in key order until fn returns false. fn
// runs without the agency lock and may subscribe or unsubscribe; it sees the
// topics live when Each was called.
func (a *Agency) Each(fn func(*Topic) bool) {
	for _, t := range a.Topics() {
		if !fn(t) {
			return
		}
	}
}

// Close detaches every topic from the agency and then destroys them. Transport
// close errors are joined. Closing an agency twice is a no-op.
func (a *Agency) Close() error {
	a.mu.Lock()
	tree := a.topics
	a.topics = nil
	a.mu.Unlock()

	if tree == nil {
		return nil
	}

	var errs []error
	tree.Scan(func(t *Topic) bool {
		if err := t.destroy(); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	a.log.Debug("agency closed", slog.Int("topics", tree.Len()))
	return errors.Join(errs...)
}
