package eva

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConfigDocument describes the configuration document accepted by
// LoadConfig. It exists to generate the schema; the loader reads the
// document with gjson and ignores fields it does not know.
type ConfigDocument struct {
	Broker             *string             `json:"broker,omitempty" jsonschema:"description=Default broker URI for keys with a null broker"`
	BootstrapBrokerURI *string             `json:"bootstrap_broker_uri,omitempty" jsonschema:"description=Alias of broker, used when broker is absent"`
	Topic              *string             `json:"topic,omitempty" jsonschema:"description=Default topic for keys with a null topic"`
	Subscriptions      []SubscriptionEntry `json:"subscriptions,omitempty" jsonschema:"description=Topics subscribed when the document is loaded"`
}

// SubscriptionEntry is a pre-declared subscription. A missing or null field
// is a null key field.
type SubscriptionEntry struct {
	Broker *string `json:"broker,omitempty"`
	Topic  *string `json:"topic,omitempty"`
}

// ConfigSchema returns the JSON schema of the configuration document.
func ConfigSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&ConfigDocument{})
	s.Title = "eva agency configuration"
	return s
}

type parsedConfig struct {
	broker, topic       Name
	hasBroker, hasTopic bool
	subscriptions       []Key
}

// LoadConfigFile reads path and applies it with LoadConfig.
func (a *Agency) LoadConfigFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("eva: read config: %w", err)
	}
	return a.LoadConfig(b)
}

// LoadConfig applies a JSON configuration document: the default broker and
// topic, and every pre-declared subscription through the same path as
// Subscribe, without a notifier or state. It only adds: an entry for a key
// that is already subscribed keeps that topic, its notifier and its state,
// and no subscription is ever removed.
//
// A document that does not parse is reported with ErrInvalidConfig and leaves
// the agency untouched.
func (a *Agency) LoadConfig(document []byte) error {
	if !gjson.ValidBytes(document) {
		return fmt.Errorf("%w: document is not valid JSON", ErrInvalidConfig)
	}
	return a.LoadConfigResult(gjson.ParseBytes(document))
}

// LoadConfigResult is LoadConfig for an already parsed document.
func (a *Agency) LoadConfigResult(doc gjson.Result) error {
	cfg, err := parseConfig(doc)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.topics == nil {
		return fmt.Errorf("eva: load config: %w", ErrClosed)
	}

	if cfg.hasBroker {
		a.defaultBroker = cfg.broker
	}
	if cfg.hasTopic {
		a.defaultTopic = cfg.topic
	}
	a.config = doc
	added := 0
	for _, key := range cfg.subscriptions {
		if _, ok := a.topics.Get(&Topic{key: key}); ok {
			continue
		}
		a.subscribeLocked(key, nil, nil)
		added++
	}
	a.log.Info("configuration loaded",
		slog.String("broker", a.defaultBroker.String()),
		slog.String("topic", a.defaultTopic.String()),
		slog.Int("subscriptions", len(cfg.subscriptions)),
		slog.Int("added", added),
	)
	return nil
}

func parseConfig(doc gjson.Result) (parsedConfig, error) {
	var cfg parsedConfig
	if !doc.IsObject() {
		return cfg, fmt.Errorf("%w: document must be an object", ErrInvalidConfig)
	}

	var err error
	brokerPath := "broker"
	if !doc.Get(brokerPath).Exists() {
		brokerPath = "bootstrap_broker_uri"
	}
	if cfg.broker, cfg.hasBroker, err = nameField(doc, brokerPath); err != nil {
		return cfg, err
	}
	if cfg.topic, cfg.hasTopic, err = nameField(doc, "topic"); err != nil {
		return cfg, err
	}

	subs := doc.Get("subscriptions")
	if !subs.Exists() || subs.Type == gjson.Null {
		return cfg, nil
	}
	if !subs.IsArray() {
		return cfg, fmt.Errorf("%w: subscriptions must be an array", ErrInvalidConfig)
	}
	for i, entry := range subs.Array() {
		if !entry.IsObject() {
			return cfg, fmt.Errorf("%w: subscriptions[%d] must be an object", ErrInvalidConfig, i)
		}
		var key Key
		if key.Broker, _, err = nameField(entry, "broker"); err != nil {
			return cfg, fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		if key.Topic, _, err = nameField(entry, "topic"); err != nil {
			return cfg, fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		cfg.subscriptions = append(cfg.subscriptions, key)
	}
	return cfg, nil
}

// nameField reads a string-or-null field. The boolean reports whether the
// field was present.
func nameField(doc gjson.Result, path string) (Name, bool, error) {
	v := doc.Get(path)
	switch {
	case !v.Exists():
		return Name{}, false, nil
	case v.Type == gjson.Null:
		return Name{}, true, nil
	case v.Type == gjson.String:
		return Some(v.Str), true, nil
	}
	return Name{}, true, fmt.Errorf("%w: %s must be a string or null", ErrInvalidConfig, path)
}

// Snapshot renders the defaults and the live subscriptions as a configuration
// document. Loading the snapshot into a fresh agency recreates the same keys.
func (a *Agency) Snapshot() ([]byte, error) {
	broker, topic := a.Defaults()
	topics := a.Topics()

	doc := []byte(`{}`)
	var err error
	if doc, err = setName(doc, "broker", broker); err != nil {
		return nil, err
	}
	if doc, err = setName(doc, "topic", topic); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetRawBytes(doc, "subscriptions", []byte(`[]`)); err != nil {
		return nil, err
	}
	for _, t := range topics {
		entry := []byte(`{}`)
		if entry, err = setName(entry, "broker", t.key.Broker); err != nil {
			return nil, err
		}
		if entry, err = setName(entry, "topic", t.key.Topic); err != nil {
			return nil, err
		}
		if doc, err = sjson.SetRawBytes(doc, "subscriptions.-1", entry); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func setName(doc []byte, path string, n Name) ([]byte, error) {
	if !n.Valid {
		return sjson.SetRawBytes(doc, path, []byte(`null`))
	}
	return sjson.SetBytes(doc, path, n.Value)
}
