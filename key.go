package eva

import "strings"

// Name is a broker URI or topic name that may be null. The zero Name is null.
type Name struct {
	Value string
	Valid bool
}

// Some returns a non-null Name. The empty string is a valid, non-null name.
func Some(s string) Name {
	return Name{Value: s, Valid: true}
}

// Or returns the name when it is non-null, otherwise def.
func (n Name) Or(def Name) Name {
	if n.Valid {
		return n
	}
	return def
}

func (n Name) String() string {
	if !n.Valid {
		return "<nil>"
	}
	return n.Value
}

// compareName orders a null name before every non-null name.
func compareName(a, b Name) int {
	switch {
	case !a.Valid && !b.Valid:
		return 0
	case !a.Valid:
		return -1
	case !b.Valid:
		return 1
	}
	return strings.Compare(a.Value, b.Value)
}

// Key identifies a topic handle within an agency.
type Key struct {
	Broker Name
	Topic  Name
}

// K builds a key with both fields set.
func K(broker, topic string) Key {
	return Key{Broker: Some(broker), Topic: Some(topic)}
}

// Compare orders keys by broker and then by topic. A null field sorts before
// any non-null one and two null fields are equal. Keys are the same key
// exactly when Compare returns 0.
func Compare(a, b Key) int {
	if c := compareName(a.Broker, b.Broker); c != 0 {
		return c
	}
	return compareName(a.Topic, b.Topic)
}

func (k Key) String() string {
	return k.Broker.String() + "/" + k.Topic.String()
}
