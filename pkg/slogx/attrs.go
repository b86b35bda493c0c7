package slogx

import (
	"fmt"
	"log/slog"
)

const (
	// KeyLoggerName is the key for the name of the component owning a logger.
	KeyLoggerName = "logger"
	// KeyBroker is the key for a broker URI.
	KeyBroker = "broker"
	// KeyTopic is the key for a topic name.
	KeyTopic = "topic"
	// KeySubscription is the key for a subscription key.
	KeySubscription = "key"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
// A nil error is rendered as the empty string so callers can log
// unconditionally.
//
// Parameters:
//   - err: The error to be converted into a slog.Attr.
//
// Returns:
//   - slog.Attr: An attribute with the key "error" and the error's message as the value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// ByteString creates a slog.Attr with the given key and a string representation of the byte slice value.
// It converts the byte slice to a string and uses slog.String to create the attribute.
//
// Parameters:
//   - key: The key for the attribute.
//   - value: The byte slice to be converted to a string.
//
// Returns:
//
//	A slog.Attr containing the key and the string representation of the byte slice value.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// Stringer creates a slog.Attr with the provided key and the string representation
// of the given fmt.Stringer value. This function is useful for logging purposes
// where you want to include a string representation of an object that implements
// the fmt.Stringer interface.
//
// Parameters:
//   - key: A string representing the key for the attribute.
//   - value: An object that implements the fmt.Stringer interface.
//
// Returns:
//   - slog.Attr: An attribute containing the key and the string representation of the value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// LoggerName creates a slog.Attr with the provided logger name.
// The attribute key is defined by KeyLoggerName.
//
// Parameters:
//   - name: The name of the logger.
//
// Returns:
//
//	A slog.Attr containing the logger name.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Key returns the attribute for a subscription key, rendered with its String
// method. The attribute key is defined by KeySubscription.
//
//	logger.Debug("subscribed topic", slogx.Key(key))
func Key(key fmt.Stringer) slog.Attr {
	return Stringer(KeySubscription, key)
}

// Endpoint groups the broker URI and topic a message travels on.
//
//	logger.Info("dialed", slogx.Endpoint("kafka://localhost:9092", "orders"))
func Endpoint(broker, topic string) slog.Attr {
	return slog.Group("endpoint", slog.String(KeyBroker, broker), slog.String(KeyTopic, topic))
}
