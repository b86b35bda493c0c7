package eva

import (
	"log/slog"
	"strings"

	"github.com/casualjim/eva/transport"
	"github.com/fogfish/opts"
)

// Logger sets the logger used by the agency and its topics.
var Logger = opts.ForName[Agency, *slog.Logger]("log")

// DefaultBroker sets the broker URI dialed by topics whose key has a null broker.
func DefaultBroker(uri string) opts.Option[Agency] {
	return opts.Type[Agency](func(a *Agency) error {
		a.defaultBroker = Some(uri)
		return nil
	})
}

// DefaultTopic sets the topic name dialed by topics whose key has a null topic.
func DefaultTopic(name string) opts.Option[Agency] {
	return opts.Type[Agency](func(a *Agency) error {
		a.defaultTopic = Some(name)
		return nil
	})
}

// Transport binds scheme to factory for this agency only, taking precedence
// over the factories registered with transport.Register.
func Transport(scheme string, factory transport.Factory) opts.Option[Agency] {
	return opts.Type[Agency](func(a *Agency) error {
		a.transports[strings.ToLower(scheme)] = factory
		return nil
	})
}
