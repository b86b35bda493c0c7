package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/casualjim/eva/internal/registry"
)

// Factory dials a transport for an endpoint.
type Factory func(ctx context.Context, ep Endpoint) (Transport, error)

var factories = registry.New[Factory]()

// Register makes a factory available for a broker URI scheme. Registering the
// same scheme twice replaces the earlier factory.
func Register(scheme string, f Factory) {
	if f == nil {
		panic("transport: Register factory is nil for scheme " + scheme)
	}
	factories.Add(strings.ToLower(scheme), f)
}

// Lookup returns the factory registered for scheme.
func Lookup(scheme string) (Factory, bool) {
	return factories.Get(strings.ToLower(scheme))
}

// Schemes lists the registered schemes in lexical order.
func Schemes() []string {
	return factories.Names()
}

// Open dials ep with the factory registered for its scheme.
func Open(ctx context.Context, ep Endpoint) (Transport, error) {
	f, ok := Lookup(ep.Scheme())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, ep.Broker)
	}
	return f(ctx, ep)
}
