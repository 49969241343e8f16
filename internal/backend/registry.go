package backend

import (
	"fmt"
	"log/slog"
	"sort"
)

// Registry maps backend names to their Connection implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	conns  map[string]Connection
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Connection),
		logger: logger.With("component", "backend-registry"),
	}
}

// Register adds a Connection to the registry, keyed by its Name().
func (r *Registry) Register(conn Connection) {
	name := conn.Name()
	r.conns[name] = conn
	r.logger.Debug("backend registered", "name", name)
}

// Get returns the Connection for name or an error if none is registered.
func (r *Registry) Get(name string) (Connection, error) {
	conn, ok := r.conns[name]
	if !ok {
		return nil, fmt.Errorf("no backend registered for %q (have %v)", name, r.Names())
	}
	return conn, nil
}

// Names lists registered backends in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.conns))
	for n := range r.conns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
