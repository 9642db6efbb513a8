package engine

import (
	"fmt"
	"sort"

	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

// Factory creates an adapter instance bound to a logger.
type Factory func(log *logging.Logger) Adapter

var registry = map[string]Factory{}

// Register binds an engine kind to its adapter factory. Adapters register
// themselves from init.
func Register(kind string, f Factory) {
	registry[kind] = f
}

// New returns the adapter for kind. Unknown or unimplemented engines fail
// before any network or filesystem work happens.
func New(kind string, log *logging.Logger) (Adapter, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, joberr.NotImplemented(fmt.Sprintf("engine %q is not supported (supported: %v)", kind, Kinds()))
	}
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	return f(log), nil
}

// Kinds lists the registered engine identifiers in sorted order.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
