package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownServer is returned when a requested server name is not registered.
var ErrUnknownServer = errors.New("bridge: unknown server") //nolint:gochecknoglobals // sentinel error

// Registry holds the named bridge instances the service exposes. Each
// instance owns exactly one child process.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
}

func NewRegistry() *Registry {
	return &Registry{
		bridges: make(map[string]*Bridge),
	}
}

// Register adds a bridge under its server name.
func (r *Registry) Register(name string, b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[name] = b
}

// Get returns the bridge for the given server name.
func (r *Registry) Get(name string) (*Bridge, error) {
	r.mu.RLock()
	b, ok := r.bridges[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("bridge.Registry.Get(%q): %w", name, ErrUnknownServer)
	}
	return b, nil
}

// Available returns registered server names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bridges))
	for name := range r.bridges {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// List returns status snapshots for every bridge, sorted by name.
func (r *Registry) List() []Status {
	names := r.Available()

	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		b, err := r.Get(name)
		if err != nil {
			continue
		}
		statuses = append(statuses, b.Status())
	}
	return statuses
}

// Status returns one bridge's snapshot.
func (r *Registry) Status(name string) (Status, bool) {
	b, err := r.Get(name)
	if err != nil {
		return Status{}, false
	}
	return b.Status(), true
}

// CloseAll terminates every bridge's child. The first error is returned,
// but every bridge is closed regardless.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	bridges := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		bridges = append(bridges, b)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, b := range bridges {
		if err := b.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return fmt.Errorf("bridge.Registry.CloseAll: %w", firstErr)
	}
	return nil
}
