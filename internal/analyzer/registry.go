package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the analyzers known to this process, keyed by name.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

// NewDefaultRegistry registers bandit, semgrep and depcheck.
func NewDefaultRegistry(tc Toolchain) *Registry {
	r := NewRegistry()
	for _, a := range []Analyzer{
		NewBandit(tc),
		NewSemgrep(tc),
		NewDepcheck(tc),
	} {
		// Names are distinct; Register cannot fail here.
		_ = r.Register(a)
	}
	return r
}

// Register adds a. Names must be unique.
func (r *Registry) Register(a Analyzer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, dup := r.analyzers[name]; dup {
		return fmt.Errorf("analyzer %q already registered", name)
	}
	r.analyzers[name] = a
	slog.Debug("Registered analyzer", "analyzer", name)
	return nil
}

// Get returns the analyzer registered under name.
func (r *Registry) Get(name string) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	return a, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered analyzer names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.analyzers))
	for n := range r.analyzers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Versions asks every analyzer for its version.
func (r *Registry) Versions(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for _, n := range r.Names() {
		a, _ := r.Get(n)
		out[n] = a.Version(ctx)
	}
	return out
}
