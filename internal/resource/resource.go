// Package resource implements the dependency-DAG startup/teardown container
// from spec.md §4.10: components start in topological order and stop in
// reverse, with a bounded grace period per component before force
// cancellation.
package resource

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xiaoclient/voicecore/internal/errs"
)

// ShutdownGrace is how long a component gets to signal stopped before it is
// force-cancelled (spec.md §4.10: "must signal stopped within 2s").
const ShutdownGrace = 2 * time.Second

// Component is one managed unit in the DAG. Start should block until the
// component is ready to serve, returning promptly if ctx is cancelled. Stop
// should release all resources and return once fully torn down.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error

	// DependsOn names components that must have started successfully
	// before this one starts.
	DependsOn []string
}

// Manager owns the startup order, running components, and teardown order
// for a session's components.
type Manager struct {
	components map[string]*Component
	started    []string // in the order they actually started, for reverse teardown
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{components: make(map[string]*Component)}
}

// Add registers a component. Call Add for every component before Start.
func (m *Manager) Add(c *Component) {
	m.components[c.Name] = c
}

// Start brings up every registered component in dependency order. On the
// first failure, it stops everything already started (in reverse order)
// and returns the failing component's error.
func (m *Manager) Start(ctx context.Context) error {
	order, err := topoSort(m.components)
	if err != nil {
		return err
	}

	for _, name := range order {
		c := m.components[name]
		if err := c.Start(ctx); err != nil {
			stopErr := m.Stop(context.Background())
			if stopErr != nil {
				return fmt.Errorf("start %s: %w (and teardown of already-started components also failed: %v)", name, err, stopErr)
			}
			return fmt.Errorf("start %s: %w", name, err)
		}
		m.started = append(m.started, name)
	}
	return nil
}

// Stop tears down every started component in reverse start order, giving
// each ShutdownGrace before force-cancelling. Returns the first error
// encountered, after attempting every component regardless.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		name := m.started[i]
		c := m.components[name]

		stopCtx, cancel := context.WithTimeout(ctx, ShutdownGrace)
		done := make(chan error, 1)
		go func() { done <- c.Stop(stopCtx) }()

		select {
		case err := <-done:
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", name, err)
			}
		case <-stopCtx.Done():
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", name, errs.ErrShutdownTimeout)
			}
		}
		cancel()
	}
	m.started = nil
	return firstErr
}

// topoSort returns component names in dependency order (dependencies
// before dependents), or an error if a dependency is missing or a cycle
// exists.
func topoSort(components map[string]*Component) ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(components))
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("resource: dependency cycle detected at %q", name)
		}
		c, ok := components[name]
		if !ok {
			return fmt.Errorf("resource: unknown dependency %q", name)
		}
		state[name] = visiting
		for _, dep := range c.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}

	// Deterministic iteration order over the map keys for reproducible test
	// failures, without requiring the caller to pre-sort.
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
