// Package health aggregates component liveness checks for the monitor
// surface.
package health

import (
	"sync"

	"meld_bot/internal/core"
)

// Manager collects named check functions and answers for the whole bot.
// It implements core.IHealthMonitor.
type Manager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewManager creates an empty manager. The logger may be nil.
func NewManager(logger core.ILogger) *Manager {
	m := &Manager{
		checks: make(map[string]func() error),
	}
	if logger != nil {
		m.logger = logger.WithField("component", "health_manager")
	}
	return m
}

// Register adds or replaces the check for a component
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus runs every check and reports per-component results
func (m *Manager) GetStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for component, check := range m.checks {
		if err := check(); err != nil {
			if m.logger != nil {
				m.logger.Warn("health check failing", "check", component, "error", err)
			}
			return false
		}
	}
	return true
}
