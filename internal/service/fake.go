package service

import (
	"context"
	"sync"
)

// Behavior scripts one service's fate in a ScriptedManager.
type Behavior struct {
	// RestartErr, when non-nil, is returned from Restart.
	RestartErr error

	// HealthyAfter is the number of failing health polls before the
	// service reports healthy. 0 means healthy on the first poll; a
	// negative value means never healthy.
	HealthyAfter int

	// UnhealthyReason is reported while the service is not yet healthy.
	UnhealthyReason string
}

// ScriptedManager is a Manager for tests and the scenario harness: each
// service's behavior is predetermined and every restart is recorded in
// order.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedManager struct {
	mu        sync.Mutex
	behaviors map[string]Behavior
	polls     map[string]int
	restarts  []string
}

// NewScriptedManager creates a manager where every service is healthy on
// the first poll unless a behavior is scripted.
func NewScriptedManager() *ScriptedManager {
	return &ScriptedManager{
		behaviors: make(map[string]Behavior),
		polls:     make(map[string]int),
	}
}

// SetBehavior scripts the behavior for a service name.
func (m *ScriptedManager) SetBehavior(name string, b Behavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[name] = b
}

// Restart records the call and returns the scripted error, if any.
// Restarting a service resets its health poll counter, matching a real
// restart.
func (m *ScriptedManager) Restart(_ context.Context, d Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, d.Name)
	m.polls[d.Name] = 0
	return m.behaviors[d.Name].RestartErr
}

// Healthy reports scripted health: unhealthy for the first HealthyAfter
// polls, healthy afterwards (never, if negative).
func (m *ScriptedManager) Healthy(_ context.Context, d Descriptor) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.behaviors[d.Name]
	poll := m.polls[d.Name]
	m.polls[d.Name] = poll + 1

	if b.HealthyAfter < 0 || poll < b.HealthyAfter {
		reason := b.UnhealthyReason
		if reason == "" {
			reason = "unit is activating"
		}
		return false, reason
	}
	return true, ""
}

// Restarts returns the service names restarted so far, in order.
func (m *ScriptedManager) Restarts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.restarts))
	copy(out, m.restarts)
	return out
}
