// Package simulation is the minimal in-process collaborator the
// router calls into for simulation.start/simulation.stop, grounded on
// the original's SimulationManager start/stop pair. It has no
// behavior beyond tracking which client ids currently have a
// simulation running, since the simulation's own content generation
// is outside this backbone's scope.
package simulation

import (
	"fmt"
	"sync"

	"github.com/ctxlens/backend/pkg/Logger"
)

// Manager tracks active simulations by client id.
type Manager struct {
	log *Logger.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

func New(log *Logger.Logger) *Manager {
	return &Manager{log: log, active: map[string]struct{}{}}
}

// Start marks clientID as running a simulation. clientID must be
// non-empty; the router enforces this before calling in.
func (m *Manager) Start(clientID string) error {
	if clientID == "" {
		return fmt.Errorf("simulation: missing client id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[clientID] = struct{}{}
	if m.log != nil {
		m.log.Infof("simulation: started for %s", clientID)
	}
	return nil
}

// Stop clears clientID's simulation state, if any.
func (m *Manager) Stop(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, clientID)
	if m.log != nil {
		m.log.Infof("simulation: stopped for %s", clientID)
	}
	return nil
}

// IsActive reports whether clientID currently has a running simulation.
func (m *Manager) IsActive(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[clientID]
	return ok
}
