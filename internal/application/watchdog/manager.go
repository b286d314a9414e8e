package watchdog

import (
	"context"
	"sync"
)

// Manager owns the per-project annotation watchdogs: one ProjectWatchdog
// goroutine per project, started lazily the first time a project's status
// is asked for and stopped when the project is deleted. Mirrors the
// original's module-level watchdog dict, made an explicit object per the
// "no hidden globals" reimplementation guidance.
type Manager struct {
	// NewWatchdog builds the watchdog for a project; the Manager runs it.
	NewWatchdog func(shortName string) *ProjectWatchdog

	mu   sync.Mutex
	dogs map[string]*ProjectWatchdog
}

// NewManager builds a Manager around a watchdog factory.
func NewManager(factory func(shortName string) *ProjectWatchdog) *Manager {
	return &Manager{
		NewWatchdog: factory,
		dogs:        make(map[string]*ProjectWatchdog),
	}
}

// Ensure starts the project's watchdog if it is not already running and
// returns it. The watchdog outlives the (possibly request-scoped) call
// that started it: its loop runs against a background context and ends
// via Stop or self-termination when the project schema disappears; a
// later Ensure then starts a fresh one.
func (m *Manager) Ensure(shortName string) *ProjectWatchdog {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dog, ok := m.dogs[shortName]; ok && !dog.Done() {
		return dog
	}

	dog := m.NewWatchdog(shortName)
	m.dogs[shortName] = dog
	go dog.Run(context.Background())
	return dog
}

// Nudge shortens the named project's current back-off sleep, if its
// watchdog is running. recheck additionally asks for project properties
// to be reloaded; the run loop reloads them at the top of every
// iteration, so both flavors wake the same loop.
func (m *Manager) Nudge(shortName string, recheck bool) {
	m.mu.Lock()
	dog, ok := m.dogs[shortName]
	m.mu.Unlock()
	if ok {
		dog.Nudge()
	}
}

// Stop terminates and forgets the named project's watchdog, used when a
// project is deleted.
func (m *Manager) Stop(shortName string) {
	m.mu.Lock()
	dog, ok := m.dogs[shortName]
	delete(m.dogs, shortName)
	m.mu.Unlock()
	if ok {
		dog.Stop()
	}
}

// StopAll terminates every running watchdog, used at process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	dogs := m.dogs
	m.dogs = make(map[string]*ProjectWatchdog)
	m.mu.Unlock()

	for _, dog := range dogs {
		dog.Stop()
	}
}

// Running returns the short names of every project with a live watchdog.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.dogs))
	for shortName, dog := range m.dogs {
		if !dog.Done() {
			out = append(out, shortName)
		}
	}
	return out
}
