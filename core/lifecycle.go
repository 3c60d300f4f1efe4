package core

import "sync"

var (
	sharedMu sync.Mutex
	shared   *Manager
)

// Setup creates the process-wide manager and migrates legacy credentials.
// It fails if a manager is already set up; call Teardown first.
func Setup(config Config, storage SecureStorage, client TokenClient, opts ...Option) (*Manager, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return nil, ErrAlreadySetup
	}

	m, err := NewManager(config, storage, client, opts...)
	if err != nil {
		return nil, err
	}
	m.store.MigrateLegacy()

	shared = m
	return m, nil
}

// Shared returns the manager created by Setup.
func Shared() (*Manager, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		return nil, ErrNotSetup
	}
	return shared, nil
}

// Teardown releases the process-wide manager. A pending authorization is
// resolved as cancelled.
func Teardown() {
	sharedMu.Lock()
	m := shared
	shared = nil
	sharedMu.Unlock()

	if m == nil {
		return
	}

	m.mu.Lock()
	a := m.pending
	m.mu.Unlock()
	if a != nil {
		m.resolve(a, cancelledOutcome())
	}
}
