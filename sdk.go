package models

import "sync"

var (
	defaultMu      sync.Mutex
	defaultManager Manager
)

// Init builds a Manager from cfg and installs it as the process-wide
// default. Exactly one live default exists at a time: concurrent or
// repeated calls lose with ErrAlreadyInitialized until Shutdown clears
// the slot. A failed build leaves the slot empty, so a later call may
// still win.
func Init(cfg Config, opts ...ManagerOption) (Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil {
		return nil, ErrAlreadyInitialized
	}
	m, err := NewManager(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defaultManager = m
	return m, nil
}

// Default returns the Manager installed by Init, or nil when none is
// live.
func Default() Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultManager
}

// Shutdown closes the default Manager and clears the slot so a later
// Init can install a fresh one. Shutdown with no live default is a
// no-op.
func Shutdown() error {
	defaultMu.Lock()
	m := defaultManager
	defaultManager = nil
	defaultMu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close()
}
