package flags

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"debt-negotiation-be/internal/pkg/logger"
)

// Listener is invoked after a flag value changes.
type Listener func(newValue, oldValue bool, key string)

// Registry is the read/write surface components depend on. The concrete
// Store is constructed once in the composition root and injected.
type Registry interface {
	IsEnabled(key string) bool
	SetFlag(ctx context.Context, key string, value bool) error
	Subscribe(key string, listener Listener) (unsubscribe func())
	EnableSafeMode(ctx context.Context) error
	IsOperational() bool
}

// Store resolves flag values with precedence
// defaults -> persisted snapshot -> environment overrides, and persists a
// full snapshot on every runtime mutation.
type Store struct {
	mu        sync.RWMutex
	values    map[string]bool
	listeners map[string]map[int]Listener
	nextID    int

	snapshots SnapshotStore
	logger    logger.ILogger
}

// NewStore seeds the store synchronously. A snapshot load failure is logged
// and treated as "no snapshot": the process still starts with safe defaults.
func NewStore(ctx context.Context, snapshots SnapshotStore, log logger.ILogger) *Store {
	s := &Store{
		values:    make(map[string]bool, len(defaults)),
		listeners: make(map[string]map[int]Listener),
		snapshots: snapshots,
		logger:    log,
	}
	s.seed(ctx)
	return s
}

func (s *Store) seed(ctx context.Context) {
	for k, v := range defaults {
		s.values[k] = v
	}

	snapshot, found, err := s.snapshots.Load(ctx)
	if err != nil {
		s.logger.Warn("FlagStore", "Snapshot load failed, using defaults", map[string]interface{}{"error": err.Error()})
	} else if found {
		for k, v := range snapshot {
			if IsKnown(k) {
				s.values[k] = v
			}
		}
	}

	// Environment wins over the snapshot for the keys it covers.
	for k, v := range readEnvOverrides() {
		s.values[k] = v
	}
}

// IsEnabled returns the current resolved value. Unknown keys are false.
func (s *Store) IsEnabled(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// IsOperational reports whether the AI negotiation module may run at all.
func (s *Store) IsOperational() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[KeyModuleEnabled] && !s.values[KeySafeMode]
}

// All returns a copy of the resolved flag map, sorted iteration friendly.
func (s *Store) All() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// SetFlag writes the value, persists the full snapshot, then notifies the
// key's listeners with (new, old, key). Idempotent writes still persist and
// notify so listeners can treat it as a heartbeat.
func (s *Store) SetFlag(ctx context.Context, key string, value bool) error {
	if !IsKnown(key) {
		return fmt.Errorf("unknown flag key: %s", key)
	}

	s.mu.Lock()
	old := s.values[key]
	s.values[key] = value
	snapshot := s.copyValuesLocked()
	s.mu.Unlock()

	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Error("FlagStore", "Failed to persist flag snapshot", map[string]interface{}{"key": key, "error": err.Error()})
	}

	s.notify(key, value, old)
	return nil
}

// Subscribe registers a listener for one key and returns its unsubscribe
// handle. Callers must invoke the handle on teardown.
func (s *Store) Subscribe(key string, listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners[key] == nil {
		s.listeners[key] = make(map[int]Listener)
	}
	id := s.nextID
	s.nextID++
	s.listeners[key][id] = listener

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[key], id)
	}
}

// EnableSafeMode is the single recovery primitive: it disables the optional
// module and realtime layer and forces the fallback path on. Callable from
// any failure path without additional context.
func (s *Store) EnableSafeMode(ctx context.Context) error {
	return s.setBulk(ctx, map[string]bool{
		KeyModuleEnabled:      false,
		KeyNegotiationEnabled: false,
		KeyRealTimeEnabled:    false,
		KeySafeMode:           true,
		KeyFallbackEnabled:    true,
	})
}

// DisableAll turns every non-protected flag off.
func (s *Store) DisableAll(ctx context.Context) error {
	return s.bulkToggle(ctx, false)
}

// EnableAll turns every non-protected flag on.
func (s *Store) EnableAll(ctx context.Context) error {
	return s.bulkToggle(ctx, true)
}

func (s *Store) bulkToggle(ctx context.Context, value bool) error {
	changes := make(map[string]bool)
	for _, key := range Keys() {
		if IsProtected(key) {
			continue
		}
		changes[key] = value
	}
	return s.setBulk(ctx, changes)
}

// Reset clears the persisted snapshot and reseeds from built-in defaults plus
// environment overrides, synchronously.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.snapshots.Clear(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.copyValuesLocked()
	s.values = make(map[string]bool, len(defaults))
	for k, v := range defaults {
		s.values[k] = v
	}
	for k, v := range readEnvOverrides() {
		s.values[k] = v
	}
	current := s.copyValuesLocked()
	s.mu.Unlock()

	s.notifyChanged(current, old)
	return nil
}

func (s *Store) setBulk(ctx context.Context, changes map[string]bool) error {
	s.mu.Lock()
	old := make(map[string]bool, len(changes))
	for k, v := range changes {
		old[k] = s.values[k]
		s.values[k] = v
	}
	snapshot := s.copyValuesLocked()
	s.mu.Unlock()

	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Error("FlagStore", "Failed to persist flag snapshot", map[string]interface{}{"error": err.Error()})
	}

	// Stable notification order keeps listener logs reproducible.
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.notify(k, changes[k], old[k])
	}
	return nil
}

func (s *Store) copyValuesLocked() map[string]bool {
	out := make(map[string]bool, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Store) notifyChanged(current, old map[string]bool) {
	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if current[k] != old[k] {
			s.notify(k, current[k], old[k])
		}
	}
}

func (s *Store) notify(key string, newValue, oldValue bool) {
	s.mu.RLock()
	registered := make([]Listener, 0, len(s.listeners[key]))
	for _, l := range s.listeners[key] {
		registered = append(registered, l)
	}
	s.mu.RUnlock()

	for _, l := range registered {
		s.invoke(l, key, newValue, oldValue)
	}
}

// invoke shields the store from listener panics: they are logged, never
// propagated.
func (s *Store) invoke(l Listener, key string, newValue, oldValue bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("FlagStore", "Flag listener panicked", map[string]interface{}{"key": key, "panic": fmt.Sprint(r)})
		}
	}()
	l(newValue, oldValue, key)
}
