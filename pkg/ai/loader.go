package ai

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/pkg/flags"
)

// Factory builds the real service bundle. It is invoked at most once per
// loader lifetime (until Reset).
type Factory func() (Services, error)

// Loader lazily constructs the AI bundle exactly once and guarantees the
// caller always receives some usable implementation. A failed load flips the
// platform into safe mode and caches the fallback bundle.
type Loader struct {
	mu      sync.Mutex
	cached  Services
	factory Factory
	flags   flags.Registry
	group   singleflight.Group
	logger  logger.ILogger
}

func NewLoader(factory Factory, registry flags.Registry, log logger.ILogger) *Loader {
	return &Loader{
		factory: factory,
		flags:   registry,
		logger:  log,
	}
}

// Load returns the cached bundle when present. When the module flag is off it
// returns the fallback immediately without attempting (or caching) a load, so
// re-enabling the flag later still gets a real attempt. Concurrent callers
// share a single outstanding load.
func (l *Loader) Load(ctx context.Context) Services {
	l.mu.Lock()
	if l.cached != nil {
		cached := l.cached
		l.mu.Unlock()
		return cached
	}
	l.mu.Unlock()

	if !l.flags.IsEnabled(flags.KeyModuleEnabled) {
		return Fallback()
	}

	result, _, _ := l.group.Do("load", func() (interface{}, error) {
		services, err := l.factory()
		if err != nil {
			l.logger.Error("ServiceLoader", "AI bundle load failed, entering safe mode", map[string]interface{}{"error": err.Error()})
			if smErr := l.flags.EnableSafeMode(ctx); smErr != nil {
				l.logger.Error("ServiceLoader", "Failed to enable safe mode", map[string]interface{}{"error": smErr.Error()})
			}
			services = Fallback()
		}

		l.mu.Lock()
		l.cached = services
		l.mu.Unlock()
		return services, nil
	})
	return result.(Services)
}

// Reset clears the cache so the next Load retries the real bundle.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cached = nil
}
