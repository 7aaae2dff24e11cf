package prerender

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tokenforge/rendercache/cache"
)

// Manager is the registry of named stores and strategies, and the single
// dispatch point for pre-render contexts.
type Manager struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	stores     map[string]StoreHandle
	rendering  map[string]int // strategy name -> active invocations
	logger     *zap.Logger
}

// NewManager creates an empty Manager. logger may be nil.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		strategies: make(map[string]Strategy),
		stores:     make(map[string]StoreHandle),
		rendering:  make(map[string]int),
		logger:     logger.With(zap.String("component", "prerender_manager")),
	}
}

// RegisterStrategy adds a strategy. Registering a duplicate name is a
// wiring bug and panics.
func (m *Manager) RegisterStrategy(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.strategies[s.Name()]; exists {
		panic(fmt.Sprintf("prerender: strategy %q registered twice", s.Name()))
	}
	m.strategies[s.Name()] = s
	m.logger.Debug("strategy registered", zap.String("strategy", s.Name()), zap.Int("priority", s.Priority()))
}

// RegisterCache adds a store to the registry under its own name.
func (m *Manager) RegisterCache(h StoreHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.stores[h.Name()]; exists {
		panic(fmt.Sprintf("prerender: cache %q registered twice", h.Name()))
	}
	m.stores[h.Name()] = h
	m.logger.Debug("cache registered", zap.String("cache", h.Name()))
}

// Cache looks up a registered store by name.
func (m *Manager) Cache(name string) (StoreHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.stores[name]
	if !ok {
		return nil, fmt.Errorf("prerender: cache %q is not registered", name)
	}
	return h, nil
}

// Strategy looks up a registered strategy by name.
func (m *Manager) Strategy(name string) (Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.strategies[name]
	if !ok {
		return nil, fmt.Errorf("prerender: strategy %q is not registered", name)
	}
	return s, nil
}

// Caches returns every registered store handle.
func (m *Manager) Caches() []StoreHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]StoreHandle, 0, len(m.stores))
	for _, h := range m.stores {
		out = append(out, h)
	}
	return out
}

// PreRender dispatches pctx to every strategy whose ShouldTrigger
// accepts it, highest priority first. In this design exactly one
// strategy matches a given trigger, but the manager does not enforce
// exclusivity. The returned Result merges rendered/skipped counts.
func (m *Manager) PreRender(ctx context.Context, pctx *Context) (*Result, error) {
	m.mu.RLock()
	matched := make([]Strategy, 0, 1)
	for _, s := range m.strategies {
		if s.ShouldTrigger(pctx) {
			matched = append(matched, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Priority() > matched[j].Priority() })

	merged := &Result{Success: true}
	if len(matched) == 0 {
		m.logger.Debug("no strategy matched", zap.String("trigger", string(pctx.Trigger)))
		return merged, nil
	}

	var firstErr error
	for _, s := range matched {
		m.markRendering(s.Name(), +1)
		result, err := s.PreRender(ctx, pctx)
		m.markRendering(s.Name(), -1)

		if err != nil && firstErr == nil {
			firstErr = err
		}
		if result == nil {
			continue
		}
		merged.Rendered += result.Rendered
		merged.Skipped += result.Skipped
		if !result.Success {
			merged.Success = false
			merged.Err = result.Err
		}
		if len(result.Metadata) > 0 {
			if merged.Metadata == nil {
				merged.Metadata = make(map[string]any)
			}
			merged.Metadata[s.Name()] = result.Metadata
		}
	}
	return merged, firstErr
}

// IsStrategyRendering reports whether the named strategy has an active
// invocation; UI code uses it for spinners.
func (m *Manager) IsStrategyRendering(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rendering[name] > 0
}

// AllCacheStats recomputes statistics for every registered store.
func (m *Manager) AllCacheStats() map[string]cache.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]cache.Stats, len(m.stores))
	for name, h := range m.stores {
		out[name] = h.GetStats()
	}
	return out
}

// ClearAllCaches clears every registered store.
func (m *Manager) ClearAllCaches() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.stores {
		h.Clear()
	}
	m.logger.Info("all pre-render caches cleared", zap.Int("caches", len(m.stores)))
}

func (m *Manager) markRendering(name string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rendering[name] += delta
	if m.rendering[name] <= 0 {
		delete(m.rendering, name)
	}
}
