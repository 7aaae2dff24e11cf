// Package invalidation decouples "X changed" producers from "clear cache
// Y" consumers. Producers emit scoped events through the Coordinator;
// cache layers subscribe per scope and clear themselves. Delivery is
// best-effort and isolated: one broken listener never blocks the rest.
package invalidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scope identifies what kind of entity changed.
type Scope string

const (
	ScopeAsset     Scope = "asset"
	ScopeCharacter Scope = "character"
	ScopeProject   Scope = "project"
	ScopeGlobal    Scope = "global"

	// ScopeAll is a listener-only scope: such listeners receive every
	// event regardless of its scope. Events are never emitted with it.
	ScopeAll Scope = "all"
)

func validEmitScope(s Scope) bool {
	switch s {
	case ScopeAsset, ScopeCharacter, ScopeProject, ScopeGlobal:
		return true
	}
	return false
}

func validListenScope(s Scope) bool {
	return s == ScopeAll || validEmitScope(s)
}

// Reason records why entities were invalidated.
type Reason string

const (
	ReasonUpdate Reason = "update"
	ReasonDelete Reason = "delete"
	ReasonManual Reason = "manual"
)

// Event describes one invalidation. Immutable once emitted; the retained
// history is for diagnostics only and never consulted for correctness.
type Event struct {
	ID        string         `json:"id"`
	Scope     Scope          `json:"scope"`
	EntityIDs []string       `json:"entity_ids,omitempty"`
	Reason    Reason         `json:"reason"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Listener reacts to an event, typically by clearing a cache layer. An
// error (or panic) is logged and does not affect other listeners.
type Listener func(ctx context.Context, event Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id    string
	scope Scope
	c     *Coordinator
}

// Unsubscribe removes the listener. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if set, ok := s.c.listeners[s.scope]; ok {
		delete(set, s.id)
	}
}

const historyLimit = 100

// Coordinator is the scope-keyed publish/subscribe hub.
type Coordinator struct {
	mu        sync.RWMutex
	listeners map[Scope]map[string]Listener
	history   []Event // newest last, capped at historyLimit
	logger    *zap.Logger
}

// NewCoordinator creates a Coordinator. logger may be nil.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		listeners: make(map[Scope]map[string]Listener),
		logger:    logger.With(zap.String("component", "invalidation")),
	}
}

// Subscribe registers fn for scope (or ScopeAll for every event) and
// returns the handle used to unsubscribe. An unknown scope is a wiring
// bug and panics.
func (c *Coordinator) Subscribe(scope Scope, fn Listener) *Subscription {
	if !validListenScope(scope) {
		panic(fmt.Sprintf("invalidation: subscribe to unknown scope %q", scope))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	if c.listeners[scope] == nil {
		c.listeners[scope] = make(map[string]Listener)
	}
	c.listeners[scope][id] = fn

	c.logger.Debug("listener subscribed", zap.String("scope", string(scope)), zap.String("subscription", id))
	return &Subscription{id: id, scope: scope, c: c}
}

// InvalidateAsset emits an asset-scope event for one asset.
func (c *Coordinator) InvalidateAsset(ctx context.Context, id string, reason Reason, meta map[string]any) {
	c.Emit(ctx, Event{Scope: ScopeAsset, EntityIDs: []string{id}, Reason: reason, Metadata: meta})
}

// InvalidateAssets emits one asset-scope event covering several assets.
func (c *Coordinator) InvalidateAssets(ctx context.Context, ids []string, reason Reason, meta map[string]any) {
	c.Emit(ctx, Event{Scope: ScopeAsset, EntityIDs: ids, Reason: reason, Metadata: meta})
}

// InvalidateCharacter emits a character-scope event for one character.
func (c *Coordinator) InvalidateCharacter(ctx context.Context, id string, reason Reason, meta map[string]any) {
	c.Emit(ctx, Event{Scope: ScopeCharacter, EntityIDs: []string{id}, Reason: reason, Metadata: meta})
}

// InvalidateCharacters emits one character-scope event covering several
// characters.
func (c *Coordinator) InvalidateCharacters(ctx context.Context, ids []string, reason Reason, meta map[string]any) {
	c.Emit(ctx, Event{Scope: ScopeCharacter, EntityIDs: ids, Reason: reason, Metadata: meta})
}

// InvalidateProject emits a project-scope event.
func (c *Coordinator) InvalidateProject(ctx context.Context, id string, reason Reason, meta map[string]any) {
	c.Emit(ctx, Event{Scope: ScopeProject, EntityIDs: []string{id}, Reason: reason, Metadata: meta})
}

// InvalidateAll emits a global event.
func (c *Coordinator) InvalidateAll(ctx context.Context, reason Reason, meta map[string]any) {
	c.Emit(ctx, Event{Scope: ScopeGlobal, Reason: reason, Metadata: meta})
}

// Emit records the event and delivers it concurrently to the union of
// its scope's listeners and the ScopeAll listeners. Emit returns once
// every listener has finished or failed; failures are logged and do not
// affect other listeners or the emitter. Emitting with an unknown scope
// panics: that is a wiring bug, not a runtime condition.
func (c *Coordinator) Emit(ctx context.Context, event Event) {
	if !validEmitScope(event.Scope) {
		panic(fmt.Sprintf("invalidation: emit with unknown scope %q", event.Scope))
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.history = append(c.history, event)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
	targets := make([]Listener, 0, len(c.listeners[event.Scope])+len(c.listeners[ScopeAll]))
	for _, fn := range c.listeners[event.Scope] {
		targets = append(targets, fn)
	}
	for _, fn := range c.listeners[ScopeAll] {
		targets = append(targets, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("invalidation emitted",
		zap.String("event", event.ID),
		zap.String("scope", string(event.Scope)),
		zap.String("reason", string(event.Reason)),
		zap.Int("entities", len(event.EntityIDs)),
		zap.Int("listeners", len(targets)),
	)

	var wg sync.WaitGroup
	for _, fn := range targets {
		wg.Add(1)
		go func(fn Listener) {
			defer wg.Done()
			c.deliver(ctx, event, fn)
		}(fn)
	}
	wg.Wait()
}

func (c *Coordinator) deliver(ctx context.Context, event Event, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("invalidation listener panicked",
				zap.String("event", event.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := fn(ctx, event); err != nil {
		c.logger.Warn("invalidation listener failed",
			zap.String("event", event.ID),
			zap.String("scope", string(event.Scope)),
			zap.Error(err),
		)
	}
}

// History returns a copy of the retained events, oldest first.
func (c *Coordinator) History() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Event, len(c.history))
	copy(out, c.history)
	return out
}

// ListenerCount returns the number of listeners on scope.
func (c *Coordinator) ListenerCount(scope Scope) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners[scope])
}
