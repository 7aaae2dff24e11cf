// Package warming runs proactive cache-fill policies at lifecycle points
// (app start, project open). Policies are registered once at process
// start, hold no per-call state, and reuse the same pre-render entry
// points as live code paths.
package warming

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokenforge/rendercache/types"
)

// AppContext is the application state a policy inspects to decide
// whether and what to warm.
type AppContext struct {
	// ActiveRoute is the UI route, empty on the landing screen.
	ActiveRoute string

	// Project is the currently opened project, if any.
	Project *types.Project

	// Tokens are the renderable tokens of the opened project.
	Tokens []types.Token

	// RecentAssetURLs are derived-asset URLs used in recent sessions.
	RecentAssetURLs []string

	Options types.GenerationOptions
}

// Policy is one lifecycle-triggered proactive-fill routine.
type Policy interface {
	Name() string
	Priority() int
	ShouldWarm(app *AppContext) bool
	Warm(ctx context.Context, app *AppContext, progress types.ProgressFunc) error
}

// Result records one policy run.
type Result struct {
	Policy   string        `json:"policy"`
	Success  bool          `json:"success"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Engine holds the registered policies sorted by descending priority and
// executes the applicable ones sequentially: warming steps share limited
// bandwidth, so higher-priority work must not be starved by a peer.
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
	logger   *zap.Logger
}

// NewEngine creates an Engine. logger may be nil.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.With(zap.String("component", "warming"))}
}

// Register adds a policy, keeping the list sorted by priority.
func (e *Engine) Register(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = append(e.policies, p)
	sort.SliceStable(e.policies, func(i, j int) bool {
		return e.policies[i].Priority() > e.policies[j].Priority()
	})
	e.logger.Debug("warming policy registered",
		zap.String("policy", p.Name()), zap.Int("priority", p.Priority()))
}

// Warm runs every applicable policy in priority order. A policy that
// fails or panics yields a failed Result and never blocks the rest.
func (e *Engine) Warm(ctx context.Context, app *AppContext, progress types.ProgressFunc) []Result {
	e.mu.RLock()
	policies := make([]Policy, len(e.policies))
	copy(policies, e.policies)
	e.mu.RUnlock()

	var results []Result
	for _, p := range policies {
		if !p.ShouldWarm(app) {
			continue
		}
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Policy: p.Name(), Success: false, Err: err})
			continue
		}

		e.logger.Info("warming policy started", zap.String("policy", p.Name()))
		start := time.Now()
		err := e.run(ctx, p, app, progress)
		result := Result{
			Policy:   p.Name(),
			Success:  err == nil,
			Err:      err,
			Duration: time.Since(start),
		}
		results = append(results, result)

		if err != nil {
			e.logger.Warn("warming policy failed",
				zap.String("policy", p.Name()),
				zap.Duration("duration", result.Duration),
				zap.Error(err))
		} else {
			e.logger.Info("warming policy finished",
				zap.String("policy", p.Name()),
				zap.Duration("duration", result.Duration))
		}
	}
	return results
}

func (e *Engine) run(ctx context.Context, p Policy, app *AppContext, progress types.ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warming policy %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Warm(ctx, app, progress)
}
