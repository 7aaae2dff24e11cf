package prerender

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokenforge/rendercache/cache"
	"github.com/tokenforge/rendercache/types"
)

// ProjectHoverConfig bounds the project-hover strategy.
type ProjectHoverConfig struct {
	MaxTokens        int `yaml:"max_tokens" json:"max_tokens"`
	BatchConcurrency int `yaml:"batch_concurrency" json:"batch_concurrency"`
}

// DefaultProjectHoverConfig returns the default bounds.
func DefaultProjectHoverConfig() ProjectHoverConfig {
	return ProjectHoverConfig{MaxTokens: 6, BatchConcurrency: 2}
}

// ProjectHoverStrategy pre-renders a project card's first tokens while
// the pointer rests on it. Hovering the same project again cancels the
// previous in-flight render: one cancellation handle per project id,
// cleared on completion. A cancelled render never writes to the store.
type ProjectHoverStrategy struct {
	store   *TokenStore
	encoder Encoder
	config  ProjectHoverConfig
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]*inflightRender
}

type inflightRender struct {
	cancel context.CancelFunc
}

// NewProjectHoverStrategy creates the strategy. logger may be nil.
func NewProjectHoverStrategy(store *TokenStore, encoder Encoder, config ProjectHoverConfig, logger *zap.Logger) *ProjectHoverStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectHoverStrategy{
		store:    store,
		encoder:  encoder,
		config:   config,
		logger:   logger.With(zap.String("component", "prerender"), zap.String("strategy", "project-hover")),
		inflight: make(map[string]*inflightRender),
	}
}

func (s *ProjectHoverStrategy) Name() string  { return "project-hover" }
func (s *ProjectHoverStrategy) Priority() int { return 40 }

// ShouldTrigger accepts project hover contexts that name a project.
func (s *ProjectHoverStrategy) ShouldTrigger(pctx *Context) bool {
	return pctx.Trigger == TriggerProjectHover &&
		pctx.ProjectID != "" &&
		len(pctx.Tokens) > 0
}

// Cancel abandons the in-flight render for projectID, if any. Best
// effort: the render stops at its next suspension point.
func (s *ProjectHoverStrategy) Cancel(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.inflight[projectID]; ok {
		r.cancel()
		delete(s.inflight, projectID)
	}
}

// InFlight reports whether a render for projectID is currently running.
func (s *ProjectHoverStrategy) InFlight(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[projectID]
	return ok
}

// PreRender renders the project's first tokens. Starting a render for a
// project cancels any render already in flight for the same project.
func (s *ProjectHoverStrategy) PreRender(ctx context.Context, pctx *Context) (*Result, error) {
	tokens := capTokens(pctx.Tokens, s.config.MaxTokens)
	rctx, handle := s.begin(ctx, pctx.ProjectID)
	defer s.finish(pctx.ProjectID, handle)

	result := &Result{Success: true}
	var work []types.Token
	for _, t := range tokens {
		if t.Surface == nil || s.store.Has(cache.TokenKey(t.Filename)) {
			result.Skipped++
			continue
		}
		work = append(work, t)
	}

	concurrency := s.config.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	failed := 0
	var resultMu sync.Mutex

	g, gctx := errgroup.WithContext(rctx)
	g.SetLimit(concurrency)
	for _, t := range work {
		t := t
		g.Go(func() error {
			data, err := s.encoder.Encode(gctx, t.Surface)
			if err != nil {
				resultMu.Lock()
				failed++
				resultMu.Unlock()
				if gctx.Err() == nil {
					s.logger.Warn("project token encode failed",
						zap.String("project", pctx.ProjectID),
						zap.String("token", t.Filename),
						zap.Error(err))
				}
				return nil
			}

			// Write and cancellation exclude each other: Cancel holds the
			// same lock, so a cancelled render can never slip a result in.
			s.mu.Lock()
			defer s.mu.Unlock()
			if rctx.Err() != nil {
				resultMu.Lock()
				failed++
				resultMu.Unlock()
				return nil
			}
			s.store.Set(cache.TokenKey(t.Filename), DataURL(data), cache.SetOptions{
				SizeBytes: len(data),
				Tags:      tokenTags(t, pctx.ProjectID),
			})
			resultMu.Lock()
			result.Rendered++
			resultMu.Unlock()
			return nil
		})
	}
	g.Wait()

	if failed > 0 {
		result.Metadata = map[string]any{"failed": failed}
	}
	if err := rctx.Err(); err != nil {
		result.Success = false
		result.Err = err
		return result, err
	}
	return result, nil
}

// begin cancels any in-flight render for projectID and registers a new
// one under the strategy lock.
func (s *ProjectHoverStrategy) begin(ctx context.Context, projectID string) (context.Context, *inflightRender) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.inflight[projectID]; ok {
		prev.cancel()
		s.logger.Debug("superseding in-flight project render", zap.String("project", projectID))
	}

	rctx, cancel := context.WithCancel(ctx)
	handle := &inflightRender{cancel: cancel}
	s.inflight[projectID] = handle
	return rctx, handle
}

// finish clears the registration if it is still ours, and releases the
// render context either way.
func (s *ProjectHoverStrategy) finish(projectID string, handle *inflightRender) {
	s.mu.Lock()
	if s.inflight[projectID] == handle {
		delete(s.inflight, projectID)
	}
	s.mu.Unlock()
	handle.cancel()
}
