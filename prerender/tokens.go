package prerender

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokenforge/rendercache/cache"
	"github.com/tokenforge/rendercache/types"
)

// TokensHoverConfig bounds the hover strategy's proactive work.
type TokensHoverConfig struct {
	// MaxItems caps how many tokens one hover may pre-render.
	MaxItems int `yaml:"max_items" json:"max_items"`

	// BatchConcurrency limits goroutines dispatching into the encoder.
	BatchConcurrency int `yaml:"batch_concurrency" json:"batch_concurrency"`
}

// DefaultTokensHoverConfig returns the default hover bounds.
func DefaultTokensHoverConfig() TokensHoverConfig {
	return TokensHoverConfig{MaxItems: 20, BatchConcurrency: 4}
}

// TokensHoverStrategy pre-renders the tokens under the pointer into data
// URLs so the token sheet paints instantly.
type TokensHoverStrategy struct {
	store   *TokenStore
	encoder Encoder
	config  TokensHoverConfig
	logger  *zap.Logger
}

// NewTokensHoverStrategy creates the hover strategy. logger may be nil.
func NewTokensHoverStrategy(store *TokenStore, encoder Encoder, config TokensHoverConfig, logger *zap.Logger) *TokensHoverStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokensHoverStrategy{
		store:   store,
		encoder: encoder,
		config:  config,
		logger:  logger.With(zap.String("component", "prerender"), zap.String("strategy", "tokens-hover")),
	}
}

func (s *TokensHoverStrategy) Name() string  { return "tokens-hover" }
func (s *TokensHoverStrategy) Priority() int { return 100 }

// ShouldTrigger accepts hover contexts that carry tokens.
func (s *TokensHoverStrategy) ShouldTrigger(pctx *Context) bool {
	return pctx.Trigger == TriggerTokensHover && len(pctx.Tokens) > 0
}

// PreRender encodes the uncached tokens, bounded by MaxItems. Already
// cached tokens are skipped, so re-running on a warm context performs
// zero encodes. One token failing never aborts the batch.
func (s *TokensHoverStrategy) PreRender(ctx context.Context, pctx *Context) (*Result, error) {
	items := capTokens(pctx.Tokens, s.config.MaxItems)

	result := &Result{Success: true}
	var work []types.Token
	for _, t := range items {
		if t.Surface == nil || s.store.Has(cache.TokenKey(t.Filename)) {
			result.Skipped++
			continue
		}
		work = append(work, t)
	}

	failed := encodeTokens(ctx, s.encoder, s.store, work, pctx, s.config.BatchConcurrency, result, s.logger)
	if failed > 0 {
		result.Metadata = map[string]any{"failed": failed}
	}
	if err := ctx.Err(); err != nil {
		result.Success = false
		result.Err = err
		return result, err
	}

	s.logger.Debug("hover pre-render done",
		zap.Int("rendered", result.Rendered),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", failed),
	)
	return result, nil
}

// capTokens bounds proactive work to the first n tokens.
func capTokens(tokens []types.Token, n int) []types.Token {
	if n > 0 && len(tokens) > n {
		return tokens[:n]
	}
	return tokens
}

// tokenTags labels an entry with everything that can invalidate it.
func tokenTags(t types.Token, projectID string) []string {
	var tags []string
	for _, id := range t.AssetIDs {
		tags = append(tags, cache.AssetTag(id))
	}
	if t.CharacterID != "" {
		tags = append(tags, cache.CharacterTag(t.CharacterID))
	}
	if projectID != "" {
		tags = append(tags, cache.ProjectTag(projectID))
	}
	return tags
}

// encodeTokens dispatches the work set into the encoder with settle-all
// semantics and writes successes into store keyed by token filename.
// It returns the failure count; result.Rendered is updated in place.
func encodeTokens(ctx context.Context, encoder Encoder, store *TokenStore, work []types.Token, pctx *Context, concurrency int, result *Result, logger *zap.Logger) int {
	if len(work) == 0 {
		return 0
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, t := range work {
		t := t
		g.Go(func() error {
			data, err := encoder.Encode(gctx, t.Surface)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.Warn("token encode failed", zap.String("token", t.Filename), zap.Error(err))
				return nil // settle-all: never abort the batch
			}
			store.Set(cache.TokenKey(t.Filename), DataURL(data), cache.SetOptions{
				SizeBytes: len(data),
				Tags:      tokenTags(t, pctx.ProjectID),
			})
			result.Rendered++
			return nil
		})
	}
	g.Wait() // closures never return errors
	return failed
}
