package prerender

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokenforge/rendercache/cache"
	"github.com/tokenforge/rendercache/types"
)

// CharactersConfig bounds the characters strategy.
type CharactersConfig struct {
	MaxItems         int `yaml:"max_items" json:"max_items"`
	BatchConcurrency int `yaml:"batch_concurrency" json:"batch_concurrency"`
}

// DefaultCharactersConfig returns the default bounds.
func DefaultCharactersConfig() CharactersConfig {
	return CharactersConfig{MaxItems: 15, BatchConcurrency: 4}
}

// CharactersStrategy pre-renders per-character token variants under a
// composite key: character id plus the hash of the visually relevant
// generation options. Changing a layout-only option therefore keeps the
// cache warm, while changing a visual option misses and re-renders.
type CharactersStrategy struct {
	store   *TokenStore
	encoder Encoder
	config  CharactersConfig
	logger  *zap.Logger
}

// NewCharactersStrategy creates the strategy. logger may be nil.
func NewCharactersStrategy(store *TokenStore, encoder Encoder, config CharactersConfig, logger *zap.Logger) *CharactersStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CharactersStrategy{
		store:   store,
		encoder: encoder,
		config:  config,
		logger:  logger.With(zap.String("component", "prerender"), zap.String("strategy", "characters")),
	}
}

func (s *CharactersStrategy) Name() string  { return "characters" }
func (s *CharactersStrategy) Priority() int { return 80 }

// ShouldTrigger accepts character-change contexts carrying characters,
// options and the token surfaces to render.
func (s *CharactersStrategy) ShouldTrigger(pctx *Context) bool {
	return pctx.Trigger == TriggerCharactersChange &&
		len(pctx.Characters) > 0 &&
		pctx.Options != nil
}

// PreRender renders one variant per character, keyed by the composite
// visual-options key.
func (s *CharactersStrategy) PreRender(ctx context.Context, pctx *Context) (*Result, error) {
	chars := pctx.Characters
	if s.config.MaxItems > 0 && len(chars) > s.config.MaxItems {
		chars = chars[:s.config.MaxItems]
	}

	surfaces := surfacesByCharacter(pctx.Tokens)
	result := &Result{Success: true}

	type workItem struct {
		key   string
		char  types.Character
		token types.Token
	}
	var work []workItem
	for _, ch := range chars {
		key := cache.CharacterKey(ch.ID, *pctx.Options)
		token, ok := surfaces[ch.ID]
		if !ok || s.store.Has(key) {
			result.Skipped++
			continue
		}
		work = append(work, workItem{key: key, char: ch, token: token})
	}

	concurrency := s.config.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, w := range work {
		w := w
		g.Go(func() error {
			data, err := s.encoder.Encode(gctx, w.token.Surface)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Warn("character variant encode failed",
					zap.String("character", w.char.ID), zap.Error(err))
				return nil
			}
			s.store.Set(w.key, DataURL(data), cache.SetOptions{
				SizeBytes: len(data),
				Tags:      tokenTags(w.token, pctx.ProjectID),
			})
			result.Rendered++
			return nil
		})
	}
	g.Wait()

	if failed > 0 {
		result.Metadata = map[string]any{"failed": failed}
	}
	if err := ctx.Err(); err != nil {
		result.Success = false
		result.Err = err
		return result, err
	}
	return result, nil
}

// surfacesByCharacter indexes the context's renderable tokens by the
// character they depict, preferring the primary (non-reminder) token.
func surfacesByCharacter(tokens []types.Token) map[string]types.Token {
	out := make(map[string]types.Token, len(tokens))
	for _, t := range tokens {
		if t.Surface == nil || t.CharacterID == "" {
			continue
		}
		if existing, ok := out[t.CharacterID]; ok && !existing.Reminder {
			continue
		}
		out[t.CharacterID] = t
	}
	return out
}
