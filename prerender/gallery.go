package prerender

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokenforge/rendercache/cache"
	"github.com/tokenforge/rendercache/types"
)

// GalleryConfig bounds the gallery strategy.
type GalleryConfig struct {
	MaxItems         int `yaml:"max_items" json:"max_items"`
	BatchConcurrency int `yaml:"batch_concurrency" json:"batch_concurrency"`
}

// DefaultGalleryConfig returns the default bounds.
func DefaultGalleryConfig() GalleryConfig {
	return GalleryConfig{MaxItems: 50, BatchConcurrency: 6}
}

// GalleryStrategy preloads character portrait images for the gallery
// view. Fetching is I/O-bound, not CPU-bound, so it runs in
// concurrency-limited batches on the calling flow instead of going
// through the encode pool.
type GalleryStrategy struct {
	store  *ImageStore
	loader types.ImageLoader
	config GalleryConfig
	logger *zap.Logger
}

// NewGalleryStrategy creates the strategy. logger may be nil.
func NewGalleryStrategy(store *ImageStore, loader types.ImageLoader, config GalleryConfig, logger *zap.Logger) *GalleryStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GalleryStrategy{
		store:  store,
		loader: loader,
		config: config,
		logger: logger.With(zap.String("component", "prerender"), zap.String("strategy", "gallery")),
	}
}

func (s *GalleryStrategy) Name() string  { return "gallery" }
func (s *GalleryStrategy) Priority() int { return 60 }

// ShouldTrigger accepts gallery contexts carrying characters with images.
func (s *GalleryStrategy) ShouldTrigger(pctx *Context) bool {
	return pctx.Trigger == TriggerGalleryView && len(pctx.Characters) > 0
}

// PreRender fetches the uncached portraits, bounded by MaxItems.
func (s *GalleryStrategy) PreRender(ctx context.Context, pctx *Context) (*Result, error) {
	chars := pctx.Characters
	if s.config.MaxItems > 0 && len(chars) > s.config.MaxItems {
		chars = chars[:s.config.MaxItems]
	}

	result := &Result{Success: true}
	var work []types.Character
	for _, ch := range chars {
		if ch.ImageURL == "" || s.store.Has(ch.ImageURL) {
			result.Skipped++
			continue
		}
		work = append(work, ch)
	}

	concurrency := s.config.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, ch := range work {
		ch := ch
		g.Go(func() error {
			data, err := s.loader(gctx, ch.ImageURL, ch.IsLocal)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Warn("portrait preload failed",
					zap.String("character", ch.ID), zap.Error(err))
				return nil
			}
			s.store.Set(ch.ImageURL, data, cache.SetOptions{
				SizeBytes: len(data),
				Tags:      galleryTags(ch, pctx.ProjectID),
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

func galleryTags(ch types.Character, projectID string) []string {
	tags := []string{cache.CharacterTag(ch.ID)}
	if projectID != "" {
		tags = append(tags, cache.ProjectTag(projectID))
	} else if ch.ProjectID != "" {
		tags = append(tags, cache.ProjectTag(ch.ProjectID))
	}
	return tags
}
