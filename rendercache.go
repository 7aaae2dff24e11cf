// Package rendercache composes the render cache subsystem behind a
// single facade. Hosts construct one Service at startup and route every
// cache interaction through it: pre-rendering, lookups, invalidation,
// warming and statistics. No other package reaches into the internal
// store/strategy topology.
package rendercache

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tokenforge/rendercache/cache"
	"github.com/tokenforge/rendercache/config"
	"github.com/tokenforge/rendercache/internal/metrics"
	"github.com/tokenforge/rendercache/invalidation"
	"github.com/tokenforge/rendercache/prerender"
	"github.com/tokenforge/rendercache/types"
	"github.com/tokenforge/rendercache/warming"
)

// Service is the subsystem facade.
type Service struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	manager     *prerender.Manager
	coordinator *invalidation.Coordinator
	engine      *warming.Engine
	encoder     prerender.Encoder

	tokenStores map[string]*prerender.TokenStore
	images      *prerender.ImageStore
	fonts       *cache.Store[string, float64]
	artifacts   *cache.ArtifactStore // nil when the tier is disabled

	loader types.ImageLoader
	assets types.AssetService
}

// Options carries the collaborators the Service composes around.
type Options struct {
	Config *config.Config

	// Loader is the browser image-decode primitive. Required.
	Loader types.ImageLoader

	// Assets is the asset storage service; optional, used by warming.
	Assets types.AssetService

	// Registerer receives the prometheus metrics; the default registerer
	// when nil.
	Registerer prometheus.Registerer

	Logger *zap.Logger
}

// New wires the full subsystem: stores, strategies, invalidation
// subscriptions and warming policies.
func New(opts Options) (*Service, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("rendercache: an image loader is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	collector := metrics.NewCollector(cfg.MetricsNamespace, opts.Registerer, logger)

	s := &Service{
		config:      cfg,
		logger:      logger.With(zap.String("component", "rendercache")),
		metrics:     collector,
		manager:     prerender.NewManager(logger),
		coordinator: invalidation.NewCoordinator(logger),
		engine:      warming.NewEngine(logger),
		encoder:     prerender.NewEncoder(cfg.Encoder),
		tokenStores: make(map[string]*prerender.TokenStore),
		loader:      opts.Loader,
		assets:      opts.Assets,
	}

	if cfg.Artifact.Enabled {
		artifacts, err := cache.NewArtifactStore(cfg.Artifact.ArtifactConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("rendercache: artifact tier: %w", err)
		}
		s.artifacts = artifacts
	}

	s.buildStores(collector)
	s.buildStrategies()
	s.buildSubscriptions()
	s.buildWarming()

	s.logger.Info("render cache initialized",
		zap.Int("encoder_workers", cfg.Encoder.Workers),
		zap.Bool("artifact_tier", cfg.Artifact.Enabled),
	)
	return s, nil
}

// Each strategy gets its dedicated token store; they share capacity and
// TTL settings but are cleared and inspected independently.
func (s *Service) buildStores(collector *metrics.Collector) {
	for _, name := range []string{"tokens-hover", "characters", "project-hover"} {
		sc := s.config.Tokens
		sc.Name = name
		store := cache.NewStore[string, string](sc, s.logger)
		store.SetRecorder(collector)
		s.tokenStores[name] = store
		s.manager.RegisterCache(store)
	}

	s.images = cache.NewStore[string, []byte](s.config.Images, s.logger)
	s.images.SetRecorder(collector)
	s.manager.RegisterCache(s.images)

	s.fonts = cache.NewStore[string, float64](s.config.Fonts, s.logger)
	s.fonts.SetRecorder(collector)
	s.manager.RegisterCache(s.fonts)
}

func (s *Service) buildStrategies() {
	sc := s.config.Strategies
	s.manager.RegisterStrategy(prerender.NewTokensHoverStrategy(
		s.tokenStores["tokens-hover"], s.encoder, sc.TokensHover, s.logger))
	s.manager.RegisterStrategy(prerender.NewCharactersStrategy(
		s.tokenStores["characters"], s.encoder, sc.Characters, s.logger))
	s.manager.RegisterStrategy(prerender.NewGalleryStrategy(
		s.images, s.loader, sc.Gallery, s.logger))
	s.manager.RegisterStrategy(prerender.NewProjectHoverStrategy(
		s.tokenStores["project-hover"], s.encoder, sc.ProjectHover, s.logger))
}

// Stores subscribe and clear themselves; the coordinator never owns them.
func (s *Service) buildSubscriptions() {
	tagStores := func() []interface{ InvalidateByTag(string) int } {
		out := make([]interface{ InvalidateByTag(string) int }, 0, len(s.tokenStores)+1)
		for _, st := range s.tokenStores {
			out = append(out, st)
		}
		out = append(out, s.images)
		return out
	}

	s.coordinator.Subscribe(invalidation.ScopeAsset, func(ctx context.Context, e invalidation.Event) error {
		for _, id := range e.EntityIDs {
			for _, st := range tagStores() {
				st.InvalidateByTag(cache.AssetTag(id))
			}
		}
		return nil
	})

	s.coordinator.Subscribe(invalidation.ScopeCharacter, func(ctx context.Context, e invalidation.Event) error {
		for _, id := range e.EntityIDs {
			for _, st := range tagStores() {
				st.InvalidateByTag(cache.CharacterTag(id))
			}
		}
		return nil
	})

	s.coordinator.Subscribe(invalidation.ScopeProject, func(ctx context.Context, e invalidation.Event) error {
		for _, id := range e.EntityIDs {
			for _, st := range tagStores() {
				st.InvalidateByTag(cache.ProjectTag(id))
			}
			if s.artifacts != nil {
				if _, err := s.artifacts.DeleteByPrefix(ctx, cache.ProjectKey(id)); err != nil {
					return err
				}
			}
		}
		return nil
	})

	s.coordinator.Subscribe(invalidation.ScopeGlobal, func(ctx context.Context, e invalidation.Event) error {
		s.manager.ClearAllCaches()
		if s.artifacts != nil {
			if _, err := s.artifacts.DeleteByPrefix(ctx, ""); err != nil {
				return err
			}
		}
		return nil
	})

	s.coordinator.Subscribe(invalidation.ScopeAll, func(ctx context.Context, e invalidation.Event) error {
		s.metrics.ObserveInvalidation(string(e.Scope))
		return nil
	})
}

func (s *Service) buildWarming() {
	s.engine.Register(warming.NewAppStartWarmingPolicy(s.loader, s.config.Warming, s.logger))
	s.engine.Register(warming.NewProjectOpenWarmingPolicy(
		s.manager, s.loader, s.assets, s.config.Warming, s.logger))
}

// CharacterImage returns the decoded portrait for ch, fetching and
// caching it on miss.
func (s *Service) CharacterImage(ctx context.Context, ch types.Character) ([]byte, error) {
	if ch.ImageURL == "" {
		return nil, fmt.Errorf("character %s has no image", ch.ID)
	}
	if entry := s.images.Get(ch.ImageURL); entry != nil {
		return entry.Value, nil
	}

	data, err := s.loader(ctx, ch.ImageURL, ch.IsLocal)
	if err != nil {
		return nil, fmt.Errorf("loading image for character %s: %w", ch.ID, err)
	}
	tags := []string{cache.CharacterTag(ch.ID)}
	if ch.ProjectID != "" {
		tags = append(tags, cache.ProjectTag(ch.ProjectID))
	}
	s.images.Set(ch.ImageURL, data, cache.SetOptions{SizeBytes: len(data), Tags: tags})
	return data, nil
}

// PreloadImages fetches urls into the image cache, returning how many
// loaded. Failures are logged and skipped.
func (s *Service) PreloadImages(ctx context.Context, urls []string, isLocal bool) int {
	loaded := 0
	for _, url := range urls {
		if s.images.Has(url) {
			loaded++
			continue
		}
		data, err := s.loader(ctx, url, isLocal)
		if err != nil {
			s.logger.Debug("image preload failed", zap.String("url", url), zap.Error(err))
			continue
		}
		s.images.Set(url, data, cache.SetOptions{SizeBytes: len(data)})
		loaded++
	}
	return loaded
}

// PreRenderedToken returns the cached data URL for filename. With a
// store name it checks that store only; otherwise it scans every token
// store. A miss returns ok=false; the caller falls back to on-demand
// rendering.
func (s *Service) PreRenderedToken(filename string, storeName ...string) (string, bool) {
	if len(storeName) > 0 {
		store, ok := s.tokenStores[storeName[0]]
		if !ok {
			s.logger.Error("unknown token store requested", zap.String("store", storeName[0]))
			return "", false
		}
		if entry := store.Get(cache.TokenKey(filename)); entry != nil {
			return entry.Value, true
		}
		return "", false
	}

	for _, store := range s.tokenStores {
		if entry := store.Get(cache.TokenKey(filename)); entry != nil {
			return entry.Value, true
		}
	}
	return "", false
}

// PreRender routes a pre-render context through the manager.
func (s *Service) PreRender(ctx context.Context, pctx *prerender.Context) (*prerender.Result, error) {
	start := time.Now()
	result, err := s.manager.PreRender(ctx, pctx)

	failed := 0
	if result != nil {
		for _, meta := range result.Metadata {
			if m, ok := meta.(map[string]any); ok {
				if n, ok := m["failed"].(int); ok {
					failed += n
				}
			}
		}
		s.metrics.ObservePreRender(string(pctx.Trigger), time.Since(start),
			result.Rendered, result.Skipped, failed)
	}
	return result, err
}

// TokenBatchEntry is one pre-encoded token handed over by the
// generation pipeline.
type TokenBatchEntry struct {
	Token   types.Token
	DataURL string
}

// CacheTokenBatch stores results the generation pipeline already
// produced, so an export immediately warms the hover path. Entries also
// flow into the artifact tier when it is enabled.
func (s *Service) CacheTokenBatch(ctx context.Context, projectID string, entries []TokenBatchEntry) {
	store := s.tokenStores["tokens-hover"]
	for _, e := range entries {
		tags := []string{}
		for _, id := range e.Token.AssetIDs {
			tags = append(tags, cache.AssetTag(id))
		}
		if e.Token.CharacterID != "" {
			tags = append(tags, cache.CharacterTag(e.Token.CharacterID))
		}
		if projectID != "" {
			tags = append(tags, cache.ProjectTag(projectID))
		}
		store.Set(cache.TokenKey(e.Token.Filename), e.DataURL, cache.SetOptions{
			SizeBytes: len(e.DataURL),
			Tags:      tags,
		})

		if s.artifacts != nil {
			key := cache.ProjectKey(projectID) + ":" + e.Token.Filename
			if err := s.artifacts.Put(ctx, key, []byte(e.DataURL), 0); err != nil {
				s.logger.Warn("artifact write failed", zap.String("token", e.Token.Filename), zap.Error(err))
			}
		}
	}
	s.logger.Debug("token batch cached", zap.Int("entries", len(entries)), zap.String("project", projectID))
}

// FontWidth returns a cached text measurement.
func (s *Service) FontWidth(key string) (float64, bool) {
	if entry := s.fonts.Get(key); entry != nil {
		return entry.Value, true
	}
	return 0, false
}

// StoreFontWidth caches a text measurement.
func (s *Service) StoreFontWidth(key string, width float64) {
	s.fonts.Set(key, width, cache.SetOptions{SizeBytes: 8})
}

// InvalidateAsset reports that an asset changed.
func (s *Service) InvalidateAsset(ctx context.Context, id string, reason invalidation.Reason) {
	s.coordinator.InvalidateAsset(ctx, id, reason, nil)
}

// InvalidateCharacter reports that a character changed.
func (s *Service) InvalidateCharacter(ctx context.Context, id string, reason invalidation.Reason) {
	s.coordinator.InvalidateCharacter(ctx, id, reason, nil)
}

// InvalidateProject reports that a project changed.
func (s *Service) InvalidateProject(ctx context.Context, id string, reason invalidation.Reason) {
	s.coordinator.InvalidateProject(ctx, id, reason, nil)
}

// Invalidate emits a manual event for an arbitrary scope.
func (s *Service) Invalidate(ctx context.Context, scope invalidation.Scope, ids ...string) {
	s.coordinator.Emit(ctx, invalidation.Event{
		Scope:     scope,
		EntityIDs: ids,
		Reason:    invalidation.ReasonManual,
	})
}

// Coordinator exposes the invalidation hub so additional cache layers
// can subscribe without modifying producers.
func (s *Service) Coordinator() *invalidation.Coordinator { return s.coordinator }

// Manager exposes the pre-render manager for UI liveness probes.
func (s *Service) Manager() *prerender.Manager { return s.manager }

// Warm runs the applicable warming policies for the given app state.
func (s *Service) Warm(ctx context.Context, app *warming.AppContext, progress types.ProgressFunc) []warming.Result {
	return s.engine.Warm(ctx, app, progress)
}

// ClearCache clears one named store. An unregistered name is a wiring
// bug and returns an error.
func (s *Service) ClearCache(name string) error {
	h, err := s.manager.Cache(name)
	if err != nil {
		return err
	}
	h.Clear()
	return nil
}

// ClearAll clears every in-memory store.
func (s *Service) ClearAll() {
	s.manager.ClearAllCaches()
}

// Summary merges per-store statistics.
type Summary struct {
	TotalEntries   int                    `json:"total_entries"`
	TotalSizeBytes int64                  `json:"total_size_bytes"`
	Stores         map[string]cache.Stats `json:"stores"`
}

// Stats recomputes and merges statistics across every store.
func (s *Service) Stats() Summary {
	stores := s.manager.AllCacheStats()
	summary := Summary{Stores: stores}
	for _, st := range stores {
		summary.TotalEntries += st.Size
		summary.TotalSizeBytes += st.MemoryUsageBytes
	}
	return summary
}

// Close shuts down the encode pool and the artifact tier.
func (s *Service) Close() error {
	s.encoder.Close()
	if s.artifacts != nil {
		return s.artifacts.Close()
	}
	return nil
}
