package warming

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokenforge/rendercache/prerender"
	"github.com/tokenforge/rendercache/types"
)

// PolicyConfig carries the knobs shared by the concrete policies.
type PolicyConfig struct {
	// CommonItemURLs is the fixed list the app-start policy always warms.
	CommonItemURLs []string `yaml:"common_item_urls" json:"common_item_urls"`

	// ProjectOpenTokenCount is how many tokens the project-open policy
	// pre-renders.
	ProjectOpenTokenCount int `yaml:"project_open_token_count" json:"project_open_token_count"`

	// PreloadPerSecond paces image preloads so background warming cannot
	// saturate the loader. Zero disables pacing.
	PreloadPerSecond float64 `yaml:"preload_per_second" json:"preload_per_second"`
}

// DefaultPolicyConfig returns the default warming knobs.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		ProjectOpenTokenCount: 5,
		PreloadPerSecond:      20,
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// preload fetches urls through loader at the paced rate, reporting
// progress. Failures are counted, not fatal.
func preload(ctx context.Context, loader types.ImageLoader, limiter *rate.Limiter, urls []string, isLocal bool, loaded *int, total int, message string, progress types.ProgressFunc, logger *zap.Logger) error {
	for _, url := range urls {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := loader(ctx, url, isLocal); err != nil {
			logger.Debug("preload failed", zap.String("url", url), zap.Error(err))
		}
		*loaded++
		if progress != nil {
			progress(*loaded, total, message)
		}
	}
	return nil
}

// AppStartWarmingPolicy warms the fixed common-items list plus recently
// used derived-asset URLs. It applies when no specific route is active.
type AppStartWarmingPolicy struct {
	loader  types.ImageLoader
	config  PolicyConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAppStartWarmingPolicy creates the policy. logger may be nil.
func NewAppStartWarmingPolicy(loader types.ImageLoader, config PolicyConfig, logger *zap.Logger) *AppStartWarmingPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppStartWarmingPolicy{
		loader:  loader,
		config:  config,
		limiter: newLimiter(config.PreloadPerSecond),
		logger:  logger.With(zap.String("component", "warming"), zap.String("policy", "app-start")),
	}
}

func (p *AppStartWarmingPolicy) Name() string  { return "app-start" }
func (p *AppStartWarmingPolicy) Priority() int { return 100 }

// ShouldWarm applies on the landing screen only.
func (p *AppStartWarmingPolicy) ShouldWarm(app *AppContext) bool {
	return app.ActiveRoute == ""
}

// Warm preloads the common items, then the recent derived assets.
func (p *AppStartWarmingPolicy) Warm(ctx context.Context, app *AppContext, progress types.ProgressFunc) error {
	total := len(p.config.CommonItemURLs) + len(app.RecentAssetURLs)
	if total == 0 {
		return nil
	}
	loaded := 0

	if err := preload(ctx, p.loader, p.limiter, p.config.CommonItemURLs, false, &loaded, total, "Loading common images", progress, p.logger); err != nil {
		return err
	}
	return preload(ctx, p.loader, p.limiter, app.RecentAssetURLs, true, &loaded, total, "Loading recent assets", progress, p.logger)
}

// ProjectOpenWarmingPolicy warms an opened project: character portraits,
// project-scoped assets, then the first few tokens through the same
// pre-render dispatch used by live hover paths.
type ProjectOpenWarmingPolicy struct {
	manager *prerender.Manager
	loader  types.ImageLoader
	assets  types.AssetService
	config  PolicyConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewProjectOpenWarmingPolicy creates the policy. assets and logger may
// be nil; without an asset service the asset step is skipped.
func NewProjectOpenWarmingPolicy(manager *prerender.Manager, loader types.ImageLoader, assets types.AssetService, config PolicyConfig, logger *zap.Logger) *ProjectOpenWarmingPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectOpenWarmingPolicy{
		manager: manager,
		loader:  loader,
		assets:  assets,
		config:  config,
		limiter: newLimiter(config.PreloadPerSecond),
		logger:  logger.With(zap.String("component", "warming"), zap.String("policy", "project-open")),
	}
}

func (p *ProjectOpenWarmingPolicy) Name() string  { return "project-open" }
func (p *ProjectOpenWarmingPolicy) Priority() int { return 50 }

// ShouldWarm applies when a project with characters is opened.
func (p *ProjectOpenWarmingPolicy) ShouldWarm(app *AppContext) bool {
	return app.Project != nil && len(app.Project.Characters) > 0
}

// Warm runs the three sub-steps in order; each is individually bounded.
func (p *ProjectOpenWarmingPolicy) Warm(ctx context.Context, app *AppContext, progress types.ProgressFunc) error {
	var urls []string
	for _, ch := range app.Project.Characters {
		if ch.ImageURL != "" {
			urls = append(urls, ch.ImageURL)
		}
	}

	assetURLs, err := p.projectAssetURLs(ctx, app.Project.ID)
	if err != nil {
		return err
	}

	tokens := app.Tokens
	if n := p.config.ProjectOpenTokenCount; n > 0 && len(tokens) > n {
		tokens = tokens[:n]
	}

	total := len(urls) + len(assetURLs) + len(tokens)
	if total == 0 {
		return nil
	}
	loaded := 0

	if err := preload(ctx, p.loader, p.limiter, urls, false, &loaded, total, "Loading character images", progress, p.logger); err != nil {
		return err
	}
	if err := preload(ctx, p.loader, p.limiter, assetURLs, true, &loaded, total, "Loading project assets", progress, p.logger); err != nil {
		return err
	}

	opts := app.Options
	result, err := p.manager.PreRender(ctx, &prerender.Context{
		Trigger:   prerender.TriggerTokensHover,
		Tokens:    tokens,
		ProjectID: app.Project.ID,
		Options:   &opts,
	})
	if err != nil {
		return fmt.Errorf("token pre-render step failed: %w", err)
	}

	loaded += len(tokens)
	if progress != nil {
		progress(loaded, total, "Pre-rendering tokens")
	}
	p.logger.Debug("project warmed",
		zap.String("project", app.Project.ID),
		zap.Int("rendered", result.Rendered),
		zap.Int("skipped", result.Skipped))
	return nil
}

func (p *ProjectOpenWarmingPolicy) projectAssetURLs(ctx context.Context, projectID string) ([]string, error) {
	if p.assets == nil {
		return nil, nil
	}
	assets, err := p.assets.List(ctx, types.AssetFilter{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("listing project assets: %w", err)
	}
	urls := make([]string, 0, len(assets))
	for _, a := range assets {
		url, err := p.assets.AssetURL(ctx, a.ID)
		if err != nil {
			p.logger.Debug("asset url lookup failed", zap.String("asset", a.ID), zap.Error(err))
			continue
		}
		urls = append(urls, url)
	}
	return urls, nil
}
