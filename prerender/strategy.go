package prerender

import (
	"context"

	"github.com/tokenforge/rendercache/cache"
)

// Strategy is a named, reactive pre-render unit. ShouldTrigger is a pure
// predicate over the context; PreRender does the bounded work.
type Strategy interface {
	Name() string
	Priority() int
	ShouldTrigger(pctx *Context) bool
	PreRender(ctx context.Context, pctx *Context) (*Result, error)
}

// StoreHandle is the type-erased view of a cache.Store the Manager keeps
// in its registry. Concrete stores keep their typed API for callers that
// own them.
type StoreHandle interface {
	Name() string
	Clear()
	GetStats() cache.Stats
	InvalidateByTag(tag string) int
}

// TokenStore is the concrete store type strategies fill: token filename
// (or composite key) to data URL.
type TokenStore = cache.Store[string, string]

// ImageStore caches decoded image bytes by URL or character id.
type ImageStore = cache.Store[string, []byte]
