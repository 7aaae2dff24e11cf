package types

import "context"

// ImageLoader is the browser image-decode primitive behind preloading.
// isLocal distinguishes project-uploaded assets from remote URLs.
type ImageLoader func(ctx context.Context, url string, isLocal bool) ([]byte, error)

// Asset is a derived or uploaded binary referenced by tokens.
type Asset struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"` // icon | texture | font
	ProjectID string `json:"project_id,omitempty"`
}

// AssetFilter narrows AssetService.List results.
type AssetFilter struct {
	ProjectID string
	Kind      string
}

// AssetService is the asset storage collaborator. The cache never owns
// assets; it only derives artifacts from them.
type AssetService interface {
	List(ctx context.Context, filter AssetFilter) ([]Asset, error)
	AssetURL(ctx context.Context, id string) (string, error)
}

// ProgressFunc reports background progress so the UI can render a
// non-blocking affordance. Implementations must be cheap and non-blocking.
type ProgressFunc func(loaded, total int, message string)
