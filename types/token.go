package types

import "context"

// Surface is a renderable drawing surface produced by the generation
// pipeline (a canvas in the browser host). Encode compresses the surface
// into image bytes; it is the expensive step the encode pool bounds.
type Surface interface {
	// Encode renders the surface to compressed image bytes (PNG/WebP).
	Encode(ctx context.Context) ([]byte, error)
}

// Token is a single printable token: one character on one themed disc.
// Filename is the stable identity used as its cache key.
type Token struct {
	Filename    string   `json:"filename"`
	CharacterID string   `json:"character_id,omitempty"`
	Team        string   `json:"team,omitempty"`
	Reminder    bool     `json:"reminder,omitempty"`
	Surface     Surface  `json:"-"`
	AssetIDs    []string `json:"asset_ids,omitempty"`
}

// Character is one entry of the game script the editor operates on.
type Character struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Team      string `json:"team"`
	Ability   string `json:"ability,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	IsLocal   bool   `json:"is_local,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// Project groups characters plus their generation options.
type Project struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Characters []Character `json:"characters,omitempty"`
	AssetIDs   []string    `json:"asset_ids,omitempty"`
}
