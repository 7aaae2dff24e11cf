package prerender

import (
	"encoding/base64"

	"github.com/tokenforge/rendercache/types"
)

// Trigger is the kind of UI event that produced a Context.
type Trigger string

const (
	// TriggerTokensHover fires when the pointer rests on the token sheet.
	TriggerTokensHover Trigger = "tokens-hover"

	// TriggerGalleryView fires when the character gallery scrolls into view.
	TriggerGalleryView Trigger = "gallery-view"

	// TriggerCharactersChange fires after the character list is edited.
	TriggerCharactersChange Trigger = "characters-change"

	// TriggerProjectHover fires when the pointer rests on a project card.
	TriggerProjectHover Trigger = "project-hover"

	// TriggerProjectOpen fires when a project is opened; used by warming.
	TriggerProjectOpen Trigger = "project-open"
)

// Context describes what might be viewed soon. It is constructed per
// call and never stored.
type Context struct {
	Trigger    Trigger
	Tokens     []types.Token
	Characters []types.Character
	ProjectID  string
	Options    *types.GenerationOptions
}

// Result aggregates one strategy invocation.
type Result struct {
	Success  bool           `json:"success"`
	Rendered int            `json:"rendered"`
	Skipped  int            `json:"skipped"`
	Err      error          `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DataURL wraps encoded image bytes into the data-URL form the UI
// consumes directly as an <img> source.
func DataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}
