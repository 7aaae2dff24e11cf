package types

// GenerationOptions controls how tokens are drawn and exported. Only a
// subset of the fields changes per-token pixels; VisualFields names that
// subset so cache keys can ignore the rest (see cache.CharacterKey).
type GenerationOptions struct {
	// Visual: these affect rendered output for a single token.
	TokenDiameterMM    int    `json:"token_diameter_mm"`
	BorderWidth        int    `json:"border_width"`
	BorderColor        string `json:"border_color"`
	CharacterNameColor string `json:"character_name_color"`
	AbilityTextColor   string `json:"ability_text_color"`
	TextureName        string `json:"texture_name"`
	ShowAbilityText    bool   `json:"show_ability_text"`
	ShowCharacterName  bool   `json:"show_character_name"`
	FontFamily         string `json:"font_family"`

	// Layout/export only: irrelevant to per-token rendering.
	TokenCount   int    `json:"token_count"`
	PageSize     string `json:"page_size"`
	PageMarginMM int    `json:"page_margin_mm"`
	ExportFormat string `json:"export_format"`
}

// VisualOptions is the projection of GenerationOptions onto the fields
// that affect per-token pixels. Adding a field here widens the cache key;
// removing one risks serving stale renders, so keep it in sync with the
// drawing pipeline.
type VisualOptions struct {
	TokenDiameterMM    int    `json:"token_diameter_mm"`
	BorderWidth        int    `json:"border_width"`
	BorderColor        string `json:"border_color"`
	CharacterNameColor string `json:"character_name_color"`
	AbilityTextColor   string `json:"ability_text_color"`
	TextureName        string `json:"texture_name"`
	ShowAbilityText    bool   `json:"show_ability_text"`
	ShowCharacterName  bool   `json:"show_character_name"`
	FontFamily         string `json:"font_family"`
}

// Visual returns the visually relevant projection of o.
func (o GenerationOptions) Visual() VisualOptions {
	return VisualOptions{
		TokenDiameterMM:    o.TokenDiameterMM,
		BorderWidth:        o.BorderWidth,
		BorderColor:        o.BorderColor,
		CharacterNameColor: o.CharacterNameColor,
		AbilityTextColor:   o.AbilityTextColor,
		TextureName:        o.TextureName,
		ShowAbilityText:    o.ShowAbilityText,
		ShowCharacterName:  o.ShowCharacterName,
		FontFamily:         o.FontFamily,
	}
}

// DefaultGenerationOptions returns the options the editor starts with.
func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		TokenDiameterMM:    40,
		BorderWidth:        2,
		BorderColor:        "#000000",
		CharacterNameColor: "#ffffff",
		AbilityTextColor:   "#ffffff",
		TextureName:        "parchment",
		ShowAbilityText:    true,
		ShowCharacterName:  true,
		FontFamily:         "IM Fell English",
		TokenCount:         1,
		PageSize:           "a4",
		PageMarginMM:       10,
		ExportFormat:       "png",
	}
}
