package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/tokenforge/rendercache/types"
)

func TestCharacterKey_StableForSameOptions(t *testing.T) {
	opts := types.DefaultGenerationOptions()

	key1 := CharacterKey("imp", opts)
	key2 := CharacterKey("imp", opts)

	assert.NotEmpty(t, key1)
	assert.Equal(t, key1, key2)
	assert.Contains(t, key1, "char:imp:")
}

func TestCharacterKey_VisualOptionChangesKey(t *testing.T) {
	base := types.DefaultGenerationOptions()
	changed := base
	changed.CharacterNameColor = "#ff0000"

	assert.NotEqual(t, CharacterKey("imp", base), CharacterKey("imp", changed))
}

func TestCharacterKey_NonVisualOptionKeepsKey(t *testing.T) {
	base := types.DefaultGenerationOptions()
	changed := base
	changed.TokenCount = 7
	changed.PageSize = "letter"
	changed.ExportFormat = "pdf"

	assert.Equal(t, CharacterKey("imp", base), CharacterKey("imp", changed))
}

func TestCharacterKey_DistinctCharacters(t *testing.T) {
	opts := types.DefaultGenerationOptions()
	assert.NotEqual(t, CharacterKey("imp", opts), CharacterKey("baron", opts))
}

// Property: the key depends on exactly the visual projection of the
// options. Mutating any layout/export field never changes the key;
// equal visual projections always hash identically.
func TestCharacterKey_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		opts := types.GenerationOptions{
			TokenDiameterMM:    rapid.IntRange(10, 80).Draw(t, "diameter"),
			BorderWidth:        rapid.IntRange(0, 10).Draw(t, "border"),
			BorderColor:        rapid.StringMatching(`#[0-9a-f]{6}`).Draw(t, "border_color"),
			CharacterNameColor: rapid.StringMatching(`#[0-9a-f]{6}`).Draw(t, "name_color"),
			AbilityTextColor:   rapid.StringMatching(`#[0-9a-f]{6}`).Draw(t, "ability_color"),
			TextureName:        rapid.SampledFrom([]string{"parchment", "linen", "plain"}).Draw(t, "texture"),
			ShowAbilityText:    rapid.Bool().Draw(t, "show_ability"),
			ShowCharacterName:  rapid.Bool().Draw(t, "show_name"),
			FontFamily:         rapid.SampledFrom([]string{"IM Fell English", "Georgia"}).Draw(t, "font"),
			TokenCount:         rapid.IntRange(1, 20).Draw(t, "count"),
			PageSize:           rapid.SampledFrom([]string{"a4", "letter"}).Draw(t, "page"),
			PageMarginMM:       rapid.IntRange(0, 30).Draw(t, "margin"),
			ExportFormat:       rapid.SampledFrom([]string{"png", "pdf", "zip"}).Draw(t, "format"),
		}
		id := rapid.StringMatching(`[a-z]{3,12}`).Draw(t, "id")

		key := CharacterKey(id, opts)

		// Churn every non-visual field.
		churned := opts
		churned.TokenCount = rapid.IntRange(1, 20).Draw(t, "count2")
		churned.PageSize = rapid.SampledFrom([]string{"a4", "letter"}).Draw(t, "page2")
		churned.PageMarginMM = rapid.IntRange(0, 30).Draw(t, "margin2")
		churned.ExportFormat = rapid.SampledFrom([]string{"png", "pdf", "zip"}).Draw(t, "format2")

		if got := CharacterKey(id, churned); got != key {
			t.Fatalf("non-visual churn changed key: %q -> %q", key, got)
		}

		// A visual change must change the key.
		visual := opts
		visual.BorderWidth = opts.BorderWidth + 1
		if got := CharacterKey(id, visual); got == key {
			t.Fatalf("visual change kept key %q", key)
		}
	})
}
