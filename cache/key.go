package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tokenforge/rendercache/types"
)

// CharacterKey builds the composite cache key for one character rendered
// under the given options: the character id plus a hash of the visually
// relevant option subset. Options that do not change per-token pixels
// (page layout, export format, token count) do not change the key.
func CharacterKey(characterID string, opts types.GenerationOptions) string {
	return "char:" + characterID + ":" + VisualOptionsHash(opts)
}

// VisualOptionsHash hashes the visual projection of opts. The hash is
// sha256 truncated to 16 bytes; the contract is only "stable key for
// stable options", not a particular algorithm.
func VisualOptionsHash(opts types.GenerationOptions) string {
	data, err := json.Marshal(opts.Visual())
	if err != nil {
		// Marshal of a flat value struct cannot fail; keep a deterministic
		// fallback anyway so a key is always produced.
		data = []byte(fmt.Sprintf("%+v", opts.Visual()))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// TokenKey is the cache key for a fully specified token. Token filenames
// already encode character and variant, so they are used as-is.
func TokenKey(filename string) string { return filename }

// ProjectKey is the cache key for a project-level artifact (card preview).
func ProjectKey(projectID string) string { return "project:" + projectID }

// AssetTag tags entries derived from one asset for bulk invalidation.
func AssetTag(assetID string) string { return "asset:" + assetID }

// CharacterTag tags entries derived from one character.
func CharacterTag(characterID string) string { return "character:" + characterID }

// ProjectTag tags entries belonging to one project.
func ProjectTag(projectID string) string { return "project:" + projectID }
