// Package models manages whisper GGML model files: a built-in catalog,
// concurrent downloads with progress events, checksum verification, and a
// manifest of what is installed.
package models

// CatalogEntry describes a known downloadable model. SHA1 is the upstream
// digest when published; entries without one are downloaded unverified and
// the computed digest is recorded in the manifest.
type CatalogEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
	SizeMB      int    `json:"size_mb"`
	SHA1        string `json:"sha1,omitempty"`
}

const hfBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

var catalog = []CatalogEntry{
	{
		ID:          "tiny",
		DisplayName: "Whisper Tiny (multilingual)",
		URL:         hfBase + "ggml-tiny.bin",
		SizeMB:      75,
		SHA1:        "bd577a113a864445d4c299885e0cb97d4ba92b5f",
	},
	{
		ID:          "tiny.en",
		DisplayName: "Whisper Tiny (English)",
		URL:         hfBase + "ggml-tiny.en.bin",
		SizeMB:      75,
	},
	{
		ID:          "base",
		DisplayName: "Whisper Base (multilingual)",
		URL:         hfBase + "ggml-base.bin",
		SizeMB:      142,
		SHA1:        "465707469ff3a37a2b9b8d8f89f2f99de7299dac",
	},
	{
		ID:          "base.en",
		DisplayName: "Whisper Base (English)",
		URL:         hfBase + "ggml-base.en.bin",
		SizeMB:      142,
	},
	{
		ID:          "small",
		DisplayName: "Whisper Small (multilingual)",
		URL:         hfBase + "ggml-small.bin",
		SizeMB:      466,
		SHA1:        "55356645c2b361a969dfd0ef2c5a50d530afd8d5",
	},
	{
		ID:          "small.en",
		DisplayName: "Whisper Small (English)",
		URL:         hfBase + "ggml-small.en.bin",
		SizeMB:      466,
	},
	{
		ID:          "medium",
		DisplayName: "Whisper Medium (multilingual)",
		URL:         hfBase + "ggml-medium.bin",
		SizeMB:      1533,
		SHA1:        "fd9727b6e1217c2f614f9b698455c4ffd82463b4",
	},
	{
		ID:          "large-v3",
		DisplayName: "Whisper Large v3",
		URL:         hfBase + "ggml-large-v3.bin",
		SizeMB:      3094,
		SHA1:        "ad82bf6a9043ceed055076d0fd39f5f186ff8062",
	},
	{
		ID:          "large-v3-turbo",
		DisplayName: "Whisper Large v3 Turbo",
		URL:         hfBase + "ggml-large-v3-turbo.bin",
		SizeMB:      1624,
		SHA1:        "4af2b29d7ec73d781377bfd1758ca957a807e941",
	},
}

// Catalog returns the built-in model catalog.
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a catalog entry by id.
func Lookup(id string) (CatalogEntry, bool) {
	for _, entry := range catalog {
		if entry.ID == id {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}
