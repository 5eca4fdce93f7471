package campaign

import (
	"strings"

	"sdcampaign/imagegen/sd"
)

// SeedMode selects how request seeds are derived.
type SeedMode string

const (
	// SeedModeFixed uses SeedFixed + index.
	SeedModeFixed SeedMode = "fixed"
	// SeedModeSite draws inside the band reserved for SiteID.
	SeedModeSite SeedMode = "site"
	// SeedModeRandom lets the WebUI choose.
	SeedModeRandom SeedMode = "random"
)

// ParseSeedMode maps a document value to a SeedMode. The second result is
// false for unknown values, which resolve to SeedModeRandom.
func ParseSeedMode(s string) (SeedMode, bool) {
	switch SeedMode(strings.ToLower(strings.TrimSpace(s))) {
	case SeedModeFixed:
		return SeedModeFixed, true
	case SeedModeSite:
		return SeedModeSite, true
	case SeedModeRandom, "":
		return SeedModeRandom, true
	default:
		return SeedModeRandom, false
	}
}

// CategorySpec is the resolved, read-only description of one category.
type CategorySpec struct {
	Name        string
	ImagesCount int
	BasePrompt  string

	// Keywords is the flat pool used when PromptBlocks is empty.
	Keywords []string

	// PromptBlocks maps slot names (scene, outfit, ...) to fragment pools.
	PromptBlocks map[string][]string

	OutputDir string

	// Overrides holds the allow-listed keys that were applied to Request.
	Overrides map[string]any

	SeedMode  SeedMode
	SeedFixed int64
	SiteID    int64

	// ADetailer is non-nil when the document enabled the extension.
	ADetailer *ADetailerSettings

	// Request is the defaults with Overrides applied. Prompt is empty; the
	// driver sets prompt and seed per request.
	Request sd.GenerationRequest

	// Source is the document path, empty when defaults were used.
	Source string
}

// ValidCategoryName reports whether name can be used as a file and directory
// component.
func ValidCategoryName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\:*?"<>|`)
}
