package campaign

import (
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
)

// DefaultPromptRetries bounds the draws spent looking for an unused prompt.
const DefaultPromptRetries = 30

// promptSeparator joins prompt fragments.
const promptSeparator = ", "

// slotOrder is the order prompt-block slots are drawn in. Slots not listed
// here follow in name order.
var slotOrder = []string{"scene", "outfit", "lighting", "color", "pose", "camera"}

// PromptSynthesizer produces prompts for one category run. It remembers every
// prompt it returned and retries to avoid exact repeats. Not safe for
// concurrent use.
type PromptSynthesizer struct {
	base       string
	keywords   []string
	slots      []string
	blocks     map[string][]string
	maxRetries int
	rng        *rand.Rand

	used    map[string]struct{}
	repeats int
}

// NewPromptSynthesizer creates a synthesizer for spec. maxRetries <= 0 uses
// DefaultPromptRetries; a nil rng is seeded from the runtime.
func NewPromptSynthesizer(spec CategorySpec, maxRetries int, rng *rand.Rand) *PromptSynthesizer {
	if maxRetries <= 0 {
		maxRetries = DefaultPromptRetries
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &PromptSynthesizer{
		base:       strings.TrimSpace(spec.BasePrompt),
		keywords:   spec.Keywords,
		slots:      orderedSlots(spec.PromptBlocks),
		blocks:     spec.PromptBlocks,
		maxRetries: maxRetries,
		rng:        rng,
		used:       map[string]struct{}{},
	}
}

// Next returns the next prompt. When every retry produced a prompt already
// used in this run, the last draw is returned anyway.
func (p *PromptSynthesizer) Next() string {
	if len(p.slots) == 0 && len(p.keywords) == 0 {
		return p.base
	}

	var prompt string
	for range p.maxRetries {
		prompt = p.draw()
		if _, seen := p.used[prompt]; !seen {
			p.used[prompt] = struct{}{}
			return prompt
		}
	}
	p.repeats++
	return prompt
}

// Repeats is the number of prompts returned despite being used before.
func (p *PromptSynthesizer) Repeats() int {
	return p.repeats
}

func (p *PromptSynthesizer) draw() string {
	if len(p.slots) == 0 {
		return joinPrompt(p.base, p.keywords[p.rng.IntN(len(p.keywords))])
	}

	parts := make([]string, 0, len(p.slots)+1)
	seen := make(map[string]struct{}, len(p.slots)+1)
	add := func(fragment string) {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			return
		}
		if _, dup := seen[fragment]; dup {
			return
		}
		seen[fragment] = struct{}{}
		parts = append(parts, fragment)
	}

	add(p.base)
	for _, slot := range p.slots {
		pool := p.blocks[slot]
		add(pool[p.rng.IntN(len(pool))])
	}
	return strings.Join(parts, promptSeparator)
}

// orderedSlots returns the populated slots of blocks in draw order.
func orderedSlots(blocks map[string][]string) []string {
	var slots []string
	for _, slot := range slotOrder {
		if len(blocks[slot]) > 0 {
			slots = append(slots, slot)
		}
	}
	for _, slot := range slices.Sorted(maps.Keys(blocks)) {
		if len(blocks[slot]) > 0 && !slices.Contains(slotOrder, slot) {
			slots = append(slots, slot)
		}
	}
	return slots
}

func joinPrompt(base, keyword string) string {
	keyword = strings.TrimSpace(keyword)
	switch {
	case base == "":
		return keyword
	case keyword == "":
		return base
	default:
		return base + promptSeparator + keyword
	}
}
