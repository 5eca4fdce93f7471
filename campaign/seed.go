package campaign

import (
	"math"
	"math/rand/v2"
)

// RandomSeed asks the WebUI to pick its own seed.
const RandomSeed int64 = -1

// SiteBandWidth is the number of seeds reserved for each site id.
const SiteBandWidth int64 = 100000

// maxSiteID keeps the highest site band inside int64.
const maxSiteID = math.MaxInt64/SiteBandWidth - 1

// SeedStrategy derives request seeds. Not safe for concurrent use.
type SeedStrategy struct {
	rng *rand.Rand
}

// NewSeedStrategy creates a SeedStrategy. A nil rng is seeded from the runtime.
func NewSeedStrategy(rng *rand.Rand) *SeedStrategy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SeedStrategy{rng: rng}
}

// Seed returns the seed for the index-th image (1-based) of spec.
//
//	fixed   SeedFixed + index
//	site    a draw inside [id*100000, id*100000+99999], offset by index and
//	        wrapped so it never leaves the band
//	random  RandomSeed, or the document's explicit non-negative seed
func (s *SeedStrategy) Seed(spec CategorySpec, index int) int64 {
	switch spec.SeedMode {
	case SeedModeFixed:
		base := spec.SeedFixed
		if base < 0 {
			base = DefaultSeedFixed
		}
		if base > math.MaxInt64-int64(index) {
			return math.MaxInt64
		}
		return base + int64(index)

	case SeedModeSite:
		id := min(max(spec.SiteID, 0), maxSiteID)
		offset := (s.rng.Int64N(SiteBandWidth) + int64(index)) % SiteBandWidth
		return id*SiteBandWidth + offset

	default:
		if spec.Request.Seed >= 0 {
			return spec.Request.Seed
		}
		return RandomSeed
	}
}
