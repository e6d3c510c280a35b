package config

type ChunkingConfig struct {
	// MaxChunkSize is the hard upper bound on chunk content length in runes.
	// Every strategy, including forced slicing, must respect it.
	// Default: 1000
	MaxChunkSize int `json:"maxChunkSize,omitempty"`

	// MinChunkSize is the smallest span worth keeping as its own chunk.
	// Shorter inputs come back as a single chunk.
	// Default: 50
	MinChunkSize int `json:"minChunkSize,omitempty"`

	// SizeThresholds is the working-threshold ladder. The largest entry not
	// exceeding the input length becomes the target segment size; segments
	// are accepted when they fall within the acceptance band around it.
	// Default: [1000, 700, 500, 300, 200]
	SizeThresholds []int `json:"sizeThresholds,omitempty"`

	// AcceptanceBand bounds accepted segment sizes as multiples of the
	// working threshold: [band[0]*threshold, band[1]*threshold].
	// Default: [0.5, 2.0]
	AcceptanceBand [2]float64 `json:"acceptanceBand,omitempty"`

	// LowEntropyFloor: whole texts with Shannon entropy below this are
	// treated as uniform and kept as a single chunk when they fit.
	// Default: 2.0
	LowEntropyFloor float64 `json:"lowEntropyFloor,omitempty"`

	// EntropyDeltaThreshold is the minimum inter-window entropy change for a
	// position to become a boundary candidate.
	// Default: 0.5
	EntropyDeltaThreshold float64 `json:"entropyDeltaThreshold,omitempty"`

	// MaxBoundaryCandidates caps how many entropy-change candidates are kept
	// per pass, ranked by change magnitude.
	// Default: 5
	MaxBoundaryCandidates int `json:"maxBoundaryCandidates,omitempty"`

	// PerplexitySpikeThreshold is how far a window's perplexity must rise
	// above the running average to mark a topic boundary.
	// Default: 5.0
	PerplexitySpikeThreshold float64 `json:"perplexitySpikeThreshold,omitempty"`

	// MaxRecursion bounds re-segmentation of oversized refined spans. At the
	// bound the ladder terminates with forced slicing.
	// Default: 3
	MaxRecursion int `json:"maxRecursion,omitempty"`

	// RefineEnabled controls whether the generation collaborator is consulted
	// when entropy segmentation is rejected. Without it the ladder goes
	// straight to perplexity segmentation.
	// Default: true
	RefineEnabled bool `json:"refineEnabled,omitempty"`
}

// NewChunkingConfig returns the defaults used by the adaptive slicer.
func NewChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{
		MaxChunkSize:             1000,
		MinChunkSize:             50,
		SizeThresholds:           []int{1000, 700, 500, 300, 200},
		AcceptanceBand:           [2]float64{0.5, 2.0},
		LowEntropyFloor:          2.0,
		EntropyDeltaThreshold:    0.5,
		MaxBoundaryCandidates:    5,
		PerplexitySpikeThreshold: 5.0,
		MaxRecursion:             3,
		RefineEnabled:            true,
	}
}
