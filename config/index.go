package config

import "time"

type IndexConfig struct {
	// MinImportance is the node eligibility floor: active units at or above
	// it get a graph node.
	// Default: 0.05
	MinImportance float64 `json:"minImportance,omitempty"`

	// SimilarityThreshold is the cosine floor for semantic edges.
	// Default: 0.3
	SimilarityThreshold float64 `json:"similarityThreshold,omitempty"`

	// TemporalWindow bounds temporal-adjacency edges; units created further
	// apart than this are not temporally related.
	// Default: 1h
	TemporalWindow time.Duration `json:"temporalWindow,omitempty"`

	// EdgeWeights scales each relation's native strength into the final edge
	// weight. Keys are the closed relation set.
	// Default: semantic 0.8, hierarchy 0.6, temporal 1.0
	SemanticWeight  float64 `json:"semanticWeight,omitempty"`
	HierarchyWeight float64 `json:"hierarchyWeight,omitempty"`
	TemporalWeight  float64 `json:"temporalWeight,omitempty"`

	// BuildBatchSize is the checkpoint granularity of a rebuild: the build
	// is cancellable between batches and resumes from the last completed one.
	// Default: 200
	BuildBatchSize int `json:"buildBatchSize,omitempty"`

	// FocusMaxNodes caps a focus view when the scope does not say otherwise.
	// Default: 200
	FocusMaxNodes int `json:"focusMaxNodes,omitempty"`

	// FocusCacheSize / FocusCacheTTL shape the expiring cache of sampled
	// focus views.
	// Default: 64 entries, 30s
	FocusCacheSize int           `json:"focusCacheSize,omitempty"`
	FocusCacheTTL  time.Duration `json:"focusCacheTTL,omitempty"`
}

// NewIndexConfig creates an IndexConfig with defaults tuned for
// conversation-sized memory sets.
func NewIndexConfig() *IndexConfig {
	return &IndexConfig{
		MinImportance:       0.05,
		SimilarityThreshold: 0.3,
		TemporalWindow:      time.Hour,
		SemanticWeight:      0.8,
		HierarchyWeight:     0.6,
		TemporalWeight:      1.0,
		BuildBatchSize:      200,
		FocusMaxNodes:       200,
		FocusCacheSize:      64,
		FocusCacheTTL:       30 * time.Second,
	}
}
