package config

import "time"

type StoreConfig struct {
	// SqlitePath specifies the file path for the SQLite database.
	// Default: ":memory:"
	SqlitePath string `json:"sqlitePath,omitempty"`

	// VectorDimension is the embedding dimension of the vec0 table. Must
	// match the embedding collaborator's output.
	// Default: 768
	VectorDimension int `json:"vectorDimension,omitempty"`

	// SimilarityWeight and ImportanceWeight combine into the search score:
	// score = SimilarityWeight*similarity + ImportanceWeight*importance.
	// Default: 0.7 / 0.3
	SimilarityWeight float64 `json:"similarityWeight,omitempty"`
	ImportanceWeight float64 `json:"importanceWeight,omitempty"`

	// ArchiveAfter is how long a unit may go unread before it becomes an
	// archival candidate (quality still has to fall below QualityFloor).
	// Default: 720h (30 days)
	ArchiveAfter time.Duration `json:"archiveAfter,omitempty"`

	// QualityFloor: units scoring below it during reconstruction are
	// archived once stale.
	// Default: 0.5
	QualityFloor float64 `json:"qualityFloor,omitempty"`

	// ReactivateHits is how many search returns inside ReactivateWindow an
	// archived unit needs to come back to active.
	// Default: 3
	ReactivateHits int `json:"reactivateHits,omitempty"`

	// ReactivateWindow is the trailing window for counting search returns.
	// Default: 168h (7 days)
	ReactivateWindow time.Duration `json:"reactivateWindow,omitempty"`

	// ReconstructBatchSize is how many units share one transaction during
	// the lifecycle pass. A failed batch rolls back alone.
	// Default: 10
	ReconstructBatchSize int `json:"reconstructBatchSize,omitempty"`
}

// NewStoreConfig creates a StoreConfig with the lifecycle defaults.
func NewStoreConfig() *StoreConfig {
	return &StoreConfig{
		SqlitePath:           ":memory:",
		VectorDimension:      768,
		SimilarityWeight:     0.7,
		ImportanceWeight:     0.3,
		ArchiveAfter:         30 * 24 * time.Hour,
		QualityFloor:         0.5,
		ReactivateHits:       3,
		ReactivateWindow:     7 * 24 * time.Hour,
		ReconstructBatchSize: 10,
	}
}
