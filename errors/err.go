package errors

import (
	"fmt"
)

var (
	ErrInvalidConfig = fmt.Errorf("engram: invalid config")
	ErrNotFound      = fmt.Errorf("engram: not found")
	ErrInvalidParams = fmt.Errorf("engram: invalid params")
	ErrInternal      = fmt.Errorf("engram: internal error")

	// ErrEmbeddingUnavailable aborts any operation that needed an embedding.
	// Units are never persisted with a zero vector in place of a real one.
	ErrEmbeddingUnavailable = fmt.Errorf("engram: embedding unavailable")

	// ErrRefinementUnavailable escalates the chunking ladder to the next
	// strategy. Never masked as a successful refinement.
	ErrRefinementUnavailable = fmt.Errorf("engram: refinement unavailable")

	// ErrCoverageFault means a full index build finished below complete
	// coverage. The faulty build must not serve views.
	ErrCoverageFault = fmt.Errorf("engram: index coverage fault")

	// ErrReconstructionBatch marks a single failed reconstruction batch.
	// The batch rolls back; the pass continues with the next batch.
	ErrReconstructionBatch = fmt.Errorf("engram: reconstruction batch failed")

	ErrReconstructionBusy = fmt.Errorf("engram: reconstruction already running")
)
