package memory

import (
	"context"
	"time"

	"github.com/engramhq/engram/errors"
)

type (
	// Status is the unit lifecycle state. Transitions happen only inside the
	// reconstruction pass; there is no direct setter.
	Status string

	// RetireReason is mandatory on retired units and doubles as the pending
	// flag reason before the pass picks it up.
	RetireReason string

	// SourceType records where a unit came from. Inferred units are always
	// distinguishable: SourceTypeInferred plus the "inferred" tag.
	SourceType string
)

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusRetired  Status = "retired"

	RetireFactualError RetireReason = "factual_error"
	RetireObsolete     RetireReason = "obsolete"
	RetireBias         RetireReason = "bias"

	SourceTypeUser     SourceType = "user"
	SourceTypeAgent    SourceType = "agent"
	SourceTypeDocument SourceType = "document"
	SourceTypeInferred SourceType = "inferred"

	// InferredTag marks gap-filled units alongside SourceTypeInferred.
	InferredTag = "inferred"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusRetired:
		return true
	}
	return false
}

func (r RetireReason) Valid() bool {
	switch r {
	case RetireFactualError, RetireObsolete, RetireBias:
		return true
	}
	return false
}

func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeUser, SourceTypeAgent, SourceTypeDocument, SourceTypeInferred:
		return true
	}
	return false
}

type (
	// Unit is one memory record. IDs are assigned at creation and never
	// reused; retired units stay on disk as tombstones with their reason.
	Unit struct {
		ID       string
		SourceID string
		Content  string
		Code     string
		ParentID *string

		Entropy    float64
		Perplexity float64
		Importance float64
		Confidence float64

		Status       Status
		RetireReason RetireReason
		FlagReason   RetireReason

		Tags       []string
		SourceType SourceType

		Embedding []float32 `json:"-"`

		LastAccessAt time.Time
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	// ScoredUnit carries a search hit. Similarity is the raw cosine against
	// the query; Score folds importance in per the configured weights.
	ScoredUnit struct {
		Unit       *Unit
		Similarity float64
		Score      float64
	}

	// IngestOptions shape the units built from one chunked source.
	IngestOptions struct {
		// SourceID groups the units of one ingest call. Generated when empty.
		SourceID   string
		SourceType SourceType
		Tags       []string
		// Importance seeds every unit of the batch. The zero value is
		// indistinguishable from unset and coerces to 0.5; pass a small
		// positive value to ingest near-worthless units.
		Importance float64
		// Confidence seeds every unit of the batch. The zero value
		// coerces to 1.0, like Importance.
		Confidence float64
	}

	// SearchOptions filter and rank a similarity search. Exactly one of
	// Query and Embedding must be usable; Query goes through the embedding
	// collaborator first.
	SearchOptions struct {
		Query     string
		Embedding []float32

		// Statuses defaults to active only.
		Statuses      []Status
		Tags          []string
		SourceTypes   []SourceType
		CreatedBefore time.Time
		CreatedAfter  time.Time

		// Limit defaults to 10.
		Limit int
	}

	// ReconstructionReport sums up one lifecycle pass.
	ReconstructionReport struct {
		Evaluated   int
		Archived    int
		Retired     int
		Reactivated int
		Inferred    int

		// BatchFailures lists batches that rolled back; the pass itself
		// continues. Batch -1 identifies the inference stage.
		BatchFailures []BatchFailure

		Duration time.Duration
	}

	BatchFailure struct {
		Batch int
		Err   error
	}
)

// Validate rejects units that must never reach a store.
func (u *Unit) Validate() error {
	if u.ID == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "unit has no ID")
	}
	if u.Content == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "unit %s has no content", u.ID)
	}
	if !u.Status.Valid() {
		return errors.Wrapf(errors.ErrInvalidParams, "unit %s has unknown status %q", u.ID, u.Status)
	}
	if u.Status == StatusRetired && !u.RetireReason.Valid() {
		return errors.Wrapf(errors.ErrInvalidParams, "retired unit %s has no reason", u.ID)
	}
	if !u.SourceType.Valid() {
		return errors.Wrapf(errors.ErrInvalidParams, "unit %s has unknown source type %q", u.ID, u.SourceType)
	}
	if u.Importance < 0 || u.Importance > 1 {
		return errors.Wrapf(errors.ErrInvalidParams, "unit %s importance %f out of range", u.ID, u.Importance)
	}
	if u.Confidence < 0 || u.Confidence > 1 {
		return errors.Wrapf(errors.ErrInvalidParams, "unit %s confidence %f out of range", u.ID, u.Confidence)
	}
	return nil
}

// validateEmbedding guards Create: units are born with a real vector, never
// a placeholder.
func validateEmbedding(u *Unit) error {
	if len(u.Embedding) == 0 {
		return errors.Wrapf(errors.ErrInvalidParams, "unit %s has no embedding", u.ID)
	}
	for _, v := range u.Embedding {
		if v != 0 {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrInvalidParams, "unit %s has a zero embedding", u.ID)
}

type (
	// QualityScorer rates a unit in [0,1] for the archival rule. The default
	// is a heuristic over coherence, support, and recency; callers can plug
	// their own.
	QualityScorer interface {
		Score(ctx context.Context, unit *Unit, now time.Time) (float64, error)
	}

	// GapFiller proposes content bridging two sibling units whose codes skip
	// positions. Proposals become inferred units with scaled-down
	// confidence. A nil filler disables the stage.
	GapFiller interface {
		Fill(ctx context.Context, before, after *Unit) ([]GapProposal, error)
	}

	GapProposal struct {
		Content    string
		Confidence float64
	}
)
