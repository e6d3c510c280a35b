package memory

import (
	"context"
	"math"
	"time"
)

// perplexityMidpoint is where heuristic coherence crosses 0.5: units twice
// as perplexing as ordinary prose start looking incoherent.
const perplexityMidpoint = 32.0

// HeuristicScorer is the default quality gate for the archival rule. It
// needs no collaborator: coherence falls out of the unit's recorded
// perplexity, support out of its confidence, recency out of its access time.
type HeuristicScorer struct {
	CoherenceWeight float64
	SupportWeight   float64
	RecencyWeight   float64

	// RecencyHalfLife halves the recency component per elapsed interval.
	RecencyHalfLife time.Duration
}

var _ QualityScorer = (*HeuristicScorer)(nil)

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{
		CoherenceWeight: 0.5,
		SupportWeight:   0.3,
		RecencyWeight:   0.2,
		RecencyHalfLife: 15 * 24 * time.Hour,
	}
}

func (s *HeuristicScorer) Score(_ context.Context, unit *Unit, now time.Time) (float64, error) {
	coherence := 1.0 / (1.0 + unit.Perplexity/perplexityMidpoint)
	support := unit.Confidence

	age := now.Sub(unit.LastAccessAt)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-age.Hours() / s.RecencyHalfLife.Hours())

	score := s.CoherenceWeight*coherence + s.SupportWeight*support + s.RecencyWeight*recency
	return math.Min(math.Max(score, 0), 1), nil
}
