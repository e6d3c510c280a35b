package chunking

import (
	"context"

	"github.com/engramhq/engram/errors"
)

type (
	// Chunk is one segment of a source text. Content is bounded by the
	// configured maximum; Code places the chunk in the document hierarchy
	// ("1", "1.2", "1.2.3"). Entropy and Perplexity are computed over the
	// chunk's own content.
	Chunk struct {
		Content    string   `json:"content"`
		Code       string   `json:"code"`
		Entropy    float64  `json:"entropy"`
		Perplexity float64  `json:"perplexity"`
		Strategy   Strategy `json:"strategy"`
	}

	// Strategy identifies which rung of the segmentation ladder produced a
	// chunk. The set is closed; dispatch over it is exhaustive.
	Strategy string

	// Refiner is the generation collaborator consulted when entropy
	// segmentation is rejected. Hints carry the rejected segments so the
	// model can repair rather than start over. Implementations live in the
	// refine package.
	Refiner interface {
		Refine(ctx context.Context, text string, hints []string) ([]string, error)
	}

	// DegradedEvent describes a forced-slicing fallback. It is emitted to
	// the structured log and to the optional degrade hook; it is not an
	// error, the chunks are still served.
	DegradedEvent struct {
		ContentHash string    `json:"contentHash"`
		Length      int       `json:"length"`
		Attempts    []Attempt `json:"attempts"`
		Remediation string    `json:"remediation"`
	}

	// Attempt records one rejected rung and why it was rejected.
	Attempt struct {
		Strategy Strategy `json:"strategy"`
		Reason   string   `json:"reason"`
	}
)

const (
	StrategyEntropy    Strategy = "entropy"
	StrategyRefined    Strategy = "refined"
	StrategyPerplexity Strategy = "perplexity"
	StrategyForced     Strategy = "forced"
)

// Valid reports whether s belongs to the closed strategy set.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyEntropy, StrategyRefined, StrategyPerplexity, StrategyForced:
		return true
	}
	return false
}

// ParseStrategy converts stored text back into a Strategy, rejecting
// anything outside the closed set.
func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(s)
	if !strategy.Valid() {
		return "", errors.Wrapf(errors.ErrInvalidParams, "unknown strategy %q", s)
	}
	return strategy, nil
}
