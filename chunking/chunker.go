package chunking

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/internal/stringutils"
)

type (
	// Chunker segments raw text through a cost-escalating ladder: entropy
	// boundaries, assisted refinement, perplexity boundaries, forced slicing.
	// Chunk never fails for non-empty input; the ladder bottom always
	// produces bounded chunks and reports itself as degraded.
	Chunker struct {
		config      *config.ChunkingConfig
		refiner     Refiner
		logger      *slog.Logger
		degradeHook func(DegradedEvent)
	}

	ChunkerOption func(*Chunker)
)

// WithDegradeHook registers a callback invoked for every forced-slicing
// fallback, in addition to the structured log record.
func WithDegradeHook(hook func(DegradedEvent)) ChunkerOption {
	return func(c *Chunker) {
		c.degradeHook = hook
	}
}

// NewChunker builds a Chunker. A nil refiner skips the assisted-refinement
// rung; the rest of the ladder is unaffected.
func NewChunker(conf *config.ChunkingConfig, refiner Refiner, logger *slog.Logger, opts ...ChunkerOption) *Chunker {
	conf = normalizeConfig(conf)
	if logger == nil {
		logger = slog.Default()
	}
	chunker := &Chunker{
		config:  conf,
		refiner: refiner,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(chunker)
	}
	return chunker
}

// normalizeConfig fills zero-valued fields of a partial config with the
// defaults, so a caller setting only MaxChunkSize still gets a working
// ladder. The caller's struct is never mutated.
func normalizeConfig(conf *config.ChunkingConfig) *config.ChunkingConfig {
	defaults := config.NewChunkingConfig()
	if conf == nil {
		return defaults
	}

	normalized := *conf
	if normalized.MaxChunkSize <= 0 {
		normalized.MaxChunkSize = defaults.MaxChunkSize
	}
	if normalized.MinChunkSize <= 0 {
		normalized.MinChunkSize = defaults.MinChunkSize
	}
	if normalized.MinChunkSize > normalized.MaxChunkSize {
		normalized.MinChunkSize = normalized.MaxChunkSize
	}
	if len(normalized.SizeThresholds) == 0 {
		normalized.SizeThresholds = defaults.SizeThresholds
	}
	thresholds := make([]int, 0, len(normalized.SizeThresholds))
	for _, threshold := range normalized.SizeThresholds {
		if threshold > 0 && threshold <= normalized.MaxChunkSize {
			thresholds = append(thresholds, threshold)
		}
	}
	if len(thresholds) == 0 {
		thresholds = []int{normalized.MaxChunkSize}
	}
	normalized.SizeThresholds = thresholds
	if normalized.AcceptanceBand[0] <= 0 || normalized.AcceptanceBand[1] <= 0 {
		normalized.AcceptanceBand = defaults.AcceptanceBand
	}
	if normalized.LowEntropyFloor <= 0 {
		normalized.LowEntropyFloor = defaults.LowEntropyFloor
	}
	if normalized.EntropyDeltaThreshold <= 0 {
		normalized.EntropyDeltaThreshold = defaults.EntropyDeltaThreshold
	}
	if normalized.MaxBoundaryCandidates <= 0 {
		normalized.MaxBoundaryCandidates = defaults.MaxBoundaryCandidates
	}
	if normalized.PerplexitySpikeThreshold <= 0 {
		normalized.PerplexitySpikeThreshold = defaults.PerplexitySpikeThreshold
	}
	if normalized.MaxRecursion <= 0 {
		normalized.MaxRecursion = defaults.MaxRecursion
	}
	return &normalized
}

// Chunk segments text. The result is never empty, every chunk is within
// MaxChunkSize, and contents concatenate back to the source in order. Only
// empty or whitespace-only input is rejected.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "cannot chunk empty input")
	}
	text = stringutils.Sanitize(text)

	chunks := c.segment(ctx, text, "", 0)
	if err := Validate(text, chunks, c.config.MaxChunkSize); err != nil {
		return nil, err
	}
	return chunks, nil
}

// segment runs the ladder for one span, emitting chunks coded under prefix.
// depth counts refinement recursions.
func (c *Chunker) segment(ctx context.Context, text, prefix string, depth int) []Chunk {
	runeLen := utf8.RuneCountInString(text)
	threshold := c.workingThreshold(runeLen)

	if c.isSingleChunk(text, runeLen, threshold) {
		return []Chunk{c.newChunk(text, ChildCode(prefix, 1), StrategyEntropy)}
	}

	var attempts []Attempt

	entropySegments, ok, reason := c.entropySegment(text, threshold)
	if ok {
		return c.chunksFor(entropySegments, prefix, StrategyEntropy)
	}
	attempts = append(attempts, Attempt{Strategy: StrategyEntropy, Reason: reason})

	if chunks, attempt := c.refineSegment(ctx, text, entropySegments, prefix, depth); chunks != nil {
		return chunks
	} else if attempt != nil {
		attempts = append(attempts, *attempt)
	}

	perplexitySegments, ok, reason := c.perplexitySegment(text, threshold)
	if ok {
		return c.chunksFor(perplexitySegments, prefix, StrategyPerplexity)
	}
	attempts = append(attempts, Attempt{Strategy: StrategyPerplexity, Reason: reason})

	return c.forcedChunks(text, prefix, attempts)
}

// isSingleChunk short-circuits spans that fit: small texts, texts inside the
// acceptance band of their own threshold, and near-uniform (low entropy)
// texts that have no boundaries worth finding.
func (c *Chunker) isSingleChunk(text string, runeLen, threshold int) bool {
	if runeLen > c.config.MaxChunkSize {
		return false
	}
	if runeLen < c.config.MinChunkSize {
		return true
	}
	if float64(runeLen) <= c.config.AcceptanceBand[1]*float64(threshold) {
		return true
	}
	return shannonEntropy(text) < c.config.LowEntropyFloor
}

// refineSegment consults the generation collaborator with the rejected
// entropy segments as hints. A failed or content-losing refinement is
// rejected and escalates; it is never passed off as success. Oversized
// refined spans re-enter the ladder one level deeper, bounded by
// MaxRecursion.
func (c *Chunker) refineSegment(ctx context.Context, text string, hints []string, prefix string, depth int) ([]Chunk, *Attempt) {
	if !c.config.RefineEnabled || c.refiner == nil {
		return nil, nil
	}
	if depth >= c.config.MaxRecursion {
		return nil, &Attempt{Strategy: StrategyRefined, Reason: "recursion bound reached"}
	}

	spans, err := c.refiner.Refine(ctx, text, hints)
	if err != nil {
		c.logger.Warn("refinement unavailable, escalating",
			"error", err,
			"contentHash", contentHash(text))
		return nil, &Attempt{Strategy: StrategyRefined, Reason: "refiner unavailable"}
	}

	kept := make([]string, 0, len(spans))
	for _, span := range spans {
		if strings.TrimSpace(span) != "" {
			kept = append(kept, span)
		}
	}
	if len(kept) == 0 {
		return nil, &Attempt{Strategy: StrategyRefined, Reason: "refiner returned no spans"}
	}
	if stripSpace(strings.Join(kept, "")) != stripSpace(text) {
		return nil, &Attempt{Strategy: StrategyRefined, Reason: "refined spans lose content"}
	}

	var chunks []Chunk
	for i, span := range kept {
		code := ChildCode(prefix, i+1)
		if utf8.RuneCountInString(span) > c.config.MaxChunkSize {
			chunks = append(chunks, c.segment(ctx, span, code, depth+1)...)
			continue
		}
		chunks = append(chunks, c.newChunk(span, code, StrategyRefined))
	}
	return chunks, nil
}

// forcedChunks is the ladder bottom. It always succeeds and always reports
// itself: hash, size, and every rejected rung go into the log record and the
// degrade hook.
func (c *Chunker) forcedChunks(text, prefix string, attempts []Attempt) []Chunk {
	event := DegradedEvent{
		ContentHash: contentHash(text),
		Length:      utf8.RuneCountInString(text),
		Attempts:    attempts,
		Remediation: "raise maxChunkSize or pre-split the input at natural boundaries",
	}

	strategies := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		strategies = append(strategies, string(attempt.Strategy)+": "+attempt.Reason)
	}
	c.logger.Warn("segmentation degraded to forced slicing",
		"contentHash", event.ContentHash,
		"length", event.Length,
		"attempted", strings.Join(strategies, "; "),
		"remediation", event.Remediation)

	if c.degradeHook != nil {
		c.degradeHook(event)
	}

	return c.chunksFor(c.forcedSegment(text), prefix, StrategyForced)
}

func (c *Chunker) chunksFor(segments []string, prefix string, strategy Strategy) []Chunk {
	chunks := make([]Chunk, 0, len(segments))
	for i, segment := range segments {
		chunks = append(chunks, c.newChunk(segment, ChildCode(prefix, i+1), strategy))
	}
	return chunks
}

func (c *Chunker) newChunk(content, code string, strategy Strategy) Chunk {
	return Chunk{
		Content:    content,
		Code:       code,
		Entropy:    shannonEntropy(content),
		Perplexity: selfPerplexity(content),
		Strategy:   strategy,
	}
}
