package chunking

import (
	"math"
	"regexp"
	"sort"
	"unicode/utf8"
)

// Structural boundary patterns seed the candidate set before entropy deltas
// are considered: sentence end at a line break, blank lines, markdown
// headings, numbered titles.
var boundaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[.!?。！？]["')\]]*\s*\n`),
	regexp.MustCompile(`\n\s*\n`),
	regexp.MustCompile(`\n#{1,6}\s`),
	regexp.MustCompile(`\n\d+[.、)]\s`),
}

// shannonEntropy is the character-distribution entropy of text in bits.
func shannonEntropy(text string) float64 {
	if text == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range text {
		counts[r]++
		total++
	}
	entropy := 0.0
	for _, count := range counts {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// windowParams picks the sliding-window size and step for a text of n runes.
func windowParams(n int) (window, step int) {
	window = n / 10
	if window > 100 {
		window = 100
	}
	if window < 20 {
		window = 20
	}
	step = window / 2
	if step < 1 {
		step = 1
	}
	return window, step
}

// entropyCandidate is a potential cut position with the entropy change that
// suggested it.
type entropyCandidate struct {
	pos   int // rune offset
	delta float64
}

// entropySegment splits text at entropy-shift and structural boundaries.
// Returned segments concatenate back to the input. The bool reports whether
// the result satisfies the acceptance band around threshold.
func (c *Chunker) entropySegment(text string, threshold int) ([]string, bool, string) {
	runes := []rune(text)

	cuts := c.boundaryCandidates(text, runes)
	segments := splitAtCuts(runes, cuts, c.config.MinChunkSize)

	if ok, reason := c.withinBand(segments, threshold); !ok {
		return segments, false, reason
	}
	return segments, true, ""
}

// boundaryCandidates merges structural matches with the top entropy-delta
// positions, deduplicated and sorted.
func (c *Chunker) boundaryCandidates(text string, runes []rune) []int {
	seen := make(map[int]struct{})
	var cuts []int

	for _, pattern := range boundaryPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			pos := utf8.RuneCountInString(text[:loc[1]])
			if pos <= 0 || pos >= len(runes) {
				continue
			}
			if _, ok := seen[pos]; !ok {
				seen[pos] = struct{}{}
				cuts = append(cuts, pos)
			}
		}
	}

	window, step := windowParams(len(runes))
	var candidates []entropyCandidate
	prev := math.NaN()
	for start := 0; start+window <= len(runes); start += step {
		entropy := shannonEntropy(string(runes[start : start+window]))
		if !math.IsNaN(prev) {
			delta := math.Abs(entropy - prev)
			if delta > c.config.EntropyDeltaThreshold {
				candidates = append(candidates, entropyCandidate{pos: start, delta: delta})
			}
		}
		prev = entropy
	}

	// Keep only the sharpest shifts.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].delta > candidates[j].delta })
	if len(candidates) > c.config.MaxBoundaryCandidates {
		candidates = candidates[:c.config.MaxBoundaryCandidates]
	}
	for _, candidate := range candidates {
		if candidate.pos <= 0 || candidate.pos >= len(runes) {
			continue
		}
		if _, ok := seen[candidate.pos]; !ok {
			seen[candidate.pos] = struct{}{}
			cuts = append(cuts, candidate.pos)
		}
	}

	sort.Ints(cuts)
	return cuts
}

// splitAtCuts slices runes at the given offsets, dropping cuts that would
// leave a segment shorter than minSize and folding a short tail into its
// predecessor. Content is never lost.
func splitAtCuts(runes []rune, cuts []int, minSize int) []string {
	var segments []string
	prev := 0
	for _, cut := range cuts {
		if cut-prev < minSize {
			continue
		}
		if len(runes)-cut < minSize {
			break
		}
		segments = append(segments, string(runes[prev:cut]))
		prev = cut
	}
	segments = append(segments, string(runes[prev:]))
	return segments
}

// withinBand checks every segment against the acceptance band around the
// working threshold and the hard maximum.
func (c *Chunker) withinBand(segments []string, threshold int) (bool, string) {
	low := int(c.config.AcceptanceBand[0] * float64(threshold))
	high := int(c.config.AcceptanceBand[1] * float64(threshold))
	for _, segment := range segments {
		n := utf8.RuneCountInString(segment)
		if n > c.config.MaxChunkSize {
			return false, "segment exceeds max chunk size"
		}
		if n < low || n > high {
			return false, "segment outside acceptance band"
		}
	}
	return true, ""
}

// workingThreshold picks the largest ladder entry not exceeding the text
// length, falling back to the smallest entry for short texts.
func (c *Chunker) workingThreshold(runeLen int) int {
	thresholds := c.config.SizeThresholds
	for _, threshold := range thresholds {
		if runeLen >= threshold {
			return threshold
		}
	}
	return thresholds[len(thresholds)-1]
}
