package chunking

import (
	"math"
	"unicode/utf8"
)

// bigramModel is a character bigram distribution with add-one smoothing,
// built from the text being segmented. It is deliberately self-referential:
// a window that surprises the rest of the document marks a topic shift.
type bigramModel struct {
	pairs     map[[2]rune]int
	unigrams  map[rune]int
	vocabSize int
}

func newBigramModel(runes []rune) *bigramModel {
	model := &bigramModel{
		pairs:    make(map[[2]rune]int),
		unigrams: make(map[rune]int),
	}
	for i, r := range runes {
		model.unigrams[r]++
		if i > 0 {
			model.pairs[[2]rune{runes[i-1], r}]++
		}
	}
	model.vocabSize = len(model.unigrams)
	return model
}

// crossEntropy is the per-character cross entropy of runes under the model,
// in bits.
func (m *bigramModel) crossEntropy(runes []rune) float64 {
	if len(runes) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(runes); i++ {
		pairCount := m.pairs[[2]rune{runes[i-1], runes[i]}]
		prevCount := m.unigrams[runes[i-1]]
		p := (float64(pairCount) + 1) / (float64(prevCount) + float64(m.vocabSize))
		total += -math.Log2(p)
	}
	return total / float64(len(runes)-1)
}

func (m *bigramModel) perplexity(runes []rune) float64 {
	return math.Exp2(m.crossEntropy(runes))
}

// selfPerplexity scores a chunk's content under its own bigram model.
func selfPerplexity(text string) float64 {
	runes := []rune(text)
	if len(runes) < 2 {
		return 1
	}
	return newBigramModel(runes).perplexity(runes)
}

// perplexitySegment cuts where a window's perplexity spikes above the
// running average, the signature of a topic boundary.
func (c *Chunker) perplexitySegment(text string, threshold int) ([]string, bool, string) {
	runes := []rune(text)
	model := newBigramModel(runes)
	window, step := windowParams(len(runes))

	var cuts []int
	sum := 0.0
	count := 0
	for start := 0; start+window <= len(runes); start += step {
		pp := model.perplexity(runes[start : start+window])
		if count > 0 {
			average := sum / float64(count)
			if pp-average > c.config.PerplexitySpikeThreshold && start > 0 {
				cuts = append(cuts, start)
			}
		}
		sum += pp
		count++
	}

	segments := splitAtCuts(runes, cuts, c.config.MinChunkSize)
	for _, segment := range segments {
		if utf8.RuneCountInString(segment) > c.config.MaxChunkSize {
			return segments, false, "segment exceeds max chunk size"
		}
	}
	if len(segments) == 1 && utf8.RuneCountInString(segments[0]) > threshold*2 {
		return segments, false, "no perplexity boundaries found"
	}
	return segments, true, ""
}
