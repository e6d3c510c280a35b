package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode"
)

// sentenceEnders close a forced slice early when one appears in the back
// half of the window, so even the terminal strategy prefers natural breaks.
var sentenceEnders = map[rune]struct{}{
	'.': {}, '!': {}, '?': {}, '。': {}, '！': {}, '？': {}, '\n': {},
}

// forcedSegment slices text into pieces of at most MaxChunkSize runes. It
// cannot fail; it is the deterministic floor of the ladder.
func (c *Chunker) forcedSegment(text string) []string {
	runes := []rune(text)
	maxSize := c.config.MaxChunkSize

	var segments []string
	for len(runes) > 0 {
		if len(runes) <= maxSize {
			segments = append(segments, string(runes))
			break
		}

		cut := maxSize
		for i := maxSize - 1; i >= maxSize/2; i-- {
			if _, ok := sentenceEnders[runes[i]]; ok {
				cut = i + 1
				break
			}
			if unicode.IsSpace(runes[i]) && cut == maxSize {
				cut = i + 1
			}
		}

		segments = append(segments, string(runes[:cut]))
		runes = runes[cut:]
	}
	return segments
}

// contentHash is the stable fingerprint used when a degraded segmentation is
// reported, so the offending input can be found again without logging it.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:6])
}
