package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/engramhq/engram/errors"
)

// Validate checks a segmentation result against its source: the result is
// non-empty, every chunk fits maxSize, codes are well-formed with strictly
// increasing siblings, and concatenating contents in code order reproduces
// the source's retained text in original order.
func Validate(source string, chunks []Chunk, maxSize int) error {
	if len(chunks) == 0 {
		return errors.Wrapf(errors.ErrInternal, "segmentation produced no chunks")
	}

	lastSibling := make(map[string]int)
	for _, chunk := range chunks {
		if utf8.RuneCountInString(chunk.Content) > maxSize {
			return errors.Wrapf(errors.ErrInternal, "chunk %s exceeds max size", chunk.Code)
		}
		if !chunk.Strategy.Valid() {
			return errors.Wrapf(errors.ErrInternal, "chunk %s has unknown strategy %q", chunk.Code, chunk.Strategy)
		}
		components, err := ParseCode(chunk.Code)
		if err != nil {
			return err
		}
		parent := ParentCode(chunk.Code)
		final := components[len(components)-1]
		if prev, ok := lastSibling[parent]; ok && final <= prev {
			return errors.Wrapf(errors.ErrInternal, "chunk %s breaks sibling order", chunk.Code)
		}
		lastSibling[parent] = final
	}

	if stripSpace(joinContents(chunks)) != stripSpace(source) {
		return errors.Wrapf(errors.ErrInternal, "segmentation does not preserve source order")
	}

	return nil
}

// joinContents concatenates chunk contents with no separator: every
// strategy slices the source exactly, including forced slices that cut
// inside a token, so the join must not introduce characters of its own.
func joinContents(chunks []Chunk) string {
	var b strings.Builder
	for _, chunk := range chunks {
		b.WriteString(chunk.Content)
	}
	return b.String()
}

// stripSpace removes every whitespace rune so the comparison sees only
// content: strategies may trim chunk boundaries or cut inside a token,
// and neither counts as content loss or reordering.
func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
