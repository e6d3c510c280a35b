package memory

import (
	"sort"

	"github.com/engramhq/engram/chunking"
)

// codeGap is a hole in a sibling sequence: Before and After share a source
// and a parent code but their positions skip at least one index.
type codeGap struct {
	Before       *Unit
	After        *Unit
	FirstMissing int
	AfterIndex   int
}

func findCodeGaps(units []*Unit) []codeGap {
	type groupKey struct {
		sourceID string
		parent   string
	}
	type indexedUnit struct {
		unit  *Unit
		index int
	}

	groups := make(map[groupKey][]indexedUnit)
	for _, unit := range units {
		components, err := chunking.ParseCode(unit.Code)
		if err != nil {
			continue
		}
		key := groupKey{sourceID: unit.SourceID, parent: chunking.ParentCode(unit.Code)}
		groups[key] = append(groups[key], indexedUnit{
			unit:  unit,
			index: components[len(components)-1],
		})
	}

	var gaps []codeGap
	for _, siblings := range groups {
		sort.Slice(siblings, func(i, j int) bool {
			return siblings[i].index < siblings[j].index
		})
		for i := 0; i+1 < len(siblings); i++ {
			before, after := siblings[i], siblings[i+1]
			if after.index-before.index < 2 {
				continue
			}
			gaps = append(gaps, codeGap{
				Before:       before.unit,
				After:        after.unit,
				FirstMissing: before.index + 1,
				AfterIndex:   after.index,
			})
		}
	}

	// Map walks are unordered; pin the stage's output order.
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Before.SourceID != gaps[j].Before.SourceID {
			return gaps[i].Before.SourceID < gaps[j].Before.SourceID
		}
		return gaps[i].Before.Code < gaps[j].Before.Code
	})
	return gaps
}
