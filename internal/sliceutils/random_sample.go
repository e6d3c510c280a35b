package sliceutils

import (
	"math"
	"math/rand/v2"
	"sort"
)

// RandomSampleN returns n distinct elements drawn uniformly without
// replacement. The whole slice comes back copied when n covers it.
func RandomSampleN[T any](slice []T, n int) []T {
	if n >= len(slice) {
		res := make([]T, len(slice))
		copy(res, slice)
		return res
	}

	res := make([]T, 0, n)
	selected := make(map[int]struct{}, n)
	for len(res) < n {
		idx := rand.IntN(len(slice))
		if _, ok := selected[idx]; ok {
			continue
		}
		selected[idx] = struct{}{}
		res = append(res, slice[idx])
	}
	return res
}

// WeightedSampleN returns n distinct elements drawn without replacement,
// each pick proportional to weight(element). Non-positive weights are lifted
// to a small baseline so such elements can still fill the sample.
//
// Uses the exponential-key trick: the n largest values of u^(1/w) with
// u uniform in (0,1) form a weighted sample.
func WeightedSampleN[T any](slice []T, n int, weight func(T) float64) []T {
	if n >= len(slice) {
		res := make([]T, len(slice))
		copy(res, slice)
		return res
	}
	if n <= 0 {
		return nil
	}

	const baseline = 1e-9
	type keyed struct {
		idx int
		key float64
	}
	keys := make([]keyed, len(slice))
	for i, v := range slice {
		w := weight(v)
		if w <= 0 {
			w = baseline
		}
		keys[i] = keyed{idx: i, key: math.Pow(rand.Float64(), 1/w)}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].key > keys[j].key
	})

	res := make([]T, 0, n)
	for _, k := range keys[:n] {
		res = append(res, slice[k.idx])
	}
	return res
}
