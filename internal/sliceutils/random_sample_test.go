package sliceutils_test

import (
	"testing"

	"github.com/engramhq/engram/internal/sliceutils"
)

func TestRandomSampleN(t *testing.T) {
	t.Run("Given small slice, when sampling n elements bigger than slice, then return all elements", func(t *testing.T) {
		slice := []int{1, 2, 3}
		n := 5
		result := sliceutils.RandomSampleN(slice, n)
		if len(result) != len(slice) {
			t.Errorf("expected %d elements, got %d", len(slice), len(result))
		}
	})

	t.Run("Given big slice, when sampling smaller than slice, then return n elements", func(t *testing.T) {
		slice := []int{1, 2, 3, 4, 5}
		n := 3
		result := sliceutils.RandomSampleN(slice, n)
		if len(result) != n {
			t.Errorf("expected %d elements, got %d", n, len(result))
		}
	})

	t.Run("Given a slice, when sampling n elements, then return n unique elements", func(t *testing.T) {
		slice := []int{1, 2, 3, 4, 5}
		n := 3
		result := sliceutils.RandomSampleN(slice, n)
		unique := make(map[int]struct{})
		for _, v := range result {
			unique[v] = struct{}{}
		}
		if len(unique) != n {
			t.Errorf("expected %d unique elements, got %d", n, len(unique))
		}
	})
}

func TestWeightedSampleN(t *testing.T) {
	weight := func(v int) float64 { return float64(v) }

	t.Run("Given small slice, when sampling n elements bigger than slice, then return all elements", func(t *testing.T) {
		slice := []int{1, 2, 3}
		result := sliceutils.WeightedSampleN(slice, 5, weight)
		if len(result) != len(slice) {
			t.Errorf("expected %d elements, got %d", len(slice), len(result))
		}
	})

	t.Run("Given a slice, when sampling n elements, then return n unique elements", func(t *testing.T) {
		slice := []int{1, 2, 3, 4, 5}
		n := 3
		result := sliceutils.WeightedSampleN(slice, n, weight)
		unique := make(map[int]struct{})
		for _, v := range result {
			unique[v] = struct{}{}
		}
		if len(unique) != n {
			t.Errorf("expected %d unique elements, got %d", n, len(unique))
		}
	})

	t.Run("Given one dominant weight, when sampling, then the dominant element is kept", func(t *testing.T) {
		slice := []int{1, 2, 3, 4, 1000000}
		result := sliceutils.WeightedSampleN(slice, 1, func(v int) float64 { return float64(v) })
		if len(result) != 1 || result[0] != 1000000 {
			t.Errorf("expected the dominant element, got %v", result)
		}
	})

	t.Run("Given zero weights, when sampling, then elements still qualify", func(t *testing.T) {
		slice := []int{0, 0, 0, 0}
		result := sliceutils.WeightedSampleN(slice, 2, func(int) float64 { return 0 })
		if len(result) != 2 {
			t.Errorf("expected 2 elements, got %d", len(result))
		}
	})
}
