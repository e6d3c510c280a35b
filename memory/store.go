package memory

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/engramhq/engram/errors"
)

type (
	// Filter narrows store reads. Zero values mean "no constraint". Listing
	// order is always (created_at, id) ascending so batch walks are
	// deterministic.
	Filter struct {
		IDs           []string
		Statuses      []Status
		Tags          []string
		SourceTypes   []SourceType
		SourceID      string
		CreatedBefore time.Time
		CreatedAfter  time.Time
		UpdatedAfter  time.Time
		MinImportance float64

		// WithEmbeddings loads vectors alongside records on List.
		WithEmbeddings bool

		Offset int
		Limit  int
	}

	// Store is the persistence boundary for units and their access trail.
	// Create and Update are single transactions: either every record in the
	// call lands or none do.
	Store interface {
		Create(ctx context.Context, units []*Unit) error
		Get(ctx context.Context, id string) (*Unit, error)
		List(ctx context.Context, filter Filter) ([]*Unit, error)
		ListIDs(ctx context.Context, filter Filter) ([]string, error)
		Count(ctx context.Context, filter Filter) (int64, error)
		Update(ctx context.Context, units []*Unit) error
		Search(ctx context.Context, embedding []float32, filter Filter, limit int) ([]ScoredUnit, error)
		RecordAccess(ctx context.Context, unitIDs []string, at time.Time) error
		AccessCounts(ctx context.Context, unitIDs []string, since time.Time) (map[string]int, error)
		Close() error
	}

	// InMemoryStore backs tests and embedded callers. Scoring runs the same
	// matrix path as production embeddings: one MulVec over all candidates.
	InMemoryStore struct {
		mu       sync.RWMutex
		units    map[string]*Unit
		accesses map[string][]time.Time
	}
)

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		units:    make(map[string]*Unit),
		accesses: make(map[string][]time.Time),
	}
}

func (s *InMemoryStore) Create(_ context.Context, units []*Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, unit := range units {
		if err := unit.Validate(); err != nil {
			return err
		}
		if err := validateEmbedding(unit); err != nil {
			return err
		}
		if _, exists := s.units[unit.ID]; exists {
			return errors.Wrapf(errors.ErrInvalidParams, "unit %s already exists", unit.ID)
		}
	}
	for _, unit := range units {
		clone := *unit
		s.units[unit.ID] = &clone
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit, exists := s.units[id]
	if !exists {
		return nil, errors.Wrapf(errors.ErrNotFound, "unit %s", id)
	}
	clone := *unit
	return &clone, nil
}

func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]*Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(filter), nil
}

func (s *InMemoryStore) ListIDs(_ context.Context, filter Filter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := s.listLocked(filter)
	ids := make([]string, len(units))
	for i, unit := range units {
		ids[i] = unit.ID
	}
	return ids, nil
}

func (s *InMemoryStore) Count(_ context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unpaged := filter
	unpaged.Offset = 0
	unpaged.Limit = 0
	return int64(len(s.listLocked(unpaged))), nil
}

func (s *InMemoryStore) listLocked(filter Filter) []*Unit {
	matched := make([]*Unit, 0)
	for _, unit := range s.units {
		if matchesFilter(unit, filter) {
			matched = append(matched, unit)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	clones := make([]*Unit, len(matched))
	for i, unit := range matched {
		clone := *unit
		clones[i] = &clone
	}
	return clones
}

func (s *InMemoryStore) Update(_ context.Context, units []*Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, unit := range units {
		if err := unit.Validate(); err != nil {
			return err
		}
		if _, exists := s.units[unit.ID]; !exists {
			return errors.Wrapf(errors.ErrNotFound, "unit %s", unit.ID)
		}
	}
	now := time.Now()
	for _, unit := range units {
		clone := *unit
		clone.UpdatedAt = now
		s.units[unit.ID] = &clone
	}
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, embedding []float32, filter Filter, limit int) ([]ScoredUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(embedding) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "query embedding is empty")
	}

	var candidates []*Unit
	for _, unit := range s.units {
		if len(unit.Embedding) == len(embedding) && matchesFilter(unit, filter) {
			candidates = append(candidates, unit)
		}
	}
	if len(candidates) == 0 {
		return []ScoredUnit{}, nil
	}

	dim := len(embedding)
	queryVec := make([]float64, dim)
	var queryNorm float64
	for i, v := range embedding {
		queryVec[i] = float64(v)
		queryNorm += float64(v) * float64(v)
	}
	queryNorm = math.Sqrt(queryNorm)

	unitData := make([]float64, len(candidates)*dim)
	unitNorms := make([]float64, len(candidates))
	for i, unit := range candidates {
		var norm float64
		for j, v := range unit.Embedding {
			unitData[i*dim+j] = float64(v)
			norm += float64(v) * float64(v)
		}
		unitNorms[i] = math.Sqrt(norm)
	}

	// One matrix-vector product scores every candidate at once.
	unitMatrix := mat.NewDense(len(candidates), dim, unitData)
	var dots mat.VecDense
	dots.MulVec(unitMatrix, mat.NewVecDense(dim, queryVec))

	scored := make([]ScoredUnit, 0, len(candidates))
	for i, unit := range candidates {
		normProduct := unitNorms[i] * queryNorm
		if normProduct == 0 {
			continue
		}
		clone := *unit
		scored = append(scored, ScoredUnit{
			Unit:       &clone,
			Similarity: dots.AtVec(i) / normProduct,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *InMemoryStore) RecordAccess(_ context.Context, unitIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range unitIDs {
		unit, exists := s.units[id]
		if !exists {
			continue
		}
		clone := *unit
		clone.LastAccessAt = at
		s.units[id] = &clone
		s.accesses[id] = append(s.accesses[id], at)
	}
	return nil
}

func (s *InMemoryStore) AccessCounts(_ context.Context, unitIDs []string, since time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(unitIDs))
	for _, id := range unitIDs {
		for _, at := range s.accesses[id] {
			if !at.Before(since) {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func matchesFilter(unit *Unit, filter Filter) bool {
	if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, unit.ID) {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, unit.Status) {
		return false
	}
	if len(filter.SourceTypes) > 0 && !slices.Contains(filter.SourceTypes, unit.SourceType) {
		return false
	}
	if filter.SourceID != "" && unit.SourceID != filter.SourceID {
		return false
	}
	if len(filter.Tags) > 0 {
		any := false
		for _, tag := range filter.Tags {
			if slices.Contains(unit.Tags, tag) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if !filter.CreatedBefore.IsZero() && !unit.CreatedAt.Before(filter.CreatedBefore) {
		return false
	}
	if !filter.CreatedAfter.IsZero() && !unit.CreatedAt.After(filter.CreatedAfter) {
		return false
	}
	if !filter.UpdatedAfter.IsZero() && !unit.UpdatedAt.After(filter.UpdatedAfter) {
		return false
	}
	if filter.MinImportance > 0 && unit.Importance < filter.MinImportance {
		return false
	}
	return true
}
