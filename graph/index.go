package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/internal/telemetry"
	"github.com/engramhq/engram/memory"
)

// maxCatchupRounds bounds how often a rebuild re-lists the eligible set to
// pick up units ingested while it ran. Exhausting the rounds with units
// still missing surfaces as a coverage fault.
const maxCatchupRounds = 3

// fetchPageSize bounds IN-clause sizes when refetching units by ID.
const fetchPageSize = 500

type (
	// Index maintains the knowledge graph over active memory units and
	// serves sampled focus views from the latest complete build.
	Index interface {
		BuildOrUpdate(ctx context.Context, full bool) (*CoverageReport, error)
		FocusView(ctx context.Context, scope FocusScope) (*Subgraph, error)
		Stats() Stats
	}

	// Stats describes the live build.
	Stats struct {
		BuildID   string    `json:"buildId"`
		BuiltAt   time.Time `json:"builtAt"`
		NodeCount int       `json:"nodeCount"`
		EdgeCount int       `json:"edgeCount"`
	}

	index struct {
		config *config.IndexConfig
		store  memory.Store
		cp     Checkpointer
		logger *slog.Logger
		tracer trace.Tracer

		// buildMu serializes builds; mu guards the live graph swap.
		buildMu sync.Mutex
		mu      sync.RWMutex
		live    *Graph
		vecs    map[string][]float64

		focusCache *expirable.LRU[string, *Subgraph]
	}

	IndexOption func(*index)
)

var _ Index = (*index)(nil)

// WithCheckpointer replaces the in-process checkpointer, typically with the
// gorm-backed one so interrupted rebuilds resume across restarts.
func WithCheckpointer(cp Checkpointer) IndexOption {
	return func(x *index) {
		x.cp = cp
	}
}

func WithIndexTracer(tracer trace.Tracer) IndexOption {
	return func(x *index) {
		x.tracer = tracer
	}
}

func NewIndex(conf *config.IndexConfig, store memory.Store, logger *slog.Logger, opts ...IndexOption) Index {
	if conf == nil {
		conf = config.NewIndexConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	x := &index{
		config: conf,
		store:  store,
		cp:     NewMemoryCheckpointer(),
		logger: logger,
		tracer: telemetry.Tracer(nil),
	}
	for _, opt := range opts {
		opt(x)
	}

	cacheSize := conf.FocusCacheSize
	if cacheSize <= 0 {
		cacheSize = 64
	}
	ttl := conf.FocusCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	x.focusCache = expirable.NewLRU[string, *Subgraph](cacheSize, nil, ttl)
	return x
}

func (x *index) BuildOrUpdate(ctx context.Context, full bool) (*CoverageReport, error) {
	x.buildMu.Lock()
	defer x.buildMu.Unlock()

	ctx, span := x.tracer.Start(ctx, "graph.BuildOrUpdate",
		trace.WithAttributes(attribute.Bool("full", full)))
	defer span.End()

	live, vecs := x.snapshot()
	if !full && live == nil {
		x.logger.Debug("no live graph yet, promoting to full rebuild")
		full = true
	}

	var (
		report *CoverageReport
		err    error
	)
	if full {
		report, err = x.rebuild(ctx)
	} else {
		report, err = x.update(ctx, live, vecs)
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("eligible", report.EligibleCount),
		attribute.Int("nodes", report.NodeCount),
		attribute.Float64("coverage", report.CoverageRate),
	)
	return report, nil
}

func (x *index) Stats() Stats {
	live, _ := x.snapshot()
	if live == nil {
		return Stats{}
	}
	return Stats{
		BuildID:   live.BuildID(),
		BuiltAt:   live.BuiltAt(),
		NodeCount: live.NodeCount(),
		EdgeCount: live.EdgeCount(),
	}
}

// rebuild walks the snapshotted eligible set batch by batch, checkpointing
// after each batch. Completion requires full coverage; a shortfall keeps the
// checkpoint alive and the previous graph live.
func (x *index) rebuild(ctx context.Context) (*CoverageReport, error) {
	start := time.Now()

	st, cp, err := x.resumeOrStart(ctx)
	if err != nil {
		return nil, err
	}
	batchSize := x.batchSize()

	snapshotSet := make(map[string]struct{}, len(cp.SnapshotIDs))
	for _, id := range cp.SnapshotIDs {
		snapshotSet[id] = struct{}{}
	}

	rounds := 0
	for {
		if cp.NextOffset >= len(cp.SnapshotIDs) {
			// Snapshot done. Pull in units that became eligible while the
			// build ran, up to the catch-up bound.
			eligible, err := x.store.ListIDs(ctx, x.eligibleFilter())
			if err != nil {
				return nil, errors.Wrapf(err, "failed to list eligible units")
			}
			missing := make([]string, 0)
			for _, id := range eligible {
				if _, ok := snapshotSet[id]; !ok {
					missing = append(missing, id)
				}
			}
			if len(missing) == 0 || rounds >= maxCatchupRounds {
				break
			}
			rounds++
			cp.SnapshotIDs = append(cp.SnapshotIDs, missing...)
			for _, id := range missing {
				snapshotSet[id] = struct{}{}
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "graph rebuild cancelled at offset %d", cp.NextOffset)
		}

		end := min(cp.NextOffset+batchSize, len(cp.SnapshotIDs))
		units, err := x.fetchEligible(ctx, cp.SnapshotIDs[cp.NextOffset:end])
		if err != nil {
			return nil, err
		}
		staged := st.stageBatch(units, x.config)
		cp.NextOffset = end
		if err := x.cp.Save(ctx, cp, staged); err != nil {
			return nil, errors.Wrapf(err, "failed to checkpoint at offset %d", cp.NextOffset)
		}
	}

	builtAt := time.Now()
	eligible, err := x.store.ListIDs(ctx, x.eligibleFilter())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list eligible units")
	}
	keep := make(map[string]struct{}, len(eligible))
	covered := 0
	for _, id := range eligible {
		keep[id] = struct{}{}
		if _, ok := st.nodes[id]; ok {
			covered++
		}
	}
	// Units archived while the build ran drop out; they count against the
	// post-build state.
	st.retain(keep)

	if covered < len(eligible) {
		// The checkpoint stays running so the next invocation resumes.
		return nil, errors.WithStack(&CoverageError{
			EligibleCount: len(eligible),
			NodeCount:     covered,
		})
	}

	graph := st.publish(x.config, builtAt)
	if err := x.cp.Complete(ctx, cp.BuildID); err != nil {
		return nil, errors.Wrapf(err, "failed to complete checkpoint %s", cp.BuildID)
	}
	x.swap(graph, st.vecs)

	report := &CoverageReport{
		EligibleCount: len(eligible),
		NodeCount:     graph.NodeCount(),
		CoverageRate:  1.0,
		Duration:      time.Since(start),
	}
	x.logger.Info("graph rebuilt",
		"buildId", cp.BuildID,
		"nodes", graph.NodeCount(),
		"edges", graph.EdgeCount(),
		"eligible", report.EligibleCount,
		"duration", report.Duration.String())
	return report, nil
}

// resumeOrStart continues a running full rebuild when one is checkpointed,
// otherwise snapshots the eligible set and starts fresh.
func (x *index) resumeOrStart(ctx context.Context) (*staging, *Checkpoint, error) {
	cp, err := x.cp.Load(ctx)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to load graph checkpoint")
	}
	if cp != nil && cp.Full {
		st := newStaging(cp.BuildID)
		processed := min(cp.NextOffset, len(cp.SnapshotIDs))
		if processed > 0 {
			units, err := x.fetchEligible(ctx, cp.SnapshotIDs[:processed])
			if err != nil {
				return nil, nil, err
			}
			for _, unit := range units {
				st.upsert(unit)
			}
			edges, err := x.cp.Edges(ctx, cp.BuildID)
			if err != nil {
				return nil, nil, err
			}
			st.restorePairs(edges)
		}
		x.logger.Info("resuming graph rebuild",
			"buildId", cp.BuildID,
			"nextOffset", cp.NextOffset,
			"snapshotSize", len(cp.SnapshotIDs))
		return st, cp, nil
	}
	if cp != nil {
		if err := x.cp.Discard(ctx, cp.BuildID); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to discard stale checkpoint")
		}
	}

	ids, err := x.store.ListIDs(ctx, x.eligibleFilter())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to list eligible units")
	}
	cp = &Checkpoint{
		BuildID:     uuid.NewString(),
		Full:        true,
		SnapshotIDs: ids,
		StartedAt:   time.Now(),
	}
	return newStaging(cp.BuildID), cp, nil
}

// update applies unit changes since the live build: new and reactivated
// units join, archived and retired ones leave, importance crossings do
// either. Cheap enough to restart, so it is not checkpointed.
func (x *index) update(ctx context.Context, live *Graph, vecs map[string][]float64) (*CoverageReport, error) {
	start := time.Now()
	watermark := time.Now()

	changed, err := x.store.List(ctx, memory.Filter{
		UpdatedAfter:   live.BuiltAt(),
		WithEmbeddings: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list changed units")
	}

	st := newStagingFrom(uuid.NewString(), live, vecs)
	for batchIndex, batch := range lo.Chunk(changed, x.batchSize()) {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "graph update cancelled at batch %d", batchIndex)
		}
		upserts := make([]*memory.Unit, 0, len(batch))
		for _, unit := range batch {
			if unit.Status == memory.StatusActive && unit.Importance >= x.config.MinImportance {
				upserts = append(upserts, unit)
			} else {
				st.remove(unit.ID)
			}
		}
		if len(upserts) > 0 {
			st.stageBatch(upserts, x.config)
		}
	}

	graph := st.publish(x.config, watermark)

	eligibleCount, err := x.store.Count(ctx, x.eligibleFilter())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to count eligible units")
	}
	if graph.NodeCount() < int(eligibleCount) {
		// Units the watermark missed leave a gap the incremental path
		// cannot close. The live graph stays as it is; only a full
		// rebuild resnapshot brings them in.
		return nil, errors.WithStack(&CoverageError{
			EligibleCount: int(eligibleCount),
			NodeCount:     graph.NodeCount(),
		})
	}
	x.swap(graph, st.vecs)

	report := &CoverageReport{
		EligibleCount: int(eligibleCount),
		NodeCount:     graph.NodeCount(),
		CoverageRate:  1.0,
		Duration:      time.Since(start),
	}
	x.logger.Info("graph updated",
		"buildId", graph.BuildID(),
		"changed", len(changed),
		"nodes", graph.NodeCount(),
		"edges", graph.EdgeCount(),
		"coverage", report.CoverageRate,
		"duration", report.Duration.String())
	return report, nil
}

func (x *index) eligibleFilter() memory.Filter {
	return memory.Filter{
		Statuses:      []memory.Status{memory.StatusActive},
		MinImportance: x.config.MinImportance,
	}
}

func (x *index) batchSize() int {
	if x.config.BuildBatchSize > 0 {
		return x.config.BuildBatchSize
	}
	return 200
}

// fetchEligible loads eligible units with embeddings, paging the ID list to
// keep IN clauses bounded. Units that stopped being eligible simply drop
// out of the result.
func (x *index) fetchEligible(ctx context.Context, ids []string) ([]*memory.Unit, error) {
	units := make([]*memory.Unit, 0, len(ids))
	for _, page := range lo.Chunk(ids, fetchPageSize) {
		filter := x.eligibleFilter()
		filter.IDs = page
		filter.WithEmbeddings = true
		got, err := x.store.List(ctx, filter)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch units for graph build")
		}
		units = append(units, got...)
	}
	return units, nil
}

func (x *index) swap(g *Graph, vecs map[string][]float64) {
	x.mu.Lock()
	x.live = g
	x.vecs = vecs
	x.mu.Unlock()
	x.focusCache.Purge()
}

func (x *index) snapshot() (*Graph, map[string][]float64) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.live, x.vecs
}
