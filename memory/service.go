package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/engramhq/engram/chunking"
	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/embedding"
	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/internal/telemetry"
)

type (
	// Service owns the unit lifecycle: ingestion, retrieval, flagging, and
	// the reconstruction pass that migrates statuses.
	Service interface {
		Ingest(ctx context.Context, chunks []chunking.Chunk, opts IngestOptions) ([]*Unit, error)
		Get(ctx context.Context, id string) (*Unit, error)
		Search(ctx context.Context, opts SearchOptions) ([]ScoredUnit, error)
		Flag(ctx context.Context, id string, reason RetireReason) error
		Reconstruct(ctx context.Context) (*ReconstructionReport, error)
	}

	service struct {
		config   *config.StoreConfig
		store    Store
		embedder embedding.Embedder
		scorer   QualityScorer
		filler   GapFiller
		logger   *slog.Logger
		tracer   trace.Tracer

		// reconMu makes the reconstruction pass single-flight.
		reconMu sync.Mutex
	}

	ServiceOption func(*service)
)

var _ Service = (*service)(nil)

// WithQualityScorer replaces the heuristic archival gate.
func WithQualityScorer(scorer QualityScorer) ServiceOption {
	return func(s *service) {
		s.scorer = scorer
	}
}

// WithGapFiller enables the inference stage of the reconstruction pass.
func WithGapFiller(filler GapFiller) ServiceOption {
	return func(s *service) {
		s.filler = filler
	}
}

func WithTracer(tracer trace.Tracer) ServiceOption {
	return func(s *service) {
		s.tracer = tracer
	}
}

func NewService(conf *config.StoreConfig, store Store, embedder embedding.Embedder, logger *slog.Logger, opts ...ServiceOption) Service {
	if conf == nil {
		conf = config.NewStoreConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{
		config:   conf,
		store:    store,
		embedder: embedder,
		scorer:   NewHeuristicScorer(),
		logger:   logger,
		tracer:   telemetry.Tracer(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Ingest(ctx context.Context, chunks []chunking.Chunk, opts IngestOptions) ([]*Unit, error) {
	if len(chunks) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "nothing to ingest")
	}
	if opts.SourceID == "" {
		opts.SourceID = uuid.NewString()
	}
	if opts.SourceType == "" {
		opts.SourceType = SourceTypeUser
	}
	if !opts.SourceType.Valid() {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "unknown source type %q", opts.SourceType)
	}
	if opts.Importance == 0 {
		opts.Importance = 0.5
	}
	if opts.Confidence == 0 {
		opts.Confidence = 1.0
	}

	texts := lo.Map(chunks, func(c chunking.Chunk, _ int) string { return c.Content })
	vectors, err := s.embedder.Embed(ctx, texts...)
	if err != nil {
		if errors.Is(err, errors.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, errors.Wrapf(errors.ErrEmbeddingUnavailable, "ingest embedding failed: %v", err)
	}
	if len(vectors) != len(chunks) {
		return nil, errors.Wrapf(errors.ErrEmbeddingUnavailable,
			"embedding count mismatch: got %d, expected %d", len(vectors), len(chunks))
	}

	now := time.Now()
	units := make([]*Unit, len(chunks))
	idsByCode := make(map[string]string, len(chunks))
	for i, chunk := range chunks {
		id := uuid.NewString()
		idsByCode[chunk.Code] = id
		units[i] = &Unit{
			ID:           id,
			SourceID:     opts.SourceID,
			Content:      chunk.Content,
			Code:         chunk.Code,
			Entropy:      chunk.Entropy,
			Perplexity:   chunk.Perplexity,
			Importance:   opts.Importance,
			Confidence:   opts.Confidence,
			Status:       StatusActive,
			Tags:         opts.Tags,
			SourceType:   opts.SourceType,
			Embedding:    vectors[i],
			LastAccessAt: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	// Wire parent pointers along the code hierarchy, within this batch only.
	for _, unit := range units {
		parentCode := chunking.ParentCode(unit.Code)
		if parentCode == "" {
			continue
		}
		if parentID, ok := idsByCode[parentCode]; ok {
			id := parentID
			unit.ParentID = &id
		}
	}

	if err := s.store.Create(ctx, units); err != nil {
		return nil, err
	}

	s.logger.Debug("ingested memory units",
		"count", len(units),
		"sourceId", opts.SourceID,
		"sourceType", opts.SourceType)
	return units, nil
}

func (s *service) Get(ctx context.Context, id string) (*Unit, error) {
	if id == "" {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "unit id is empty")
	}
	return s.store.Get(ctx, id)
}

func (s *service) Search(ctx context.Context, opts SearchOptions) ([]ScoredUnit, error) {
	embeddingVec := opts.Embedding
	if len(embeddingVec) == 0 {
		if opts.Query == "" {
			return nil, errors.Wrapf(errors.ErrInvalidParams, "search needs a query or an embedding")
		}
		vectors, err := s.embedder.Embed(ctx, opts.Query)
		if err != nil {
			if errors.Is(err, errors.ErrEmbeddingUnavailable) {
				return nil, err
			}
			return nil, errors.Wrapf(errors.ErrEmbeddingUnavailable, "query embedding failed: %v", err)
		}
		embeddingVec = vectors[0]
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = []Status{StatusActive}
	}
	for _, status := range statuses {
		if !status.Valid() {
			return nil, errors.Wrapf(errors.ErrInvalidParams, "unknown status %q", status)
		}
	}

	filter := Filter{
		Statuses:      statuses,
		Tags:          opts.Tags,
		SourceTypes:   opts.SourceTypes,
		CreatedBefore: opts.CreatedBefore,
		CreatedAfter:  opts.CreatedAfter,
	}

	// Overfetch by similarity, then fold importance in before trimming.
	scored, err := s.store.Search(ctx, embeddingVec, filter, limit*2)
	if err != nil {
		return nil, err
	}
	for i := range scored {
		scored[i].Score = s.config.SimilarityWeight*scored[i].Similarity +
			s.config.ImportanceWeight*scored[i].Unit.Importance
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	if len(scored) > 0 {
		ids := lo.Map(scored, func(su ScoredUnit, _ int) string { return su.Unit.ID })
		if err := s.store.RecordAccess(ctx, ids, time.Now()); err != nil {
			return nil, errors.Wrapf(err, "failed to record search access")
		}
	}
	return scored, nil
}

func (s *service) Flag(ctx context.Context, id string, reason RetireReason) error {
	if !reason.Valid() {
		return errors.Wrapf(errors.ErrInvalidParams, "retirement needs a reason, got %q", reason)
	}
	unit, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if unit.Status == StatusRetired {
		return errors.Wrapf(errors.ErrInvalidParams, "unit %s is already retired", id)
	}
	unit.FlagReason = reason
	return s.store.Update(ctx, []*Unit{unit})
}

func (s *service) Reconstruct(ctx context.Context) (*ReconstructionReport, error) {
	if !s.reconMu.TryLock() {
		return nil, errors.WithStack(errors.ErrReconstructionBusy)
	}
	defer s.reconMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "memory.Reconstruct")
	defer span.End()

	start := time.Now()
	now := start
	report := &ReconstructionReport{}

	// Snapshot the candidate set so transitions cannot shift batches.
	ids, err := s.store.ListIDs(ctx, Filter{
		Statuses: []Status{StatusActive, StatusArchived},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list reconstruction candidates")
	}

	batchSize := s.config.ReconstructBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	for batchIndex, batchIDs := range lo.Chunk(ids, batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "reconstruction cancelled at batch %d", batchIndex)
		}
		if err := s.reconstructBatch(ctx, now, batchIDs, report); err != nil {
			s.logger.Warn("reconstruction batch failed",
				"batch", batchIndex,
				"error", err)
			report.BatchFailures = append(report.BatchFailures, BatchFailure{
				Batch: batchIndex,
				Err:   errors.Wrapf(errors.ErrReconstructionBatch, "batch %d: %v", batchIndex, err),
			})
		}
	}

	if s.filler != nil {
		if err := s.fillGaps(ctx, now, report); err != nil {
			s.logger.Warn("gap inference failed", "error", err)
			report.BatchFailures = append(report.BatchFailures, BatchFailure{
				Batch: -1,
				Err:   errors.Wrapf(errors.ErrReconstructionBatch, "inference stage: %v", err),
			})
		}
	}

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("evaluated", report.Evaluated),
		attribute.Int("archived", report.Archived),
		attribute.Int("retired", report.Retired),
		attribute.Int("reactivated", report.Reactivated),
		attribute.Int("inferred", report.Inferred),
		attribute.Int("failed_batches", len(report.BatchFailures)),
	)
	s.logger.Info("reconstruction pass finished",
		"evaluated", report.Evaluated,
		"archived", report.Archived,
		"retired", report.Retired,
		"reactivated", report.Reactivated,
		"inferred", report.Inferred,
		"failedBatches", len(report.BatchFailures),
		"duration", report.Duration.String())
	return report, nil
}

// reconstructBatch applies the transition rules to one batch inside a single
// store transaction. Rule order is fixed: archival, retirement,
// reactivation.
func (s *service) reconstructBatch(ctx context.Context, now time.Time, batchIDs []string, report *ReconstructionReport) error {
	units, err := s.store.List(ctx, Filter{IDs: batchIDs})
	if err != nil {
		return err
	}

	hits, err := s.store.AccessCounts(ctx, batchIDs, now.Add(-s.config.ReactivateWindow))
	if err != nil {
		return err
	}

	var (
		changed     []*Unit
		archived    int
		retired     int
		reactivated int
	)
	for _, unit := range units {
		dirty := false

		if unit.Status == StatusActive && now.Sub(unit.LastAccessAt) > s.config.ArchiveAfter {
			quality, err := s.scorer.Score(ctx, unit, now)
			if err != nil {
				return errors.Wrapf(err, "quality scoring failed for %s", unit.ID)
			}
			if quality < s.config.QualityFloor {
				unit.Status = StatusArchived
				archived++
				dirty = true
			}
		}

		if unit.FlagReason != "" && (unit.Status == StatusActive || unit.Status == StatusArchived) {
			unit.Status = StatusRetired
			unit.RetireReason = unit.FlagReason
			unit.FlagReason = ""
			retired++
			dirty = true
		}

		if unit.Status == StatusArchived && hits[unit.ID] >= s.config.ReactivateHits {
			unit.Status = StatusActive
			reactivated++
			dirty = true
		}

		if dirty {
			changed = append(changed, unit)
		}
	}

	if len(changed) > 0 {
		if err := s.store.Update(ctx, changed); err != nil {
			return err
		}
	}

	report.Evaluated += len(units)
	report.Archived += archived
	report.Retired += retired
	report.Reactivated += reactivated
	return nil
}

// fillGaps runs the optional inference stage: sibling units whose code
// sequence skips positions get bridging units proposed by the filler.
func (s *service) fillGaps(ctx context.Context, now time.Time, report *ReconstructionReport) error {
	active, err := s.store.List(ctx, Filter{Statuses: []Status{StatusActive}})
	if err != nil {
		return err
	}

	var inferred []*Unit
	for _, gap := range findCodeGaps(active) {
		proposals, err := s.filler.Fill(ctx, gap.Before, gap.After)
		if err != nil {
			return errors.Wrapf(err, "gap filler failed between %s and %s", gap.Before.ID, gap.After.ID)
		}
		for i, proposal := range proposals {
			if proposal.Content == "" {
				continue
			}
			index := gap.FirstMissing + i
			if index >= gap.AfterIndex {
				break
			}
			inferred = append(inferred, s.newInferredUnit(gap, proposal, index, now))
		}
	}
	if len(inferred) == 0 {
		return nil
	}

	texts := lo.Map(inferred, func(u *Unit, _ int) string { return u.Content })
	vectors, err := s.embedder.Embed(ctx, texts...)
	if err != nil {
		return errors.Wrapf(err, "failed to embed inferred units")
	}
	if len(vectors) != len(inferred) {
		return errors.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(inferred))
	}
	for i := range inferred {
		inferred[i].Embedding = vectors[i]
	}

	if err := s.store.Create(ctx, inferred); err != nil {
		return err
	}
	report.Inferred += len(inferred)
	return nil
}

func (s *service) newInferredUnit(gap codeGap, proposal GapProposal, index int, now time.Time) *Unit {
	confidence := proposal.Confidence * 0.8
	if confidence <= 0 || confidence > 1 {
		confidence = 0.4
	}
	tags := lo.Uniq(append(append([]string{}, gap.Before.Tags...), InferredTag))

	return &Unit{
		ID:           uuid.NewString(),
		SourceID:     gap.Before.SourceID,
		Content:      proposal.Content,
		Code:         chunking.ChildCode(chunking.ParentCode(gap.Before.Code), index),
		ParentID:     gap.Before.ParentID,
		Importance:   (gap.Before.Importance + gap.After.Importance) / 2,
		Confidence:   confidence,
		Status:       StatusActive,
		Tags:         tags,
		SourceType:   SourceTypeInferred,
		LastAccessAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
