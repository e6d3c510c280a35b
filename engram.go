// Package engram is the adaptive memory core for retrieval-augmented
// assistants: a chunking ladder, tiered memory units, a coverage-checked
// knowledge graph, and bounded context assembly behind one handle.
package engram

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/engramhq/engram/assemble"
	"github.com/engramhq/engram/chunking"
	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/embedding"
	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/graph"
	"github.com/engramhq/engram/internal/mylog"
	"github.com/engramhq/engram/internal/telemetry"
	"github.com/engramhq/engram/loader"
	"github.com/engramhq/engram/memory"
	"github.com/engramhq/engram/refine"
)

type (
	Engram struct {
		config       *config.Config
		logger       *slog.Logger
		traceVerbose bool
		tp           *sdktrace.TracerProvider

		store    memory.Store
		embedder embedding.Embedder
		cache    *embedding.CachedEmbedder
		refiner  chunking.Refiner
		filler   memory.GapFiller
		scorer   memory.QualityScorer

		chunker   *chunking.Chunker
		memory    memory.Service
		index     graph.Index
		assembler assemble.Assembler
	}
	Option func(*Engram)
)

type (
	// MaintainReport sums up one maintenance pass: the lifecycle
	// reconstruction followed by a full index rebuild.
	MaintainReport struct {
		Reconstruction *memory.ReconstructionReport `json:"reconstruction"`
		Coverage       *graph.CoverageReport        `json:"coverage"`
		Duration       time.Duration                `json:"duration"`
	}

	// Stats merges unit counts per lifecycle tier with the live graph build.
	Stats struct {
		ActiveUnits   int64       `json:"activeUnits"`
		ArchivedUnits int64       `json:"archivedUnits"`
		RetiredUnits  int64       `json:"retiredUnits"`
		Graph         graph.Stats `json:"graph"`
	}
)

func New(optionFuncs ...Option) (*Engram, error) {
	e := &Engram{
		config: config.NewConfig(),
	}
	for _, f := range optionFuncs {
		f(e)
	}

	if e.logger == nil {
		e.logger = mylog.NewLogger(e.config.Log.LogLevel, e.config.Log.LogHandler)
	}
	if e.traceVerbose {
		e.tp = telemetry.NewTracerProvider(e.logger, true)
	}

	if e.embedder == nil {
		provider, err := newEmbedder(e.config.Model, e.logger)
		if err != nil {
			return nil, err
		}
		cached, err := embedding.NewCachedEmbedder(provider, 0)
		if err != nil {
			return nil, err
		}
		e.cache = cached
		e.embedder = cached
	}

	if e.refiner == nil {
		e.refiner = newRefiner(e.config.Model, e.config.Chunking.MaxChunkSize)
	}
	if e.filler == nil {
		// The generation collaborator doubles as the gap filler when it can.
		if filler, ok := e.refiner.(memory.GapFiller); ok {
			e.filler = filler
		}
	}

	if e.store == nil {
		dimension := e.embedder.Dimension()
		if dimension <= 0 {
			dimension = e.config.Store.VectorDimension
		}
		store, err := memory.NewSqliteStore(e.config.Store.SqlitePath, dimension)
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	e.chunker = chunking.NewChunker(e.config.Chunking, e.refiner, e.logger)

	var serviceOpts []memory.ServiceOption
	if e.filler != nil {
		serviceOpts = append(serviceOpts, memory.WithGapFiller(e.filler))
	}
	if e.scorer != nil {
		serviceOpts = append(serviceOpts, memory.WithQualityScorer(e.scorer))
	}
	if e.tp != nil {
		serviceOpts = append(serviceOpts, memory.WithTracer(telemetry.Tracer(e.tp)))
	}
	e.memory = memory.NewService(e.config.Store, e.store, e.embedder, e.logger, serviceOpts...)

	var indexOpts []graph.IndexOption
	if sqliteStore, ok := e.store.(*memory.SqliteStore); ok {
		cp, err := graph.NewGormCheckpointer(sqliteStore.DB())
		if err != nil {
			return nil, err
		}
		indexOpts = append(indexOpts, graph.WithCheckpointer(cp))
	}
	if e.tp != nil {
		indexOpts = append(indexOpts, graph.WithIndexTracer(telemetry.Tracer(e.tp)))
	}
	e.index = graph.NewIndex(e.config.Index, e.store, e.logger, indexOpts...)

	var assembleOpts []assemble.AssemblerOption
	if e.tp != nil {
		assembleOpts = append(assembleOpts, assemble.WithAssemblerTracer(telemetry.Tracer(e.tp)))
	}
	e.assembler = assemble.NewAssembler(e.config.Assemble, e.memory, e.logger, assembleOpts...)

	return e, nil
}

// newEmbedder picks the embedding provider from the configured keys and
// wraps it with the bounded retry policy.
func newEmbedder(conf *config.ModelConfig, logger *slog.Logger) (embedding.Embedder, error) {
	var provider embedding.Embedder
	switch {
	case conf.OpenAIAPIKey != "":
		openaiEmbedder, err := embedding.NewOpenAIEmbedder(conf.OpenAIAPIKey, conf.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		provider = openaiEmbedder
	case conf.NomicAPIKey != "":
		provider = embedding.NewNomicEmbedder(conf.NomicAPIKey, conf.NomicAPIURL)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidConfig,
			"no embedding provider: set OPENAI_API_KEY or NOMIC_API_KEY, or inject one with WithEmbedder")
	}
	return embedding.WithRetry(provider, conf.MaxRetries, conf.RetryBackoff, logger), nil
}

// newRefiner picks the generation provider. No key means no assisted
// refinement; the chunking ladder skips that rung.
func newRefiner(conf *config.ModelConfig, maxSpan int) chunking.Refiner {
	switch {
	case conf.AnthropicAPIKey != "":
		return refine.NewAnthropicRefiner(conf.AnthropicAPIKey, conf.RefineModel, maxSpan)
	case conf.OpenAIAPIKey != "":
		return refine.NewOpenAIRefiner(conf.OpenAIAPIKey, conf.RefineModel, maxSpan)
	}
	return nil
}

// Remember chunks raw text and persists the resulting memory units.
func (e *Engram) Remember(ctx context.Context, text string, opts memory.IngestOptions) ([]*memory.Unit, error) {
	chunks, err := e.chunker.Chunk(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.memory.Ingest(ctx, chunks, opts)
}

// RememberDocument ingests one loaded document, carrying its source identity
// and tags onto the units.
func (e *Engram) RememberDocument(ctx context.Context, doc loader.Document, opts memory.IngestOptions) ([]*memory.Unit, error) {
	if opts.SourceID == "" {
		opts.SourceID = doc.SourceID
	}
	if opts.SourceType == "" {
		opts.SourceType = memory.SourceTypeDocument
	}
	opts.Tags = lo.Uniq(append(append([]string{}, opts.Tags...), doc.Tags...))
	return e.Remember(ctx, doc.Content, opts)
}

// Recall runs a scored similarity search over stored units.
func (e *Engram) Recall(ctx context.Context, opts memory.SearchOptions) ([]memory.ScoredUnit, error) {
	return e.memory.Search(ctx, opts)
}

// Assemble merges recent history with retrieved units into one bounded,
// deduplicated context window.
func (e *Engram) Assemble(ctx context.Context, query string, history []assemble.Turn, opts assemble.Options) (*assemble.Result, error) {
	return e.assembler.Assemble(ctx, query, history, opts)
}

// Flag marks a unit for retirement; the transition lands during the next
// reconstruction pass.
func (e *Engram) Flag(ctx context.Context, id string, reason memory.RetireReason) error {
	return e.memory.Flag(ctx, id, reason)
}

// Reconstruct runs the lifecycle pass: archival, retirement, reactivation,
// and optional gap inference.
func (e *Engram) Reconstruct(ctx context.Context) (*memory.ReconstructionReport, error) {
	return e.memory.Reconstruct(ctx)
}

// RebuildIndex rebuilds the knowledge graph from scratch with full coverage
// accounting. Interrupted rebuilds resume from their checkpoint.
func (e *Engram) RebuildIndex(ctx context.Context) (*graph.CoverageReport, error) {
	return e.index.BuildOrUpdate(ctx, true)
}

// UpdateIndex applies unit changes since the last build to the live graph.
func (e *Engram) UpdateIndex(ctx context.Context) (*graph.CoverageReport, error) {
	return e.index.BuildOrUpdate(ctx, false)
}

// FocusView samples a subgraph for a topic or around a center unit.
func (e *Engram) FocusView(ctx context.Context, scope graph.FocusScope) (*graph.Subgraph, error) {
	return e.index.FocusView(ctx, scope)
}

// Maintain is the nightly pipeline: reconstruct, then rebuild the index in
// full. A reconstruction with isolated batch failures still proceeds to the
// rebuild; a failed rebuild aborts the pass.
func (e *Engram) Maintain(ctx context.Context) (*MaintainReport, error) {
	start := time.Now()

	reconstruction, err := e.memory.Reconstruct(ctx)
	if err != nil {
		return nil, err
	}

	coverage, err := e.index.BuildOrUpdate(ctx, true)
	if err != nil {
		return nil, err
	}

	report := &MaintainReport{
		Reconstruction: reconstruction,
		Coverage:       coverage,
		Duration:       time.Since(start),
	}
	e.logger.Info("maintenance pass complete",
		"evaluated", reconstruction.Evaluated,
		"archived", reconstruction.Archived,
		"retired", reconstruction.Retired,
		"reactivated", reconstruction.Reactivated,
		"inferred", reconstruction.Inferred,
		"batchFailures", len(reconstruction.BatchFailures),
		"graphNodes", coverage.NodeCount,
		"duration", report.Duration)
	return report, nil
}

// Stats reports unit counts per lifecycle tier and the live graph build.
func (e *Engram) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Graph: e.index.Stats()}

	counts := []struct {
		status memory.Status
		target *int64
	}{
		{memory.StatusActive, &stats.ActiveUnits},
		{memory.StatusArchived, &stats.ArchivedUnits},
		{memory.StatusRetired, &stats.RetiredUnits},
	}
	for _, c := range counts {
		n, err := e.store.Count(ctx, memory.Filter{Statuses: []memory.Status{c.status}})
		if err != nil {
			return nil, err
		}
		*c.target = n
	}
	return stats, nil
}

// Close releases the embedding cache, the tracer provider, and the store.
func (e *Engram) Close() error {
	if e.cache != nil {
		e.cache.Close()
	}
	if e.tp != nil {
		if err := e.tp.Shutdown(context.Background()); err != nil {
			e.logger.Warn("tracer provider shutdown failed", "error", err)
		}
	}
	return e.store.Close()
}

func (e *Engram) MemoryService() memory.Service {
	return e.memory
}

func (e *Engram) Index() graph.Index {
	return e.index
}

func (e *Engram) Store() memory.Store {
	return e.store
}

func (e *Engram) Assembler() assemble.Assembler {
	return e.assembler
}

func WithConfig(conf *config.Config) Option {
	return func(e *Engram) {
		if conf != nil {
			e.config = conf
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engram) {
		e.logger = logger
	}
}

// WithTraceVerbose mirrors subsystem spans into the structured log, so long
// maintenance passes are observable without a collector.
func WithTraceVerbose(verbose bool) Option {
	return func(e *Engram) {
		e.traceVerbose = verbose
	}
}

// WithStore replaces the sqlite-backed default, e.g. with an InMemoryStore
// for embedded callers.
func WithStore(store memory.Store) Option {
	return func(e *Engram) {
		e.store = store
	}
}

// WithEmbedder injects an embedding collaborator as-is: no retry or cache
// wrapping is applied on top.
func WithEmbedder(embedder embedding.Embedder) Option {
	return func(e *Engram) {
		e.embedder = embedder
	}
}

func WithRefiner(refiner chunking.Refiner) Option {
	return func(e *Engram) {
		e.refiner = refiner
	}
}

func WithGapFiller(filler memory.GapFiller) Option {
	return func(e *Engram) {
		e.filler = filler
	}
}

// WithQualityScorer plugs in the upstream confidence evaluator used by the
// archival gate during reconstruction.
func WithQualityScorer(scorer memory.QualityScorer) Option {
	return func(e *Engram) {
		e.scorer = scorer
	}
}

func WithOpenAIAPIKey(apiKey string) Option {
	return func(e *Engram) {
		e.config.Model.OpenAIAPIKey = apiKey
	}
}

func WithAnthropicAPIKey(apiKey string) Option {
	return func(e *Engram) {
		e.config.Model.AnthropicAPIKey = apiKey
	}
}

func WithNomicAPIKey(apiKey string) Option {
	return func(e *Engram) {
		e.config.Model.NomicAPIKey = apiKey
	}
}
