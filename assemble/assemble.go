package assemble

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/internal/stringutils"
	"github.com/engramhq/engram/internal/telemetry"
	"github.com/engramhq/engram/memory"
)

type (
	// Turn is one conversational exchange. Turns are caller state; the
	// assembler reads them and never persists them.
	Turn struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}

	// Stats counts what went into one assembly. OverlapRate is the share of
	// retrieved candidates dropped as duplicates.
	Stats struct {
		HistoryTurns   int     `json:"historyTurns"`
		RetrievedUnits int     `json:"retrievedUnits"`
		Duplicates     int     `json:"duplicates"`
		OverlapRate    float64 `json:"overlapRate"`
	}

	// Result is one assembled context. IncludedUnitIDs follows the order
	// units appear in Text; DroppedUnitIDs lists units cut to meet the size
	// bound. Truncation is an annotation, not an error.
	Result struct {
		Text            string   `json:"text"`
		IncludedUnitIDs []string `json:"includedUnitIds"`
		Truncated       bool     `json:"truncated"`
		DroppedUnitIDs  []string `json:"droppedUnitIds,omitempty"`
		Stats           Stats    `json:"stats"`
	}

	// Options override the configured defaults for one call; zero values
	// fall back to config.
	Options struct {
		Cutoff   time.Duration
		Limit    int
		MaxChars int
	}

	// Searcher is the retrieval boundary; memory.Service satisfies it.
	Searcher interface {
		Search(ctx context.Context, opts memory.SearchOptions) ([]memory.ScoredUnit, error)
	}

	// Assembler merges recent conversation with retrieved memory into one
	// bounded, deduplicated context text.
	Assembler interface {
		Assemble(ctx context.Context, query string, history []Turn, opts Options) (*Result, error)
	}

	assembler struct {
		config *config.AssembleConfig
		search Searcher
		logger *slog.Logger
		tracer trace.Tracer
	}

	AssemblerOption func(*assembler)

	// segment is one block of the rendered text. unitID is empty for
	// history turns.
	segment struct {
		text   string
		unitID string
	}
)

var _ Assembler = (*assembler)(nil)

func WithAssemblerTracer(tracer trace.Tracer) AssemblerOption {
	return func(a *assembler) {
		a.tracer = tracer
	}
}

func NewAssembler(conf *config.AssembleConfig, search Searcher, logger *slog.Logger, opts ...AssemblerOption) Assembler {
	if conf == nil {
		conf = config.NewAssembleConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &assembler{
		config: conf,
		search: search,
		logger: logger,
		tracer: telemetry.Tracer(nil),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the context for one generation request: conversation
// turns inside the recency window, then memory units retrieved for the
// query from before that window. Retrieved units that duplicate history are
// dropped, history stays. The store is only touched through retrieval,
// which records last access on what it returns.
func (a *assembler) Assemble(ctx context.Context, query string, history []Turn, opts Options) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "assemble.Assemble")
	defer span.End()

	cutoff := opts.Cutoff
	if cutoff <= 0 {
		cutoff = a.config.HistoryCutoff
	}
	if cutoff <= 0 {
		cutoff = 15 * time.Minute
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = a.config.RetrieveLimit
	}
	if limit <= 0 {
		limit = 8
	}
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = a.config.MaxChars
	}

	windowStart := time.Now().Add(-cutoff)
	recent := recentTurns(history, windowStart)

	retrieved, err := a.retrieve(ctx, query, windowStart, limit)
	if err != nil {
		return nil, err
	}

	// History is authoritative for recency: its hashes evict colliding
	// retrieved units, never the other way around.
	seen := make(map[string]struct{}, len(recent)+len(retrieved))
	for _, turn := range recent {
		seen[stringutils.ContentHash(turn.Content)] = struct{}{}
	}
	duplicates := 0
	deduped := make([]memory.ScoredUnit, 0, len(retrieved))
	for _, su := range retrieved {
		hash := stringutils.ContentHash(su.Unit.Content)
		if _, dup := seen[hash]; dup {
			duplicates++
			continue
		}
		seen[hash] = struct{}{}
		deduped = append(deduped, su)
	}

	result := render(recent, deduped, maxChars)
	result.Stats = Stats{
		HistoryTurns:   len(recent),
		RetrievedUnits: len(result.IncludedUnitIDs),
		Duplicates:     duplicates,
	}
	if len(retrieved) > 0 {
		result.Stats.OverlapRate = float64(duplicates) / float64(len(retrieved))
	}

	if result.Truncated {
		a.logger.Warn("context truncated to size bound",
			"maxChars", maxChars,
			"droppedUnits", len(result.DroppedUnitIDs))
	}
	span.SetAttributes(
		attribute.Int("historyTurns", result.Stats.HistoryTurns),
		attribute.Int("retrievedUnits", result.Stats.RetrievedUnits),
		attribute.Int("duplicates", duplicates),
		attribute.Bool("truncated", result.Truncated),
	)
	return result, nil
}

// recentTurns keeps non-empty turns inside the window, oldest first.
func recentTurns(history []Turn, windowStart time.Time) []Turn {
	recent := make([]Turn, 0, len(history))
	for _, turn := range history {
		if turn.Content == "" || turn.Timestamp.Before(windowStart) {
			continue
		}
		recent = append(recent, turn)
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.Before(recent[j].Timestamp)
	})
	return recent
}

// retrieve pulls units created before the history window opened, so the
// context never echoes what the window already holds. The sub-call is
// time-bounded: assembly is interactive, and a slow store degrades to a
// history-only context instead of failing the request.
func (a *assembler) retrieve(ctx context.Context, query string, windowStart time.Time, limit int) ([]memory.ScoredUnit, error) {
	if query == "" {
		return nil, nil
	}

	searchCtx := ctx
	if a.config.RetrieveTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, a.config.RetrieveTimeout)
		defer cancel()
	}

	scored, err := a.search.Search(searchCtx, memory.SearchOptions{
		Query:         query,
		CreatedBefore: windowStart,
		Limit:         limit,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			a.logger.Warn("retrieval timed out, assembling from history only",
				"timeout", a.config.RetrieveTimeout.String())
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to retrieve context units")
	}
	return scored, nil
}

// render joins history then retrieved units, in that order, and enforces
// the size bound: whole retrieved units drop from the least-relevant tail
// first, and only when history alone still overflows is the text itself
// cut. Both paths mark the result truncated.
func render(recent []Turn, units []memory.ScoredUnit, maxChars int) *Result {
	segments := make([]segment, 0, len(recent)+len(units))
	for _, turn := range recent {
		segments = append(segments, segment{text: renderTurn(turn)})
	}
	for _, su := range units {
		segments = append(segments, segment{text: su.Unit.Content, unitID: su.Unit.ID})
	}

	result := &Result{IncludedUnitIDs: []string{}}

	if maxChars > 0 {
		for joinedLen(segments) > maxChars {
			last := len(segments) - 1
			if last < 0 || segments[last].unitID == "" {
				break
			}
			result.DroppedUnitIDs = append(result.DroppedUnitIDs, segments[last].unitID)
			segments = segments[:last]
			result.Truncated = true
		}
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.text
		if seg.unitID != "" {
			result.IncludedUnitIDs = append(result.IncludedUnitIDs, seg.unitID)
		}
	}
	text := strings.Join(texts, "\n\n")
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		text = string([]rune(text)[:maxChars])
		result.Truncated = true
	}
	result.Text = text
	return result
}

func renderTurn(turn Turn) string {
	if turn.Role == "" {
		return turn.Content
	}
	return turn.Role + ": " + turn.Content
}

// joinedLen is the rune length the segments would render to, without
// building the string.
func joinedLen(segments []segment) int {
	if len(segments) == 0 {
		return 0
	}
	total := 2 * (len(segments) - 1)
	for _, seg := range segments {
		total += utf8.RuneCountInString(seg.text)
	}
	return total
}
