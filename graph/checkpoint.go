package graph

import (
	"context"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/engramhq/engram/errors"
)

type (
	// Checkpoint records how far a full rebuild got. SnapshotIDs pins the
	// unit set the build walks; NextOffset is the index of the first
	// snapshot unit still to stage, always a batch boundary. A running
	// checkpoint survives cancellation, so the next invocation picks up
	// where this one stopped instead of starting over.
	Checkpoint struct {
		BuildID     string
		Full        bool
		SnapshotIDs []string
		NextOffset  int
		StartedAt   time.Time
	}

	// StagedEdge is one relation observed between two staged nodes, persisted
	// per batch so a resumed build does not recompute finished batches.
	StagedEdge struct {
		From     string
		To       string
		Relation Relation
		Strength float64
	}

	// Checkpointer persists rebuild progress. Load returns the latest
	// running checkpoint or nil.
	Checkpointer interface {
		Load(ctx context.Context) (*Checkpoint, error)
		Save(ctx context.Context, cp *Checkpoint, edges []StagedEdge) error
		Edges(ctx context.Context, buildID string) ([]StagedEdge, error)
		Complete(ctx context.Context, buildID string) error
		Discard(ctx context.Context, buildID string) error
	}
)

// MemoryCheckpointer keeps progress in process memory. It still exercises
// the resume path (a cancelled build picks up in the same process); use the
// gorm-backed checkpointer to survive restarts.
type MemoryCheckpointer struct {
	mu     sync.Mutex
	cp     *Checkpoint
	edges  map[string][]StagedEdge
	status map[string]string
}

var _ Checkpointer = (*MemoryCheckpointer)(nil)

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{
		edges:  make(map[string][]StagedEdge),
		status: make(map[string]string),
	}
}

func (m *MemoryCheckpointer) Load(context.Context) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cp == nil || m.status[m.cp.BuildID] != "running" {
		return nil, nil
	}
	cp := *m.cp
	cp.SnapshotIDs = append([]string(nil), m.cp.SnapshotIDs...)
	return &cp, nil
}

func (m *MemoryCheckpointer) Save(_ context.Context, cp *Checkpoint, edges []StagedEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *cp
	clone.SnapshotIDs = append([]string(nil), cp.SnapshotIDs...)
	m.cp = &clone
	m.status[cp.BuildID] = "running"
	m.edges[cp.BuildID] = append(m.edges[cp.BuildID], edges...)
	return nil
}

func (m *MemoryCheckpointer) Edges(_ context.Context, buildID string) ([]StagedEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StagedEdge(nil), m.edges[buildID]...), nil
}

func (m *MemoryCheckpointer) Complete(_ context.Context, buildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status[buildID] = "complete"
	delete(m.edges, buildID)
	return nil
}

func (m *MemoryCheckpointer) Discard(_ context.Context, buildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.status, buildID)
	delete(m.edges, buildID)
	if m.cp != nil && m.cp.BuildID == buildID {
		m.cp = nil
	}
	return nil
}

type (
	buildRecord struct {
		BuildID     string `gorm:"primaryKey;column:build_id"`
		Full        bool
		Status      string                      `gorm:"index"`
		SnapshotIDs datatypes.JSONSlice[string] `gorm:"column:snapshot_ids"`
		NextOffset  int
		StartedAt   time.Time
		UpdatedAt   time.Time
	}

	stagedEdgeRecord struct {
		ID       uint   `gorm:"primaryKey;autoIncrement"`
		BuildID  string `gorm:"index;column:build_id"`
		FromID   string `gorm:"column:from_id"`
		ToID     string `gorm:"column:to_id"`
		Relation string
		Strength float64
		Offset   int
	}
)

func (buildRecord) TableName() string      { return "graph_builds" }
func (stagedEdgeRecord) TableName() string { return "graph_staged_edges" }

// GormCheckpointer persists rebuild progress next to the unit store, so an
// interrupted build resumes across process restarts.
type GormCheckpointer struct {
	db *gorm.DB
}

var _ Checkpointer = (*GormCheckpointer)(nil)

func NewGormCheckpointer(db *gorm.DB) (*GormCheckpointer, error) {
	if db == nil {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "checkpointer needs a database handle")
	}
	if err := db.AutoMigrate(&buildRecord{}, &stagedEdgeRecord{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate graph checkpoint tables")
	}
	return &GormCheckpointer{db: db}, nil
}

func (g *GormCheckpointer) Load(ctx context.Context) (*Checkpoint, error) {
	var record buildRecord
	err := g.db.WithContext(ctx).
		Where("status = ?", "running").
		Order("started_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to load graph checkpoint")
	}
	return &Checkpoint{
		BuildID:     record.BuildID,
		Full:        record.Full,
		SnapshotIDs: []string(record.SnapshotIDs),
		NextOffset:  record.NextOffset,
		StartedAt:   record.StartedAt,
	}, nil
}

func (g *GormCheckpointer) Save(ctx context.Context, cp *Checkpoint, edges []StagedEdge) error {
	record := buildRecord{
		BuildID:     cp.BuildID,
		Full:        cp.Full,
		Status:      "running",
		SnapshotIDs: datatypes.NewJSONSlice(cp.SnapshotIDs),
		NextOffset:  cp.NextOffset,
		StartedAt:   cp.StartedAt,
		UpdatedAt:   time.Now(),
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
			return errors.Wrapf(err, "failed to save graph checkpoint")
		}
		if len(edges) == 0 {
			return nil
		}
		records := make([]stagedEdgeRecord, len(edges))
		for i, edge := range edges {
			records[i] = stagedEdgeRecord{
				BuildID:  cp.BuildID,
				FromID:   edge.From,
				ToID:     edge.To,
				Relation: string(edge.Relation),
				Strength: edge.Strength,
				Offset:   cp.NextOffset,
			}
		}
		if err := tx.CreateInBatches(records, 500).Error; err != nil {
			return errors.Wrapf(err, "failed to stage graph edges")
		}
		return nil
	})
}

func (g *GormCheckpointer) Edges(ctx context.Context, buildID string) ([]StagedEdge, error) {
	var records []stagedEdgeRecord
	if err := g.db.WithContext(ctx).
		Where("build_id = ?", buildID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load staged graph edges")
	}

	edges := make([]StagedEdge, 0, len(records))
	for _, record := range records {
		relation, err := ParseRelation(record.Relation)
		if err != nil {
			return nil, err
		}
		edges = append(edges, StagedEdge{
			From:     record.FromID,
			To:       record.ToID,
			Relation: relation,
			Strength: record.Strength,
		})
	}
	return edges, nil
}

func (g *GormCheckpointer) Complete(ctx context.Context, buildID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&buildRecord{}).
			Where("build_id = ?", buildID).
			Updates(map[string]any{"status": "complete", "updated_at": time.Now()}).Error; err != nil {
			return errors.Wrapf(err, "failed to complete graph checkpoint")
		}
		// Staged edges only matter while the build can still resume.
		if err := tx.Where("build_id = ?", buildID).Delete(&stagedEdgeRecord{}).Error; err != nil {
			return errors.Wrapf(err, "failed to prune staged graph edges")
		}
		if err := tx.Where("build_id <> ?", buildID).Delete(&buildRecord{}).Error; err != nil {
			return errors.Wrapf(err, "failed to prune old graph builds")
		}
		return nil
	})
}

func (g *GormCheckpointer) Discard(ctx context.Context, buildID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("build_id = ?", buildID).Delete(&buildRecord{}).Error; err != nil {
			return errors.Wrapf(err, "failed to discard graph checkpoint")
		}
		if err := tx.Where("build_id = ?", buildID).Delete(&stagedEdgeRecord{}).Error; err != nil {
			return errors.Wrapf(err, "failed to discard staged graph edges")
		}
		return nil
	})
}
