package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/internal/db"
)

type (
	// SqliteStore persists units with gorm and their vectors in a sqlite-vec
	// vec0 virtual table.
	SqliteStore struct {
		db     *gorm.DB
		vecDim int
	}

	UnitRecord struct {
		ID       string `gorm:"primaryKey"`
		SourceID string `gorm:"index"`
		Content  string
		Code     string
		ParentID *string

		Entropy    float64
		Perplexity float64
		Importance float64 `gorm:"index"`
		Confidence float64

		Status       string `gorm:"index"`
		RetireReason string
		FlagReason   string

		Tags       datatypes.JSONSlice[string]
		SourceType string

		LastAccessAt time.Time
		CreatedAt    time.Time `gorm:"index"`
		UpdatedAt    time.Time `gorm:"index"`
	}

	AccessEventRecord struct {
		ID         uint      `gorm:"primaryKey;autoIncrement"`
		UnitID     string    `gorm:"index:idx_access_unit_time"`
		AccessedAt time.Time `gorm:"index:idx_access_unit_time"`
	}
)

func (UnitRecord) TableName() string {
	return "units"
}

func (AccessEventRecord) TableName() string {
	return "access_events"
}

var _ Store = (*SqliteStore)(nil)

func NewSqliteStore(dbPath string, dimension int) (*SqliteStore, error) {
	if dimension <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "vector dimension %d", dimension)
	}

	// Register the sqlite-vec extension before any connection opens.
	sqlite_vec.Auto()

	gormDB, err := db.OpenSqlite(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SqliteStore{
		db:     gormDB,
		vecDim: dimension,
	}

	if err := gormDB.AutoMigrate(&UnitRecord{}, &AccessEventRecord{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate unit tables")
	}
	if err := store.createVectorTable(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SqliteStore) createVectorTable() error {
	var sqliteVersion, vecVersion string
	if err := s.db.Raw("SELECT sqlite_version(), vec_version()").Row().Scan(&sqliteVersion, &vecVersion); err != nil {
		return errors.Wrapf(err, "sqlite-vec extension not properly loaded")
	}

	createTableSQL := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS unit_vectors USING vec0(
			unit_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.vecDim)
	if err := s.db.Exec(createTableSQL).Error; err != nil {
		return errors.Wrapf(err, "failed to create unit_vectors table")
	}
	return nil
}

func (s *SqliteStore) Create(ctx context.Context, units []*Unit) error {
	if len(units) == 0 {
		return nil
	}
	for _, unit := range units {
		if err := unit.Validate(); err != nil {
			return err
		}
		if err := validateEmbedding(unit); err != nil {
			return err
		}
		if len(unit.Embedding) != s.vecDim {
			return errors.Wrapf(errors.ErrInvalidParams,
				"unit %s embedding dimension %d, store expects %d", unit.ID, len(unit.Embedding), s.vecDim)
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, unit := range units {
			record := newUnitRecord(unit)
			if err := tx.Create(&record).Error; err != nil {
				return errors.Wrapf(err, "failed to create unit record %s", unit.ID)
			}

			serialized, err := sqlite_vec.SerializeFloat32(unit.Embedding)
			if err != nil {
				return errors.Wrapf(err, "failed to serialize embedding for %s", unit.ID)
			}
			if err := tx.Exec(
				"INSERT INTO unit_vectors (unit_id, embedding) VALUES (?, ?)",
				unit.ID, serialized,
			).Error; err != nil {
				return errors.Wrapf(err, "failed to insert unit vector %s", unit.ID)
			}
		}
		return nil
	})
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*Unit, error) {
	var record UnitRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(errors.ErrNotFound, "unit %s", id)
		}
		return nil, errors.Wrapf(err, "failed to fetch unit %s", id)
	}
	return record.toUnit()
}

func (s *SqliteStore) List(ctx context.Context, filter Filter) ([]*Unit, error) {
	tx := applyFilter(s.db.WithContext(ctx).Model(&UnitRecord{}), filter).
		Order("created_at ASC, id ASC")

	// Tag matching happens over the decoded JSON column, so pagination moves
	// after it.
	paged := len(filter.Tags) == 0
	if paged {
		if filter.Offset > 0 {
			tx = tx.Offset(filter.Offset)
		}
		if filter.Limit > 0 {
			tx = tx.Limit(filter.Limit)
		}
	}

	var records []UnitRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list units")
	}

	units := make([]*Unit, 0, len(records))
	for _, record := range records {
		unit, err := record.toUnit()
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}

	if !paged {
		units = lo.Filter(units, func(unit *Unit, _ int) bool {
			return matchesTags(unit, filter.Tags)
		})
		if filter.Offset > 0 {
			if filter.Offset >= len(units) {
				units = nil
			} else {
				units = units[filter.Offset:]
			}
		}
		if filter.Limit > 0 && len(units) > filter.Limit {
			units = units[:filter.Limit]
		}
	}

	if filter.WithEmbeddings {
		if err := s.attachEmbeddings(ctx, units); err != nil {
			return nil, err
		}
	}
	return units, nil
}

func (s *SqliteStore) ListIDs(ctx context.Context, filter Filter) ([]string, error) {
	filter.WithEmbeddings = false
	units, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return lo.Map(units, func(unit *Unit, _ int) string { return unit.ID }), nil
}

func (s *SqliteStore) Count(ctx context.Context, filter Filter) (int64, error) {
	filter.Offset = 0
	filter.Limit = 0

	if len(filter.Tags) > 0 {
		units, err := s.List(ctx, filter)
		if err != nil {
			return 0, err
		}
		return int64(len(units)), nil
	}

	var count int64
	if err := applyFilter(s.db.WithContext(ctx).Model(&UnitRecord{}), filter).Count(&count).Error; err != nil {
		return 0, errors.Wrapf(err, "failed to count units")
	}
	return count, nil
}

func (s *SqliteStore) Update(ctx context.Context, units []*Unit) error {
	if len(units) == 0 {
		return nil
	}
	for _, unit := range units {
		if err := unit.Validate(); err != nil {
			return err
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, unit := range units {
			record := newUnitRecord(unit)
			res := tx.Model(&UnitRecord{}).
				Where("id = ?", unit.ID).
				Select("*").Omit("id", "created_at").
				Updates(&record)
			if res.Error != nil {
				return errors.Wrapf(res.Error, "failed to update unit %s", unit.ID)
			}
			if res.RowsAffected == 0 {
				return errors.Wrapf(errors.ErrNotFound, "unit %s", unit.ID)
			}
		}
		return nil
	})
}

func (s *SqliteStore) Search(ctx context.Context, embedding []float32, filter Filter, limit int) ([]ScoredUnit, error) {
	if len(embedding) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "query embedding is empty")
	}
	if len(embedding) != s.vecDim {
		return nil, errors.Wrapf(errors.ErrInvalidParams,
			"query embedding dimension %d, store expects %d", len(embedding), s.vecDim)
	}
	if limit <= 0 {
		limit = 10
	}

	candidateIDs, err := s.candidateIDs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(candidateIDs) == 0 {
		return []ScoredUnit{}, nil
	}

	serialized, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize query embedding")
	}

	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT unit_id, distance
		FROM unit_vectors
		WHERE embedding MATCH ? AND unit_id IN ?
		ORDER BY distance
		LIMIT ?
	`, serialized, candidateIDs, limit).Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to execute vector search")
	}
	defer rows.Close()

	distances := make(map[string]float64)
	var ids []string
	for rows.Next() {
		var (
			id       string
			distance float64
		)
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, errors.Wrapf(err, "failed to scan search row")
		}
		ids = append(ids, id)
		distances[id] = distance
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "vector search rows failed")
	}
	if len(ids) == 0 {
		return []ScoredUnit{}, nil
	}

	var records []UnitRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to fetch searched units")
	}

	scored := make([]ScoredUnit, 0, len(records))
	for _, record := range records {
		unit, err := record.toUnit()
		if err != nil {
			return nil, err
		}
		scored = append(scored, ScoredUnit{
			Unit: unit,
			// Cosine distance back to similarity.
			Similarity: 1.0 - distances[unit.ID],
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	return scored, nil
}

// candidateIDs narrows a search to units passing the relational filters; tag
// matching happens over the decoded column.
func (s *SqliteStore) candidateIDs(ctx context.Context, filter Filter) ([]string, error) {
	type narrowRecord struct {
		ID   string
		Tags datatypes.JSONSlice[string]
	}

	var narrow []narrowRecord
	if err := applyFilter(s.db.WithContext(ctx).Model(&UnitRecord{}), filter).
		Select("id", "tags").
		Find(&narrow).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to select search candidates")
	}

	ids := make([]string, 0, len(narrow))
	for _, record := range narrow {
		if len(filter.Tags) > 0 && !matchesTags(&Unit{Tags: []string(record.Tags)}, filter.Tags) {
			continue
		}
		ids = append(ids, record.ID)
	}
	return ids, nil
}

func (s *SqliteStore) RecordAccess(ctx context.Context, unitIDs []string, at time.Time) error {
	if len(unitIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"UPDATE units SET last_access_at = ? WHERE id IN ?", at, unitIDs,
		).Error; err != nil {
			return errors.Wrapf(err, "failed to touch unit access times")
		}
		events := lo.Map(unitIDs, func(id string, _ int) AccessEventRecord {
			return AccessEventRecord{UnitID: id, AccessedAt: at}
		})
		if err := tx.Create(&events).Error; err != nil {
			return errors.Wrapf(err, "failed to record access events")
		}
		return nil
	})
}

func (s *SqliteStore) AccessCounts(ctx context.Context, unitIDs []string, since time.Time) (map[string]int, error) {
	counts := make(map[string]int, len(unitIDs))
	if len(unitIDs) == 0 {
		return counts, nil
	}

	type countRow struct {
		UnitID string
		N      int
	}
	var rows []countRow
	if err := s.db.WithContext(ctx).Model(&AccessEventRecord{}).
		Select("unit_id, COUNT(*) AS n").
		Where("unit_id IN ? AND accessed_at >= ?", unitIDs, since).
		Group("unit_id").
		Scan(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to count access events")
	}
	for _, row := range rows {
		counts[row.UnitID] = row.N
	}
	return counts, nil
}

// DB exposes the underlying handle so sibling persistence (index
// checkpoints) can share the connection and its WAL.
func (s *SqliteStore) DB() *gorm.DB {
	return s.db
}

func (s *SqliteStore) Close() error {
	return db.CloseDB(s.db)
}

func (s *SqliteStore) attachEmbeddings(ctx context.Context, units []*Unit) error {
	if len(units) == 0 {
		return nil
	}
	ids := lo.Map(units, func(unit *Unit, _ int) string { return unit.ID })

	rows, err := s.db.WithContext(ctx).Raw(
		"SELECT unit_id, embedding FROM unit_vectors WHERE unit_id IN ?", ids,
	).Rows()
	if err != nil {
		return errors.Wrapf(err, "failed to load unit vectors")
	}
	defer rows.Close()

	vectors := make(map[string][]float32, len(units))
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return errors.Wrapf(err, "failed to scan unit vector")
		}
		vector, err := deserializeFloat32(blob)
		if err != nil {
			return errors.Wrapf(err, "failed to decode vector for %s", id)
		}
		vectors[id] = vector
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, "unit vector rows failed")
	}

	for _, unit := range units {
		unit.Embedding = vectors[unit.ID]
	}
	return nil
}

func applyFilter(tx *gorm.DB, filter Filter) *gorm.DB {
	if len(filter.IDs) > 0 {
		tx = tx.Where("id IN ?", filter.IDs)
	}
	if len(filter.Statuses) > 0 {
		statuses := lo.Map(filter.Statuses, func(s Status, _ int) string { return string(s) })
		tx = tx.Where("status IN ?", statuses)
	}
	if len(filter.SourceTypes) > 0 {
		sources := lo.Map(filter.SourceTypes, func(t SourceType, _ int) string { return string(t) })
		tx = tx.Where("source_type IN ?", sources)
	}
	if filter.SourceID != "" {
		tx = tx.Where("source_id = ?", filter.SourceID)
	}
	if !filter.CreatedBefore.IsZero() {
		tx = tx.Where("created_at < ?", filter.CreatedBefore)
	}
	if !filter.CreatedAfter.IsZero() {
		tx = tx.Where("created_at > ?", filter.CreatedAfter)
	}
	if !filter.UpdatedAfter.IsZero() {
		tx = tx.Where("updated_at > ?", filter.UpdatedAfter)
	}
	if filter.MinImportance > 0 {
		tx = tx.Where("importance >= ?", filter.MinImportance)
	}
	return tx
}

func matchesTags(unit *Unit, tags []string) bool {
	for _, tag := range tags {
		if lo.Contains(unit.Tags, tag) {
			return true
		}
	}
	return false
}

func newUnitRecord(unit *Unit) UnitRecord {
	return UnitRecord{
		ID:           unit.ID,
		SourceID:     unit.SourceID,
		Content:      unit.Content,
		Code:         unit.Code,
		ParentID:     unit.ParentID,
		Entropy:      unit.Entropy,
		Perplexity:   unit.Perplexity,
		Importance:   unit.Importance,
		Confidence:   unit.Confidence,
		Status:       string(unit.Status),
		RetireReason: string(unit.RetireReason),
		FlagReason:   string(unit.FlagReason),
		Tags:         datatypes.NewJSONSlice(unit.Tags),
		SourceType:   string(unit.SourceType),
		LastAccessAt: unit.LastAccessAt,
		CreatedAt:    unit.CreatedAt,
		UpdatedAt:    unit.UpdatedAt,
	}
}

func (r UnitRecord) toUnit() (*Unit, error) {
	status := Status(r.Status)
	if !status.Valid() {
		return nil, errors.Errorf("unit %s has unknown stored status %q", r.ID, r.Status)
	}
	sourceType := SourceType(r.SourceType)
	if !sourceType.Valid() {
		return nil, errors.Errorf("unit %s has unknown stored source type %q", r.ID, r.SourceType)
	}

	return &Unit{
		ID:           r.ID,
		SourceID:     r.SourceID,
		Content:      r.Content,
		Code:         r.Code,
		ParentID:     r.ParentID,
		Entropy:      r.Entropy,
		Perplexity:   r.Perplexity,
		Importance:   r.Importance,
		Confidence:   r.Confidence,
		Status:       status,
		RetireReason: RetireReason(r.RetireReason),
		FlagReason:   RetireReason(r.FlagReason),
		Tags:         []string(r.Tags),
		SourceType:   sourceType,
		LastAccessAt: r.LastAccessAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("vector blob length %d not 4-byte aligned", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}
