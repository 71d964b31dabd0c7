package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/andresfranco/portfolio-suite-sub002/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FulltextMirror 可选的外部全文索引（Elasticsearch）。
// Postgres自带tsvector索引时为nil。
type FulltextMirror interface {
	IndexChunks(ctx context.Context, chunks []models.RagChunk) error
	DeleteChunks(ctx context.Context, chunkIDs []uint) error
}

// VectorMirror 可选的外置向量库（Milvus）。
// 向量留在Postgres内检索时为nil。
type VectorMirror interface {
	UpsertChunks(ctx context.Context, chunks []models.RagChunk, vectors [][]float32) error
	DeleteChunks(ctx context.Context, chunkIDs []uint) error
}

// Indexer 版本化分块存储的写入端。每个源记录一个事务；
// 向量化在事务开始前批量完成，事务内不做网络调用。
type Indexer struct {
	db           *gorm.DB
	chunker      *Chunker
	extractor    *Extractor
	embedder     *EmbeddingClient
	registry     *LoaderRegistry
	mirror       FulltextMirror
	vectorMirror VectorMirror
}

// NewIndexer 创建索引器，两个mirror均可为nil
func NewIndexer(db *gorm.DB, chunker *Chunker, extractor *Extractor, embedder *EmbeddingClient, registry *LoaderRegistry, mirror FulltextMirror, vectorMirror VectorMirror) *Indexer {
	return &Indexer{
		db:           db,
		chunker:      chunker,
		extractor:    extractor,
		embedder:     embedder,
		registry:     registry,
		mirror:       mirror,
		vectorMirror: vectorMirror,
	}
}

// plannedChunk 期望状态中的一个分块槽位
type plannedChunk struct {
	Field     string
	PartIndex int
	Text      string
	Checksum  string
	URI       string
	MimeType  string
}

// slotUpdate 内容变化的槽位：旧版本软删除，新版本version+1
type slotUpdate struct {
	Old models.RagChunk
	New plannedChunk
}

// slotPlan 对一个源记录的增量写入计划
type slotPlan struct {
	Inserts []plannedChunk
	Updates []slotUpdate
	Retires []models.RagChunk
	Skipped int
}

type slotKey struct {
	Field string
	Part  int
}

// planSlots 对比现有活跃分块与期望分块，产出插入/更新/退役/跳过
// 决策。纯函数，幂等：期望状态不变时产出空计划。
func planSlots(existing []models.RagChunk, desired []plannedChunk) slotPlan {
	var plan slotPlan

	existingBySlot := make(map[slotKey]models.RagChunk, len(existing))
	for _, chunk := range existing {
		existingBySlot[slotKey{Field: chunk.SourceField, Part: chunk.PartIndex}] = chunk
	}

	seen := make(map[slotKey]bool, len(desired))
	for _, want := range desired {
		key := slotKey{Field: want.Field, Part: want.PartIndex}
		seen[key] = true

		old, ok := existingBySlot[key]
		if !ok {
			plan.Inserts = append(plan.Inserts, want)
			continue
		}
		if old.Checksum == want.Checksum {
			plan.Skipped++
			continue
		}
		plan.Updates = append(plan.Updates, slotUpdate{Old: old, New: want})
	}

	for _, chunk := range existing {
		if !seen[slotKey{Field: chunk.SourceField, Part: chunk.PartIndex}] {
			plan.Retires = append(plan.Retires, chunk)
		}
	}

	return plan
}

func checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// IndexRecord 索引单个源记录：加载、切块、对比、写入。
// 记录已被删除时等价于RetireRecord。
func (ix *Indexer) IndexRecord(ctx context.Context, table, id string) error {
	loader, err := ix.registry.Get(table)
	if err != nil {
		return err
	}

	doc, err := loader.Load(ctx, ix.db, id)
	if errors.Is(err, ErrRecordNotFound) {
		return ix.RetireRecord(ctx, table, id)
	}
	if err != nil {
		ix.writeStatus(ctx, table, id, err)
		return err
	}

	desired := ix.buildDesired(ctx, doc)

	var existing []models.RagChunk
	if err := ix.db.WithContext(ctx).
		Where("source_table = ? AND source_id = ? AND is_deleted = ?", table, id, false).
		Find(&existing).Error; err != nil {
		err = fmt.Errorf("failed to load existing chunks: %w", err)
		ix.writeStatus(ctx, table, id, err)
		return err
	}

	plan := planSlots(existing, desired)
	if len(plan.Inserts) == 0 && len(plan.Updates) == 0 && len(plan.Retires) == 0 {
		ix.writeStatus(ctx, table, id, nil)
		return nil
	}

	// 事务前批量向量化
	texts := make([]string, 0, len(plan.Inserts)+len(plan.Updates))
	for _, want := range plan.Inserts {
		texts = append(texts, want.Text)
	}
	for _, upd := range plan.Updates {
		texts = append(texts, upd.New.Text)
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		err = fmt.Errorf("failed to embed chunks: %w", err)
		ix.writeStatus(ctx, table, id, err)
		return err
	}

	var created []models.RagChunk
	var retiredIDs []uint
	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vi := 0
		for _, want := range plan.Inserts {
			// 槽位可能留有历史版本，版本号从槽位最大值续起
			version, err := nextSlotVersion(tx, table, id, want.Field, want.PartIndex)
			if err != nil {
				return err
			}
			chunk, err := ix.createChunk(tx, table, id, doc, want, version, vectors[vi])
			if err != nil {
				return err
			}
			created = append(created, chunk)
			vi++
		}
		for _, upd := range plan.Updates {
			if err := tx.Model(&models.RagChunk{}).
				Where("chunk_id = ?", upd.Old.ChunkID).
				Updates(map[string]interface{}{"is_deleted": true, "updated_at": time.Now()}).Error; err != nil {
				return fmt.Errorf("failed to retire chunk %d: %w", upd.Old.ChunkID, err)
			}
			chunk, err := ix.createChunk(tx, table, id, doc, upd.New, upd.Old.Version+1, vectors[vi])
			if err != nil {
				return err
			}
			created = append(created, chunk)
			retiredIDs = append(retiredIDs, upd.Old.ChunkID)
			vi++
		}
		for _, old := range plan.Retires {
			if err := tx.Model(&models.RagChunk{}).
				Where("chunk_id = ?", old.ChunkID).
				Updates(map[string]interface{}{"is_deleted": true, "updated_at": time.Now()}).Error; err != nil {
				return fmt.Errorf("failed to retire chunk %d: %w", old.ChunkID, err)
			}
			retiredIDs = append(retiredIDs, old.ChunkID)
		}
		return nil
	})
	ix.writeStatus(ctx, table, id, err)
	if err != nil {
		return err
	}

	ix.mirrorChanges(ctx, created, vectors, retiredIDs)

	logger.Info("record indexed",
		zap.String("table", table),
		zap.String("id", id),
		zap.Int("inserted", len(plan.Inserts)),
		zap.Int("updated", len(plan.Updates)),
		zap.Int("retired", len(plan.Retires)),
		zap.Int("skipped", plan.Skipped))
	return nil
}

// buildDesired 把源记录展开为期望分块列表。附件提取失败只丢弃该字段。
func (ix *Indexer) buildDesired(ctx context.Context, doc *SourceDoc) []plannedChunk {
	var desired []plannedChunk
	for _, field := range doc.Fields {
		text := field.Text
		if text == "" && field.URI != "" {
			text = ix.extractor.ExtractText(ctx, field.URI, field.MimeType)
		}
		if text == "" {
			continue
		}
		for _, chunk := range ix.chunker.Split(text) {
			desired = append(desired, plannedChunk{
				Field:     field.Name,
				PartIndex: chunk.Index,
				Text:      chunk.Text,
				Checksum:  checksum(chunk.Text),
				URI:       field.URI,
				MimeType:  field.MimeType,
			})
		}
	}
	return desired
}

func nextSlotVersion(tx *gorm.DB, table, id, field string, part int) (int, error) {
	var maxVersion int
	err := tx.Model(&models.RagChunk{}).
		Where("source_table = ? AND source_id = ? AND source_field = ? AND part_index = ?", table, id, field, part).
		Select("COALESCE(MAX(version), 0)").
		Scan(&maxVersion).Error
	if err != nil {
		return 0, fmt.Errorf("failed to resolve slot version: %w", err)
	}
	return maxVersion + 1, nil
}

func (ix *Indexer) createChunk(tx *gorm.DB, table, id string, doc *SourceDoc, want plannedChunk, version int, vector []float32) (models.RagChunk, error) {
	chunk := models.RagChunk{
		SourceTable: table,
		SourceID:    id,
		SourceField: want.Field,
		SourceURI:   want.URI,
		Modality:    models.ModalityText,
		MimeType:    want.MimeType,
		PartIndex:   want.PartIndex,
		Version:     version,
		Text:        want.Text,
		Checksum:    want.Checksum,
		Lang:        doc.Lang,
		Visibility:  doc.Visibility,
		TenantID:    doc.TenantID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if chunk.Visibility == "" {
		chunk.Visibility = models.VisibilityPublic
	}
	if err := tx.Create(&chunk).Error; err != nil {
		return chunk, fmt.Errorf("failed to create chunk: %w", err)
	}

	encoded, err := json.Marshal(vector)
	if err != nil {
		return chunk, fmt.Errorf("failed to encode embedding: %w", err)
	}
	embedding := models.RagEmbedding{
		ChunkID:   chunk.ChunkID,
		Model:     ix.embedder.Model(),
		Modality:  models.ModalityText,
		Dim:       len(vector),
		Embedding: string(encoded),
		CreatedAt: time.Now(),
	}
	if err := tx.Create(&embedding).Error; err != nil {
		return chunk, fmt.Errorf("failed to create embedding: %w", err)
	}
	return chunk, nil
}

// RetireRecord 软删除源记录的全部活跃分块
func (ix *Indexer) RetireRecord(ctx context.Context, table, id string) error {
	if _, err := ix.registry.Get(table); err != nil {
		return err
	}

	var chunkIDs []uint
	if err := ix.db.WithContext(ctx).Model(&models.RagChunk{}).
		Where("source_table = ? AND source_id = ? AND is_deleted = ?", table, id, false).
		Pluck("chunk_id", &chunkIDs).Error; err != nil {
		ix.writeStatus(ctx, table, id, err)
		return fmt.Errorf("failed to list chunks for retirement: %w", err)
	}
	if len(chunkIDs) == 0 {
		ix.writeStatus(ctx, table, id, nil)
		return nil
	}

	err := ix.db.WithContext(ctx).Model(&models.RagChunk{}).
		Where("chunk_id IN ?", chunkIDs).
		Updates(map[string]interface{}{"is_deleted": true, "updated_at": time.Now()}).Error
	ix.writeStatus(ctx, table, id, err)
	if err != nil {
		return fmt.Errorf("failed to retire chunks: %w", err)
	}

	ix.mirrorChanges(ctx, nil, nil, chunkIDs)

	logger.Info("record retired",
		zap.String("table", table),
		zap.String("id", id),
		zap.Int("chunks", len(chunkIDs)))
	return nil
}

// RetireMissingChunks 清扫：退役源行已不存在的活跃分块
func (ix *Indexer) RetireMissingChunks(ctx context.Context, table string) (int, error) {
	loader, err := ix.registry.Get(table)
	if err != nil {
		return 0, err
	}

	liveIDs, err := loader.ListIDs(ctx, ix.db, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list live source ids: %w", err)
	}
	live := make(map[string]bool, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = true
	}

	var indexedIDs []string
	if err := ix.db.WithContext(ctx).Model(&models.RagChunk{}).
		Where("source_table = ? AND is_deleted = ?", table, false).
		Distinct("source_id").
		Pluck("source_id", &indexedIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to list indexed source ids: %w", err)
	}

	retired := 0
	for _, id := range indexedIDs {
		if live[id] {
			continue
		}
		if err := ix.RetireRecord(ctx, table, id); err != nil {
			logger.Error("failed to retire missing record",
				zap.String("table", table),
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		retired++
	}

	logger.Info("sweep completed", zap.String("table", table), zap.Int("retired", retired))
	return retired, nil
}

// ReindexTables 批量回填。单条记录失败只记日志，不中断整表。
func (ix *Indexer) ReindexTables(ctx context.Context, tables []string, limit, offset int) error {
	if len(tables) == 0 {
		tables = ix.registry.Tables()
	}

	for _, table := range tables {
		loader, err := ix.registry.Get(table)
		if err != nil {
			return err
		}

		ids, err := loader.ListIDs(ctx, ix.db, limit, offset)
		if err != nil {
			return fmt.Errorf("failed to list ids for table %s: %w", table, err)
		}

		failed := 0
		for _, id := range ids {
			if err := ix.IndexRecord(ctx, table, id); err != nil {
				failed++
				logger.Error("failed to reindex record",
					zap.String("table", table),
					zap.String("id", id),
					zap.Error(err))
			}
		}

		logger.Info("table reindexed",
			zap.String("table", table),
			zap.Int("records", len(ids)),
			zap.Int("failed", failed))
	}
	return nil
}

// writeStatus 记录最近一次索引结果，独立于索引事务，失败只记日志
func (ix *Indexer) writeStatus(ctx context.Context, table, id string, indexErr error) {
	status := models.RagIndexStatus{
		SourceTable:   table,
		SourceID:      id,
		LastIndexedAt: time.Now(),
	}
	if indexErr != nil {
		status.LastError = indexErr.Error()
	}

	err := ix.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_table"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_indexed_at", "last_error"}),
	}).Create(&status).Error
	if err != nil {
		logger.Warn("failed to write index status",
			zap.String("table", table),
			zap.String("id", id),
			zap.Error(err))
	}
}

// mirrorChanges 外部索引的同步是尽力而为：失败只记日志，
// 真相源始终是Postgres里的分块表。
func (ix *Indexer) mirrorChanges(ctx context.Context, created []models.RagChunk, vectors [][]float32, retiredIDs []uint) {
	if ix.mirror != nil {
		if len(created) > 0 {
			if err := ix.mirror.IndexChunks(ctx, created); err != nil {
				logger.Warn("failed to mirror chunks to fulltext index", zap.Error(err))
			}
		}
		if len(retiredIDs) > 0 {
			if err := ix.mirror.DeleteChunks(ctx, retiredIDs); err != nil {
				logger.Warn("failed to delete chunks from fulltext index", zap.Error(err))
			}
		}
	}

	if ix.vectorMirror != nil {
		if len(created) > 0 {
			if err := ix.vectorMirror.UpsertChunks(ctx, created, vectors[:len(created)]); err != nil {
				logger.Warn("failed to mirror vectors to vector store", zap.Error(err))
			}
		}
		if len(retiredIDs) > 0 {
			if err := ix.vectorMirror.DeleteChunks(ctx, retiredIDs); err != nil {
				logger.Warn("failed to delete vectors from vector store", zap.Error(err))
			}
		}
	}
}
