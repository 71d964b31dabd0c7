package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/andresfranco/portfolio-suite-sub002/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScopeFilter 检索范围过滤，两条检索腿使用完全相同的过滤条件
type ScopeFilter struct {
	TenantID   string
	Visibility []string
	Tables     []string
	Language   string
}

// Match 一条检索命中
type Match struct {
	ChunkID     uint    `json:"chunk_id"`
	SourceTable string  `json:"source_table"`
	SourceID    string  `json:"source_id"`
	SourceField string  `json:"source_field"`
	PartIndex   int     `json:"part_index"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

// VectorBackend 向量检索腿
type VectorBackend interface {
	Search(ctx context.Context, vector []float32, topK int, filter ScopeFilter) ([]Match, error)
}

// FulltextBackend 全文检索腿
type FulltextBackend interface {
	Search(ctx context.Context, query string, topK int, filter ScopeFilter) ([]Match, error)
}

// Retriever 混合检索引擎：向量与全文两条腿各取topK，RRF融合
type Retriever struct {
	db       *gorm.DB
	embedder *EmbeddingClient
	vector   VectorBackend
	fulltext FulltextBackend
	rrfK     int
}

// NewRetriever 创建检索器
func NewRetriever(db *gorm.DB, embedder *EmbeddingClient, vector VectorBackend, fulltext FulltextBackend, rrfK int) *Retriever {
	if rrfK <= 0 {
		rrfK = 60
	}
	return &Retriever{
		db:       db,
		embedder: embedder,
		vector:   vector,
		fulltext: fulltext,
		rrfK:     rrfK,
	}
}

// VectorSearch 仅向量检索
func (r *Retriever) VectorSearch(ctx context.Context, query string, topK int, filter ScopeFilter) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	matches, err := r.vector.Search(ctx, vec, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	return matches, nil
}

// FulltextSearch 仅全文检索
func (r *Retriever) FulltextSearch(ctx context.Context, query string, topK int, filter ScopeFilter) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	matches, err := r.fulltext.Search(ctx, query, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	return matches, nil
}

// HybridSearch 混合检索。单腿失败降级为另一条腿；两腿都失败才报错。
func (r *Retriever) HybridSearch(ctx context.Context, query string, topK int, filter ScopeFilter) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	vectorMatches, vErr := r.VectorSearch(ctx, query, topK, filter)
	fulltextMatches, fErr := r.FulltextSearch(ctx, query, topK, filter)

	if vErr != nil && fErr != nil {
		return nil, fmt.Errorf("%w: vector: %v, fulltext: %v", ErrRetrievalUnavailable, vErr, fErr)
	}
	if vErr != nil {
		logger.Warn("vector leg failed, falling back to fulltext", zap.Error(vErr))
		return fulltextMatches, nil
	}
	if fErr != nil {
		logger.Warn("fulltext leg failed, falling back to vector", zap.Error(fErr))
		return vectorMatches, nil
	}

	fused := fuseRRF([][]Match{vectorMatches, fulltextMatches}, r.rrfK)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// fuseRRF 倒数排名融合：每条命中按1/(k+rank)计分（rank从1起），
// 跨列表求和后降序。得分相同的保持首次出现的顺序。
func fuseRRF(lists [][]Match, k int) []Match {
	type fusedEntry struct {
		match Match
		score float64
		order int
	}

	entries := make(map[uint]*fusedEntry)
	var keys []uint
	for _, list := range lists {
		for rank, match := range list {
			contribution := 1.0 / float64(k+rank+1)
			entry, ok := entries[match.ChunkID]
			if !ok {
				m := match
				entries[match.ChunkID] = &fusedEntry{match: m, score: contribution, order: len(keys)}
				keys = append(keys, match.ChunkID)
				continue
			}
			entry.score += contribution
		}
	}

	fused := make([]*fusedEntry, 0, len(keys))
	for _, id := range keys {
		fused = append(fused, entries[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].score > fused[j].score
	})

	out := make([]Match, len(fused))
	for i, entry := range fused {
		entry.match.Score = entry.score
		out[i] = entry.match
	}
	return out
}

// ListLatest 调试用：按更新时间列出活跃分块
func (r *Retriever) ListLatest(ctx context.Context, filter ScopeFilter, limit int) ([]models.RagChunk, error) {
	if limit <= 0 {
		limit = 50
	}

	query := applyScope(r.db.WithContext(ctx).Model(&models.RagChunk{}), filter).
		Where("is_deleted = ?", false).
		Order("updated_at DESC").
		Limit(limit)

	var chunks []models.RagChunk
	if err := query.Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

func applyScope(query *gorm.DB, filter ScopeFilter) *gorm.DB {
	if filter.TenantID != "" {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if len(filter.Visibility) > 0 {
		query = query.Where("visibility IN ?", filter.Visibility)
	}
	if len(filter.Tables) > 0 {
		query = query.Where("source_table IN ?", filter.Tables)
	}
	if filter.Language != "" {
		query = query.Where("lang = ?", filter.Language)
	}
	return query
}

// PostgresVectorBackend 退化向量检索：加载候选行后在进程内做余弦
// 排序。数据量可控时足够，超出后切milvus。
type PostgresVectorBackend struct {
	db             *gorm.DB
	model          string
	threshold      float64
	candidateLimit int
}

// NewPostgresVectorBackend 创建Postgres向量腿
func NewPostgresVectorBackend(db *gorm.DB, model string, threshold float64, candidateLimit int) *PostgresVectorBackend {
	if candidateLimit <= 0 {
		candidateLimit = 500
	}
	return &PostgresVectorBackend{
		db:             db,
		model:          model,
		threshold:      threshold,
		candidateLimit: candidateLimit,
	}
}

type vectorCandidate struct {
	models.RagChunk
	EmbeddingJSON string `gorm:"column:embedding_json"`
}

func (b *PostgresVectorBackend) Search(ctx context.Context, vector []float32, topK int, filter ScopeFilter) ([]Match, error) {
	query := applyScope(b.db.WithContext(ctx).Model(&models.RagChunk{}), filter).
		Select("rag_chunks.*, rag_embeddings.embedding AS embedding_json").
		Joins("JOIN rag_embeddings ON rag_embeddings.chunk_id = rag_chunks.chunk_id").
		Where("rag_chunks.is_deleted = ?", false).
		Where("rag_embeddings.model = ? AND rag_embeddings.modality = ?", b.model, models.ModalityText).
		Order("rag_chunks.updated_at DESC").
		Limit(b.candidateLimit)

	var candidates []vectorCandidate
	if err := query.Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to load vector candidates: %w", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, cand := range candidates {
		var embedding []float32
		if err := json.Unmarshal([]byte(cand.EmbeddingJSON), &embedding); err != nil {
			logger.Warn("failed to decode stored embedding", zap.Uint("chunk_id", cand.ChunkID), zap.Error(err))
			continue
		}
		score := cosineSimilarity(vector, embedding)
		if score < b.threshold {
			continue
		}
		matches = append(matches, Match{
			ChunkID:     cand.ChunkID,
			SourceTable: cand.SourceTable,
			SourceID:    cand.SourceID,
			SourceField: cand.SourceField,
			PartIndex:   cand.PartIndex,
			Text:        cand.Text,
			Score:       score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// PostgresFulltextBackend 基于tsvector/ts_rank的全文腿，无命中时
// 退化为ILIKE子串匹配
type PostgresFulltextBackend struct {
	db *gorm.DB
}

func NewPostgresFulltextBackend(db *gorm.DB) *PostgresFulltextBackend {
	return &PostgresFulltextBackend{db: db}
}

func (b *PostgresFulltextBackend) Search(ctx context.Context, query string, topK int, filter ScopeFilter) ([]Match, error) {
	type row struct {
		models.RagChunk
		Rank float64 `gorm:"column:rank"`
	}

	base := applyScope(b.db.WithContext(ctx).Model(&models.RagChunk{}), filter).
		Where("is_deleted = ?", false)

	var rows []row
	err := base.Session(&gorm.Session{}).
		Select("rag_chunks.*, ts_rank(to_tsvector('simple', text), plainto_tsquery('simple', ?)) AS rank", query).
		Where("to_tsvector('simple', text) @@ plainto_tsquery('simple', ?)", query).
		Order("rank DESC").
		Limit(topK).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to run fulltext query: %w", err)
	}

	if len(rows) == 0 {
		// tsquery不命中时退化为子串匹配
		err = base.Session(&gorm.Session{}).
			Select("rag_chunks.*, 0.01 AS rank").
			Where("text ILIKE ?", "%"+query+"%").
			Order("updated_at DESC").
			Limit(topK).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to run fallback fulltext query: %w", err)
		}
	}

	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, Match{
			ChunkID:     r.ChunkID,
			SourceTable: r.SourceTable,
			SourceID:    r.SourceID,
			SourceField: r.SourceField,
			PartIndex:   r.PartIndex,
			Text:        r.Text,
			Score:       r.Rank,
		})
	}
	return matches, nil
}
