package rag

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/andresfranco/portfolio-suite-sub002/internal/config"
	"github.com/andresfranco/portfolio-suite-sub002/internal/models"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// MilvusVectorBackend 外置向量腿。范围过滤通过Milvus表达式下推，
// 与Postgres腿的过滤语义保持一致。
type MilvusVectorBackend struct {
	milvusClient client.Client
	collection   string
	dim          int
	threshold    float64
	ensured      bool
}

// NewMilvusVectorBackend 创建Milvus向量腿
func NewMilvusVectorBackend(cfg config.MilvusConfig, dim int, threshold float64) (*MilvusVectorBackend, error) {
	address := cfg.Address
	if address == "" {
		address = "localhost:19530"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "rag_vectors"
	}
	database := cfg.Database
	if database == "" {
		database = "default"
	}
	if dim <= 0 {
		dim = StubDim
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       address,
		DBName:        database,
		Username:      cfg.Username,
		Password:      cfg.Password,
		EnableTLSAuth: cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &MilvusVectorBackend{
		milvusClient: milvusClient,
		collection:   collection,
		dim:          dim,
		threshold:    threshold,
	}, nil
}

func (b *MilvusVectorBackend) ensureCollection(ctx context.Context) error {
	if b.ensured {
		return nil
	}

	hasCollection, err := b.milvusClient.HasCollection(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		b.ensured = true
		return nil
	}

	schema := &entity.Schema{
		CollectionName: b.collection,
		Description:    "chunk vectors",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     "source_table",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "100",
				},
			},
			{
				Name:     "source_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "100",
				},
			},
			{
				Name:     "tenant_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "100",
				},
			},
			{
				Name:     "visibility",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "20",
				},
			},
			{
				Name:     "lang",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "10",
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(b.dim),
				},
			},
		},
	}

	if err := b.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		return fmt.Errorf("failed to create index definition: %w", err)
	}
	if err := b.milvusClient.CreateIndex(ctx, b.collection, "vector", index, false); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	b.ensured = true
	return nil
}

// UpsertChunks 批量写入分块向量
func (b *MilvusVectorBackend) UpsertChunks(ctx context.Context, chunks []models.RagChunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("vector count mismatch: got %d, want %d", len(vectors), len(chunks))
	}
	if err := b.ensureCollection(ctx); err != nil {
		return err
	}

	chunkIDs := make([]int64, len(chunks))
	tables := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	tenants := make([]string, len(chunks))
	visibilities := make([]string, len(chunks))
	langs := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		chunkIDs[i] = int64(chunk.ChunkID)
		tables[i] = chunk.SourceTable
		ids[i] = chunk.SourceID
		tenants[i] = chunk.TenantID
		visibilities[i] = chunk.Visibility
		langs[i] = chunk.Lang
		texts[i] = chunk.Text
	}

	_, err := b.milvusClient.Insert(ctx, b.collection, "",
		entity.NewColumnInt64("chunk_id", chunkIDs),
		entity.NewColumnVarChar("source_table", tables),
		entity.NewColumnVarChar("source_id", ids),
		entity.NewColumnVarChar("tenant_id", tenants),
		entity.NewColumnVarChar("visibility", visibilities),
		entity.NewColumnVarChar("lang", langs),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector("vector", b.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}
	return nil
}

// DeleteChunks 删除退役分块的向量
func (b *MilvusVectorBackend) DeleteChunks(ctx context.Context, chunkIDs []uint) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := b.ensureCollection(ctx); err != nil {
		return err
	}

	ids := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = strconv.FormatUint(uint64(id), 10)
	}
	expr := fmt.Sprintf("chunk_id in [%s]", joinComma(ids))
	if err := b.milvusClient.Delete(ctx, b.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func (b *MilvusVectorBackend) Search(ctx context.Context, vector []float32, topK int, filter ScopeFilter) ([]Match, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if err := b.ensureCollection(ctx); err != nil {
		return nil, err
	}

	expr := buildMilvusExpr(filter)
	sp, _ := entity.NewIndexHNSWSearchParam(64)
	results, err := b.milvusClient.Search(
		ctx,
		b.collection,
		[]string{},
		expr,
		[]string{"chunk_id", "source_table", "source_id", "text"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	result := results[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	var chunkIDs []int64
	var tables, ids, texts []string
	for _, field := range result.Fields {
		switch field.Name() {
		case "chunk_id":
			if col, ok := field.(*entity.ColumnInt64); ok {
				chunkIDs = col.Data()
			}
		case "source_table":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				tables = col.Data()
			}
		case "source_id":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				ids = col.Data()
			}
		case "text":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				texts = col.Data()
			}
		}
	}

	matches := make([]Match, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		match := Match{}
		if i < len(chunkIDs) {
			match.ChunkID = uint(chunkIDs[i])
		}
		if i < len(tables) {
			match.SourceTable = tables[i]
		}
		if i < len(ids) {
			match.SourceID = ids[i]
		}
		if i < len(texts) {
			match.Text = texts[i]
		}
		if i < len(result.Scores) {
			match.Score = float64(result.Scores[i])
		}
		matches = append(matches, match)
	}
	return applyScoreThreshold(matches, b.threshold), nil
}

// applyScoreThreshold 丢弃低于相似度下限的结果，与Postgres腿的阈值语义一致
func applyScoreThreshold(matches []Match, threshold float64) []Match {
	out := matches[:0]
	for _, match := range matches {
		if match.Score < threshold {
			continue
		}
		out = append(out, match)
	}
	return out
}

func buildMilvusExpr(filter ScopeFilter) string {
	expr := ""
	appendExpr := func(clause string) {
		if expr == "" {
			expr = clause
			return
		}
		expr = expr + " && " + clause
	}

	if filter.TenantID != "" {
		appendExpr(fmt.Sprintf("tenant_id == %q", filter.TenantID))
	}
	if len(filter.Visibility) > 0 {
		quoted := make([]string, len(filter.Visibility))
		for i, v := range filter.Visibility {
			quoted[i] = strconv.Quote(v)
		}
		appendExpr(fmt.Sprintf("visibility in [%s]", joinComma(quoted)))
	}
	if len(filter.Tables) > 0 {
		quoted := make([]string, len(filter.Tables))
		for i, t := range filter.Tables {
			quoted[i] = strconv.Quote(t)
		}
		appendExpr(fmt.Sprintf("source_table in [%s]", joinComma(quoted)))
	}
	if filter.Language != "" {
		appendExpr(fmt.Sprintf("lang == %q", filter.Language))
	}
	return expr
}
