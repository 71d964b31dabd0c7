package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/andresfranco/portfolio-suite-sub002/internal/config"
	"github.com/andresfranco/portfolio-suite-sub002/internal/models"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticFulltext 基于Elasticsearch的全文腿，同时实现FulltextMirror
// （索引器写入镜像）与FulltextBackend（检索）。
type ElasticFulltext struct {
	client    *elasticsearch.Client
	indexName string
	ensured   bool
	mu        sync.Mutex
}

// NewElasticFulltext 创建ES全文索引客户端
func NewElasticFulltext(cfg config.ElasticsearchConfig) (*ElasticFulltext, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	indexName := cfg.IndexPrefix
	if indexName == "" {
		indexName = "rag_chunks"
	}

	return &ElasticFulltext{
		client:    client,
		indexName: indexName,
	}, nil
}

func (e *ElasticFulltext) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ensured {
		return nil
	}

	existsReq := esapi.IndicesExistsRequest{Index: []string{e.indexName}}
	resp, err := existsReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		e.ensured = true
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"chunk_id":     map[string]interface{}{"type": "keyword"},
				"source_table": map[string]interface{}{"type": "keyword"},
				"source_id":    map[string]interface{}{"type": "keyword"},
				"source_field": map[string]interface{}{"type": "keyword"},
				"part_index":   map[string]interface{}{"type": "integer"},
				"tenant_id":    map[string]interface{}{"type": "keyword"},
				"visibility":   map[string]interface{}{"type": "keyword"},
				"lang":         map[string]interface{}{"type": "keyword"},
				"text":         map[string]interface{}{"type": "text"},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createReq := esapi.IndicesCreateRequest{
		Index: e.indexName,
		Body:  bytes.NewReader(body),
	}
	createResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}

	e.ensured = true
	return nil
}

// IndexChunks 写入镜像文档，文档ID复用chunk_id
func (e *ElasticFulltext) IndexChunks(ctx context.Context, chunks []models.RagChunk) error {
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	for _, chunk := range chunks {
		doc := map[string]interface{}{
			"chunk_id":     chunk.ChunkID,
			"source_table": chunk.SourceTable,
			"source_id":    chunk.SourceID,
			"source_field": chunk.SourceField,
			"part_index":   chunk.PartIndex,
			"tenant_id":    chunk.TenantID,
			"visibility":   chunk.Visibility,
			"lang":         chunk.Lang,
			"text":         chunk.Text,
		}

		payload, _ := json.Marshal(doc)
		req := esapi.IndexRequest{
			Index:      e.indexName,
			DocumentID: strconv.FormatUint(uint64(chunk.ChunkID), 10),
			Body:       bytes.NewReader(payload),
		}
		resp, err := req.Do(ctx, e.client)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.IsError() {
			return fmt.Errorf("index chunk %d error: %s", chunk.ChunkID, resp.String())
		}
	}
	return nil
}

// DeleteChunks 删除退役分块的镜像文档
func (e *ElasticFulltext) DeleteChunks(ctx context.Context, chunkIDs []uint) error {
	for _, id := range chunkIDs {
		req := esapi.DeleteRequest{
			Index:      e.indexName,
			DocumentID: strconv.FormatUint(uint64(id), 10),
		}
		resp, err := req.Do(ctx, e.client)
		if err != nil {
			return err
		}
		resp.Body.Close()
		// 404说明镜像里本来就没有，不算错误
		if resp.IsError() && resp.StatusCode != 404 {
			return fmt.Errorf("delete chunk %d error: %s", id, resp.String())
		}
	}
	return nil
}

// Search 全文检索，过滤条件与Postgres腿语义一致
func (e *ElasticFulltext) Search(ctx context.Context, query string, topK int, filter ScopeFilter) ([]Match, error) {
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}

	must := []interface{}{
		map[string]interface{}{
			"match": map[string]interface{}{
				"text": map[string]interface{}{
					"query": query,
				},
			},
		},
	}
	var filters []interface{}
	if filter.TenantID != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"tenant_id": filter.TenantID},
		})
	}
	if len(filter.Visibility) > 0 {
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"visibility": filter.Visibility},
		})
	}
	if len(filter.Tables) > 0 {
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"source_table": filter.Tables},
		})
	}
	if filter.Language != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"lang": filter.Language},
		})
	}

	body := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filters,
			},
		},
	}

	payload, _ := json.Marshal(body)
	searchReq := esapi.SearchRequest{
		Index: []string{e.indexName},
		Body:  bytes.NewReader(payload),
	}
	resp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("search error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					ChunkID     uint   `json:"chunk_id"`
					SourceTable string `json:"source_table"`
					SourceID    string `json:"source_id"`
					SourceField string `json:"source_field"`
					PartIndex   int    `json:"part_index"`
					Text        string `json:"text"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	matches := make([]Match, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		matches = append(matches, Match{
			ChunkID:     hit.Source.ChunkID,
			SourceTable: hit.Source.SourceTable,
			SourceID:    hit.Source.SourceID,
			SourceField: hit.Source.SourceField,
			PartIndex:   hit.Source.PartIndex,
			Text:        hit.Source.Text,
			Score:       hit.Score,
		})
	}
	return matches, nil
}
