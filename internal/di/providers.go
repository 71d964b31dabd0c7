package di

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/andresfranco/portfolio-suite-sub002/internal/cache"
	"github.com/andresfranco/portfolio-suite-sub002/internal/config"
	"github.com/andresfranco/portfolio-suite-sub002/internal/database"
	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/andresfranco/portfolio-suite-sub002/internal/pipeline"
	"github.com/andresfranco/portfolio-suite-sub002/internal/rag"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	providers := []interface{}{
		func() (*config.Config, error) {
			if config.AppConfig == nil {
				return nil, fmt.Errorf("config not loaded")
			}
			return config.AppConfig, nil
		},
		database.NewDB,
		database.NewRedis,
		newChunker,
		rag.NewExtractor,
		rag.NewProvider,
		newEmbeddingClient,
		rag.NewLoaderRegistry,
		newFulltextBackend,
		newVectorBackend,
		newIndexer,
		newRetriever,
		newAnalyzer,
		newAssembler,
		newDeadLetterStore,
		newProducer,
		newQueue,
		newDebouncer,
		newResponseCache,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("failed to register provider: %w", err)
		}
	}
	return nil
}

func newChunker(cfg *config.Config) *rag.Chunker {
	return rag.NewChunker(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
}

func newEmbeddingClient(cfg *config.Config, provider rag.Provider) *rag.EmbeddingClient {
	return rag.NewEmbeddingClient(provider, cfg.Embedding.Model)
}

// fulltextLeg 同时携带检索腿与索引镜像，Postgres模式下镜像为nil
type fulltextLeg struct {
	dig.Out

	Backend rag.FulltextBackend
	Mirror  rag.FulltextMirror
}

func newFulltextBackend(cfg *config.Config, db *gorm.DB) (fulltextLeg, error) {
	if cfg.Search.Provider == "elasticsearch" {
		es, err := rag.NewElasticFulltext(cfg.Search.Elasticsearch)
		if err != nil {
			return fulltextLeg{}, err
		}
		return fulltextLeg{Backend: es, Mirror: es}, nil
	}
	return fulltextLeg{Backend: rag.NewPostgresFulltextBackend(db), Mirror: nil}, nil
}

// vectorLeg 同时携带检索腿与向量镜像，Postgres模式下镜像为nil
type vectorLeg struct {
	dig.Out

	Backend rag.VectorBackend
	Mirror  rag.VectorMirror
}

func newVectorBackend(cfg *config.Config, db *gorm.DB) (vectorLeg, error) {
	if cfg.Search.VectorStore.Provider == "milvus" {
		milvus, err := rag.NewMilvusVectorBackend(cfg.Search.VectorStore.Milvus, cfg.Embedding.Dim, cfg.Retrieval.ScoreThreshold)
		if err != nil {
			return vectorLeg{}, err
		}
		return vectorLeg{Backend: milvus, Mirror: milvus}, nil
	}
	backend := rag.NewPostgresVectorBackend(db, cfg.Embedding.Model, cfg.Retrieval.ScoreThreshold, cfg.Retrieval.CandidateLimit)
	return vectorLeg{Backend: backend, Mirror: nil}, nil
}

func newIndexer(db *gorm.DB, chunker *rag.Chunker, extractor *rag.Extractor, embedder *rag.EmbeddingClient, registry *rag.LoaderRegistry, mirror rag.FulltextMirror, vectorMirror rag.VectorMirror) *rag.Indexer {
	return rag.NewIndexer(db, chunker, extractor, embedder, registry, mirror, vectorMirror)
}

func newRetriever(cfg *config.Config, db *gorm.DB, embedder *rag.EmbeddingClient, vector rag.VectorBackend, fulltext rag.FulltextBackend) *rag.Retriever {
	return rag.NewRetriever(db, embedder, vector, fulltext, cfg.Retrieval.RRFK)
}

func newAnalyzer() *rag.Analyzer {
	return rag.NewAnalyzer()
}

func newAssembler() *rag.Assembler {
	return rag.NewAssembler()
}

func newDeadLetterStore(db *gorm.DB) pipeline.DeadLetterStore {
	return pipeline.NewGormDeadLetterStore(db)
}

// newProducer Kafka未启用时返回nil producer，队列退化为内联模式
func newProducer(cfg *config.Config) (sarama.SyncProducer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	return pipeline.NewSyncProducer(cfg.Kafka.Brokers)
}

func newQueue(cfg *config.Config, producer sarama.SyncProducer, indexer *rag.Indexer, deadLetters pipeline.DeadLetterStore) *pipeline.Queue {
	return pipeline.NewQueue(
		producer,
		cfg.Kafka.Topic,
		indexer,
		deadLetters,
		cfg.Indexing.MaxRetries,
		time.Duration(cfg.Indexing.BackoffBaseMS)*time.Millisecond,
	)
}

// newDebouncer 去抖后的事件直接入队
func newDebouncer(cfg *config.Config, queue *pipeline.Queue) *pipeline.Debouncer {
	window := time.Duration(cfg.Indexing.DebounceWindowMS) * time.Millisecond
	return pipeline.NewDebouncer(window, func(event pipeline.ChangeEvent) {
		if err := queue.Enqueue(context.Background(), event); err != nil {
			logger.Error("failed to enqueue change event",
				zap.String("key", event.Key()),
				zap.Error(err))
		}
	})
}

func newResponseCache(cfg *config.Config, client *redis.Client) *cache.ResponseCache {
	if !cfg.Cache.Enabled {
		return cache.NewResponseCache(nil, 0, 0)
	}
	return cache.NewResponseCache(
		client,
		time.Duration(cfg.Cache.AnswerTTLSeconds)*time.Second,
		time.Duration(cfg.Cache.RetrievalTTLSeconds)*time.Second,
	)
}
