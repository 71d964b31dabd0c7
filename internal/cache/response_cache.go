package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/andresfranco/portfolio-suite-sub002/internal/rag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_cache_hits_total",
		Help: "Response cache hits by kind",
	}, []string{"kind"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_cache_misses_total",
		Help: "Response cache misses by kind",
	}, []string{"kind"})
)

// ResponseCache 应答与检索结果缓存。读是尽力而为：Redis不可用时
// 一律当作未命中，绝不把缓存故障暴露给调用方。
// 键里内嵌agent/portfolio ID，失效时按子串SCAN删除。
type ResponseCache struct {
	client       redis.UniversalClient
	answerTTL    time.Duration
	retrievalTTL time.Duration
}

// NewResponseCache 创建缓存
func NewResponseCache(client redis.UniversalClient, answerTTL, retrievalTTL time.Duration) *ResponseCache {
	if answerTTL <= 0 {
		answerTTL = time.Hour
	}
	if retrievalTTL <= 0 {
		retrievalTTL = 2 * time.Hour
	}
	return &ResponseCache{
		client:       client,
		answerTTL:    answerTTL,
		retrievalTTL: retrievalTTL,
	}
}

// AnswerKey 对话应答缓存键。消息先归一化（小写、压缩空白），
// 同义表述才能命中。
func AnswerKey(agentID, message, portfolioID, languageID string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	digest := hashKey(agentID, normalized, portfolioID, languageID)
	return fmt.Sprintf("rag:answer:%s:%s:%s", agentID, portfolioID, digest)
}

// RetrievalKey 检索结果缓存键
func RetrievalKey(query, portfolioID string, topK int) string {
	digest := hashKey(query, portfolioID, fmt.Sprintf("%d", topK))
	return fmt.Sprintf("rag:retrieval:%s:%s", portfolioID, digest)
}

func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// GetAnswer 读缓存的应答，未命中或出错返回空串
func (c *ResponseCache) GetAnswer(ctx context.Context, key string) (string, bool) {
	if c.client == nil {
		return "", false
	}

	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("answer cache read failed", zap.Error(err))
		}
		cacheMissesTotal.WithLabelValues("answer").Inc()
		return "", false
	}
	cacheHitsTotal.WithLabelValues("answer").Inc()
	return value, true
}

// SetAnswer 写缓存，失败只记日志
func (c *ResponseCache) SetAnswer(ctx context.Context, key, answer string) {
	if c.client == nil {
		return
	}
	if err := c.client.Set(ctx, key, answer, c.answerTTL).Err(); err != nil {
		logger.Warn("answer cache write failed", zap.Error(err))
	}
}

// GetRetrieval 读缓存的检索结果
func (c *ResponseCache) GetRetrieval(ctx context.Context, key string) ([]rag.Match, bool) {
	if c.client == nil {
		return nil, false
	}

	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("retrieval cache read failed", zap.Error(err))
		}
		cacheMissesTotal.WithLabelValues("retrieval").Inc()
		return nil, false
	}

	var matches []rag.Match
	if err := json.Unmarshal([]byte(value), &matches); err != nil {
		logger.Warn("retrieval cache decode failed", zap.Error(err))
		cacheMissesTotal.WithLabelValues("retrieval").Inc()
		return nil, false
	}
	cacheHitsTotal.WithLabelValues("retrieval").Inc()
	return matches, true
}

// SetRetrieval 写缓存的检索结果
func (c *ResponseCache) SetRetrieval(ctx context.Context, key string, matches []rag.Match) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(matches)
	if err != nil {
		logger.Warn("retrieval cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.retrievalTTL).Err(); err != nil {
		logger.Warn("retrieval cache write failed", zap.Error(err))
	}
}

// InvalidatePortfolio 删除键中包含portfolio ID的全部缓存条目
func (c *ResponseCache) InvalidatePortfolio(ctx context.Context, portfolioID string) error {
	return c.invalidatePattern(ctx, fmt.Sprintf("rag:*%s*", portfolioID))
}

// InvalidateAgent 删除键中包含agent ID的全部缓存条目
func (c *ResponseCache) InvalidateAgent(ctx context.Context, agentID string) error {
	return c.invalidatePattern(ctx, fmt.Sprintf("rag:*%s*", agentID))
}

func (c *ResponseCache) invalidatePattern(ctx context.Context, pattern string) error {
	if c.client == nil {
		return nil
	}

	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cache keys: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	logger.Info("cache invalidated", zap.String("pattern", pattern), zap.Int("deleted", deleted))
	return nil
}
