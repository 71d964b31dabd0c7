package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/andresfranco/portfolio-suite-sub002/internal/config"
	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string
	Content string
}

// Provider 定义向量化与对话接口。Embed是批量原子的：
// 要么返回与输入等长的向量列表，要么返回错误。
type Provider interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	Chat(ctx context.Context, model, system string, messages []ChatMessage) (string, error)
}

// OpenAIProvider 兼容OpenAI接口的提供方（含自定义base URL的兼容服务）
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider 创建OpenAI提供方
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p.client == nil {
		return nil, errors.New("openai client not initialized")
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d, want %d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index out of range: %d", item.Index)
		}
		v := make([]float32, len(item.Embedding))
		copy(v, item.Embedding)
		vectors[item.Index] = v
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding response missing index %d", i)
		}
	}
	return vectors, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, model, system string, messages []ChatMessage) (string, error) {
	if p.client == nil {
		return "", errors.New("openai client not initialized")
	}

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: chatMessages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion response empty")
	}
	return resp.Choices[0].Message.Content, nil
}

// StubDim 占位向量维度
const StubDim = 8

// StubProvider 确定性的占位提供方：向量由文本前256个字符的SHA-256
// 推导，同一文本总是得到同一向量。用于开发环境与离线测试。
type StubProvider struct{}

func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (p *StubProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = stubEmbedding(text)
	}
	return vectors, nil
}

func (p *StubProvider) Chat(ctx context.Context, model, system string, messages []ChatMessage) (string, error) {
	return "", errors.New("chat not supported by stub provider")
}

func stubEmbedding(text string) []float32 {
	runes := []rune(text)
	if len(runes) > 256 {
		runes = runes[:256]
	}
	sum := sha256.Sum256([]byte(string(runes)))

	v := make([]float32, StubDim)
	for i := 0; i < StubDim; i++ {
		bits := binary.BigEndian.Uint32(sum[i*4 : i*4+4])
		// 映射到[-1,1]
		v[i] = float32(bits)/float32(math.MaxUint32)*2 - 1
	}
	return normalizeL2(v)
}

func normalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// NewProvider 按配置名创建提供方
func NewProvider(cfg *config.Config) Provider {
	switch cfg.Embedding.Provider {
	case "openai":
		if strings.TrimSpace(cfg.Embedding.APIKey) != "" {
			return NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.BaseURL)
		}
		logger.Warn("openai embedding provider configured without api key, falling back to stub")
		return NewStubProvider()
	default:
		return NewStubProvider()
	}
}

// EmbeddingClient 在Provider之上做L2归一化与降级：
// 提供方失败时退回占位向量，保证索引流程不因外部服务中断。
type EmbeddingClient struct {
	provider Provider
	fallback *StubProvider
	model    string
}

// NewEmbeddingClient 创建向量化客户端
func NewEmbeddingClient(provider Provider, model string) *EmbeddingClient {
	return &EmbeddingClient{
		provider: provider,
		fallback: NewStubProvider(),
		model:    model,
	}
}

// Model 当前使用的向量模型名
func (c *EmbeddingClient) Model() string {
	return c.model
}

// EmbedBatch 批量向量化，结果均为单位向量
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := c.provider.Embed(ctx, c.model, texts)
	if err != nil {
		logger.Warn("embedding provider failed, using stub vectors",
			zap.Int("texts", len(texts)),
			zap.Error(err))
		vectors, _ = c.fallback.Embed(ctx, c.model, texts)
	}

	for i := range vectors {
		vectors[i] = normalizeL2(vectors[i])
	}
	return vectors, nil
}

// EmbedQuery 单条查询向量化
func (c *EmbeddingClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, errors.New("unexpected embedding batch size")
	}
	return vectors[0], nil
}
