package rag

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubEmbeddingDeterministic(t *testing.T) {
	a := stubEmbedding("portfolio projects")
	b := stubEmbedding("portfolio projects")
	c := stubEmbedding("something else")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, StubDim)
}

func TestStubEmbeddingUnitNorm(t *testing.T) {
	v := stubEmbedding("任意文本 any text")

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStubEmbeddingLongTextUsesPrefix(t *testing.T) {
	prefix := make([]rune, 256)
	for i := range prefix {
		prefix[i] = 'a'
	}

	// 前256个字符相同的文本得到相同向量
	a := stubEmbedding(string(prefix) + "tail one")
	b := stubEmbedding(string(prefix) + "completely different tail")
	assert.Equal(t, a, b)
}

type failingProvider struct{}

func (p *failingProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

func (p *failingProvider) Chat(ctx context.Context, model, system string, messages []ChatMessage) (string, error) {
	return "", errors.New("provider down")
}

func TestEmbedBatchFallsBackToStub(t *testing.T) {
	client := NewEmbeddingClient(&failingProvider{}, "test-model")

	vectors, err := client.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	// 降级向量与占位提供方一致（容许二次归一化的浮点误差）
	for i, want := range [][]float32{stubEmbedding("one"), stubEmbedding("two")} {
		require.Len(t, vectors[i], StubDim)
		for j := range want {
			assert.InDelta(t, want[j], vectors[i][j], 1e-5)
		}
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	client := NewEmbeddingClient(NewStubProvider(), "test-model")

	vectors, err := client.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedQuery(t *testing.T) {
	client := NewEmbeddingClient(NewStubProvider(), "test-model")

	vec, err := client.EmbedQuery(context.Background(), "what projects exist")
	require.NoError(t, err)
	assert.Len(t, vec, StubDim)
}
