package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchWithText(id uint, text string) Match {
	return Match{
		ChunkID:     id,
		SourceTable: "projects",
		SourceID:    "1",
		Text:        text,
		Score:       0.5,
	}
}

func TestAssembleEmpty(t *testing.T) {
	assembler := NewAssembler()

	context, citations := assembler.Assemble(nil, 1000)
	assert.Empty(t, context)
	assert.Nil(t, citations)

	context, citations = assembler.Assemble([]Match{matchWithText(1, "text")}, 0)
	assert.Empty(t, context)
	assert.Nil(t, citations)
}

func TestAssembleWithinBudget(t *testing.T) {
	assembler := NewAssembler()
	matches := []Match{
		matchWithText(1, "first chunk"),
		matchWithText(2, "second chunk"),
	}

	context, citations := assembler.Assemble(matches, 100)
	assert.Equal(t, "first chunk\n\nsecond chunk", context)
	require.Len(t, citations, 2)
	assert.Equal(t, uint(1), citations[0].ChunkID)
	assert.Equal(t, uint(2), citations[1].ChunkID)
}

func TestAssembleStopsWhenNextChunkOverflows(t *testing.T) {
	assembler := NewAssembler()

	// 预算10 token = 40字符 * 0.9 = 36字符，两个30字符的块只进一个
	chunk := strings.Repeat("a", 30)
	matches := []Match{
		matchWithText(1, chunk),
		matchWithText(2, chunk),
	}

	context, citations := assembler.Assemble(matches, 10)
	require.Len(t, citations, 1)
	assert.Equal(t, uint(1), citations[0].ChunkID)
	assert.Equal(t, chunk, context)
}

func TestAssembleTruncatesOversizedFirstChunk(t *testing.T) {
	assembler := NewAssembler()
	matches := []Match{
		matchWithText(1, strings.Repeat("x", 100)),
	}

	// 首块超预算时截断而不是丢弃
	context, citations := assembler.Assemble(matches, 10)
	require.Len(t, citations, 1)
	assert.Equal(t, strings.Repeat("x", 36), context)
}

func TestAssembleBudgetNeverExceeded(t *testing.T) {
	assembler := NewAssembler()
	matches := []Match{
		matchWithText(1, strings.Repeat("一", 20)),
		matchWithText(2, strings.Repeat("二", 20)),
		matchWithText(3, strings.Repeat("三", 20)),
	}

	maxTokens := 12
	budget := int(float64(maxTokens*4) * 0.9)

	context, citations := assembler.Assemble(matches, maxTokens)
	used := 0
	for _, part := range strings.Split(context, "\n\n") {
		used += len([]rune(part))
	}
	assert.LessOrEqual(t, used, budget)
	assert.NotEmpty(t, citations)
}

func TestAssembleDeterministic(t *testing.T) {
	assembler := NewAssembler()
	matches := []Match{
		matchWithText(1, "alpha"),
		matchWithText(2, "beta"),
	}

	c1, cit1 := assembler.Assemble(matches, 50)
	c2, cit2 := assembler.Assemble(matches, 50)
	assert.Equal(t, c1, c2)
	assert.Equal(t, cit1, cit2)
}
