package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSplitEmpty(t *testing.T) {
	chunker := NewChunker(4, 1)
	assert.Nil(t, chunker.Split(""))
}

func TestChunkerSplitWindows(t *testing.T) {
	chunker := NewChunker(4, 1)

	// 窗口到达文本末尾即终止，不产生只含重叠的尾块
	chunks := chunker.Split("0123456789")
	require.Len(t, chunks, 3)
	assert.Equal(t, "0123", chunks[0].Text)
	assert.Equal(t, "3456", chunks[1].Text)
	assert.Equal(t, "6789", chunks[2].Text)

	// 序号连续
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestChunkerSplitShorterThanWindow(t *testing.T) {
	chunker := NewChunker(4000, 500)

	chunks := chunker.Split("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunkerSplitPreservesWhitespace(t *testing.T) {
	chunker := NewChunker(100, 0)

	// 不做空白归一化
	text := "line one\n\n  line two\t\tend  "
	chunks := chunker.Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
}

func TestChunkerSplitRoundTrip(t *testing.T) {
	chunker := NewChunker(7, 3)
	text := "明天的天气会比今天好一些，适合出门散步。The weather improves tomorrow."

	chunks := chunker.Split(text)
	require.NotEmpty(t, chunks)

	// 去掉每块头部的重叠后应能原样拼回原文
	var builder strings.Builder
	for i, chunk := range chunks {
		runes := []rune(chunk.Text)
		if i == 0 {
			builder.WriteString(chunk.Text)
			continue
		}
		if len(runes) > 3 {
			builder.WriteString(string(runes[3:]))
		}
	}
	assert.Equal(t, text, builder.String())
}

func TestChunkerSplitMultiByteBoundary(t *testing.T) {
	chunker := NewChunker(2, 0)

	chunks := chunker.Split("你好世界")
	require.Len(t, chunks, 2)
	assert.Equal(t, "你好", chunks[0].Text)
	assert.Equal(t, "世界", chunks[1].Text)
}

func TestNewChunkerGuards(t *testing.T) {
	// overlap大于等于size时收缩为size/4
	chunker := NewChunker(8, 10)
	chunks := chunker.Split("0123456789abcdef")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "01234567", chunks[0].Text)
	assert.Equal(t, "6789abcd", chunks[1].Text)
}
