package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankedMatch(id uint) Match {
	return Match{ChunkID: id, SourceTable: "projects", SourceID: "1", Text: "chunk"}
}

func TestFuseRRFBothLegs(t *testing.T) {
	k := 60
	vector := []Match{rankedMatch(1), rankedMatch(2)}
	fulltext := []Match{rankedMatch(1), rankedMatch(3)}

	fused := fuseRRF([][]Match{vector, fulltext}, k)
	require.Len(t, fused, 3)

	// 两条腿都排第一的命中得分为2/(k+1)
	assert.Equal(t, uint(1), fused[0].ChunkID)
	assert.InDelta(t, 2.0/float64(k+1), fused[0].Score, 1e-9)

	// 单腿第二名的两个命中得分相同，按首次出现顺序排列
	assert.Equal(t, uint(2), fused[1].ChunkID)
	assert.Equal(t, uint(3), fused[2].ChunkID)
	assert.InDelta(t, fused[1].Score, fused[2].Score, 1e-9)
}

func TestFuseRRFSingleList(t *testing.T) {
	fused := fuseRRF([][]Match{{rankedMatch(5), rankedMatch(6)}}, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, uint(5), fused[0].ChunkID)
	assert.Equal(t, uint(6), fused[1].ChunkID)
	assert.Greater(t, fused[0].Score, fused[1].Score)
}

func TestFuseRRFEmpty(t *testing.T) {
	fused := fuseRRF([][]Match{{}, {}}, 60)
	assert.Empty(t, fused)
}

func TestFuseRRFStableTieOrder(t *testing.T) {
	// 全部得分相同时保持首次出现顺序
	vector := []Match{rankedMatch(10), rankedMatch(20), rankedMatch(30)}
	fused := fuseRRF([][]Match{vector}, 60)

	// 同一腿内rank不同，分数单调递减，顺序保持
	require.Len(t, fused, 3)
	assert.Equal(t, uint(10), fused[0].ChunkID)
	assert.Equal(t, uint(20), fused[1].ChunkID)
	assert.Equal(t, uint(30), fused[2].ChunkID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// 长度不一致或零向量返回0
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
