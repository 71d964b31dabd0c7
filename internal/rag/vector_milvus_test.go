package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMilvusExprEmptyFilter(t *testing.T) {
	assert.Equal(t, "", buildMilvusExpr(ScopeFilter{}))
}

func TestBuildMilvusExprAllClauses(t *testing.T) {
	filter := ScopeFilter{
		TenantID:   "t1",
		Visibility: []string{"public", "internal"},
		Tables:     []string{"projects"},
		Language:   "en",
	}

	expr := buildMilvusExpr(filter)
	assert.Equal(t, `tenant_id == "t1" && visibility in ["public","internal"] && source_table in ["projects"] && lang == "en"`, expr)
}

func TestBuildMilvusExprLanguageOnly(t *testing.T) {
	// 语言过滤与Postgres腿的lang条件语义一致
	expr := buildMilvusExpr(ScopeFilter{Language: "es"})
	assert.Equal(t, `lang == "es"`, expr)
}

func TestApplyScoreThreshold(t *testing.T) {
	matches := []Match{
		{ChunkID: 1, Score: 0.92},
		{ChunkID: 2, Score: 0.41},
		{ChunkID: 3, Score: 0.75},
	}

	filtered := applyScoreThreshold(matches, 0.7)
	assert.Len(t, filtered, 2)
	assert.Equal(t, uint(1), filtered[0].ChunkID)
	assert.Equal(t, uint(3), filtered[1].ChunkID)

	// 阈值为零时全部保留
	all := applyScoreThreshold([]Match{{ChunkID: 4, Score: 0.01}}, 0)
	assert.Len(t, all, 1)
}
