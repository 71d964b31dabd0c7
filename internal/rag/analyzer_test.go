package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeTrivial(t *testing.T) {
	analyzer := NewAnalyzer()

	for _, query := range []string{"hi", "Hello!", "thanks", "good morning"} {
		plan := analyzer.Analyze(query)
		assert.Equal(t, ComplexityTrivial, plan.Level, query)
		assert.True(t, plan.SkipRetrieval, query)
		assert.Equal(t, 0, plan.TopK, query)
	}
}

func TestAnalyzeGreetingWithTopicIsNotTrivial(t *testing.T) {
	analyzer := NewAnalyzer()

	// 含业务主题的问候不能跳过检索
	plan := analyzer.Analyze("hi, projects?")
	assert.NotEqual(t, ComplexityTrivial, plan.Level)
	assert.False(t, plan.SkipRetrieval)
}

func TestAnalyzeComprehensive(t *testing.T) {
	analyzer := NewAnalyzer()

	for _, query := range []string{
		"list all projects you worked on",
		"give me a full overview",
		"tell me everything about this portfolio",
	} {
		plan := analyzer.Analyze(query)
		assert.Equal(t, ComplexityComprehensive, plan.Level, query)
		assert.Equal(t, 14, plan.TopK, query)
		assert.Equal(t, 4800, plan.MaxContextTokens, query)
	}
}

func TestAnalyzeComplex(t *testing.T) {
	analyzer := NewAnalyzer()

	plan := analyzer.Analyze("what is the difference between your frontend and backend work")
	assert.Equal(t, ComplexityComplex, plan.Level)

	// 两个及以上主题词
	plan = analyzer.Analyze("how do your skills relate to your experience")
	assert.Equal(t, ComplexityComplex, plan.Level)
	assert.Equal(t, 10, plan.TopK)
}

func TestAnalyzeSimple(t *testing.T) {
	analyzer := NewAnalyzer()

	plan := analyzer.Analyze("What is your latest project?")
	assert.Equal(t, ComplexitySimple, plan.Level)
	assert.Equal(t, 4, plan.TopK)
	assert.Equal(t, 1200, plan.MaxContextTokens)
}

func TestAnalyzeMediumDefault(t *testing.T) {
	analyzer := NewAnalyzer()

	plan := analyzer.Analyze("tell me about the technology stack used here")
	assert.Equal(t, ComplexityMedium, plan.Level)
	assert.Equal(t, 6, plan.TopK)
	assert.Equal(t, 2000, plan.MaxContextTokens)
}

func TestAnalyzeDeterministic(t *testing.T) {
	analyzer := NewAnalyzer()

	query := "compare your projects and skills"
	first := analyzer.Analyze(query)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, analyzer.Analyze(query))
	}
}
