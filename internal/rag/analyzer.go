package rag

import (
	"regexp"
	"strings"
)

// ComplexityLevel 查询复杂度级别
type ComplexityLevel string

const (
	ComplexityTrivial       ComplexityLevel = "trivial"
	ComplexitySimple        ComplexityLevel = "simple"
	ComplexityMedium        ComplexityLevel = "medium"
	ComplexityComplex       ComplexityLevel = "complex"
	ComplexityComprehensive ComplexityLevel = "comprehensive"
)

// RetrievalPlan 按复杂度确定的检索预算
type RetrievalPlan struct {
	Level            ComplexityLevel
	TopK             int
	MaxContextTokens int
	SkipRetrieval    bool
}

var retrievalPlans = map[ComplexityLevel]RetrievalPlan{
	ComplexityTrivial:       {Level: ComplexityTrivial, TopK: 0, MaxContextTokens: 0, SkipRetrieval: true},
	ComplexitySimple:        {Level: ComplexitySimple, TopK: 4, MaxContextTokens: 1200},
	ComplexityMedium:        {Level: ComplexityMedium, TopK: 6, MaxContextTokens: 2000},
	ComplexityComplex:       {Level: ComplexityComplex, TopK: 10, MaxContextTokens: 3200},
	ComplexityComprehensive: {Level: ComplexityComprehensive, TopK: 14, MaxContextTokens: 4800},
}

var (
	greetingPattern      = regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you|ok|okay|bye|goodbye|good (morning|afternoon|evening))[.!\s]*$`)
	comprehensivePattern = regexp.MustCompile(`(?i)\b(list|show|compare|describe|summarize)\b.*\ball\b|\beverything\b|\bfull overview\b|\bcomplete (list|overview|summary)\b`)
	comparePattern       = regexp.MustCompile(`(?i)\b(compare|versus|vs\.?|difference between|contrast)\b`)
	simplePattern        = regexp.MustCompile(`(?i)^(what is|what's|who is|who's|when|where|how many|how much|which|does|is|are|was|did)\b`)
)

var topicKeywords = []string{
	"project", "portfolio", "experience", "skill", "technology",
	"company", "role", "education", "certification", "language",
}

// Analyzer 启发式查询复杂度分类器。只用来约束检索开销，
// 不参与正确性判断。
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze 对查询分级并返回检索预算。纯函数。
func (a *Analyzer) Analyze(query string) RetrievalPlan {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	// 优先级：trivial > comprehensive > complex > simple > medium
	if len([]rune(trimmed)) <= 25 && greetingPattern.MatchString(trimmed) && countTopics(lower) == 0 {
		return retrievalPlans[ComplexityTrivial]
	}
	if comprehensivePattern.MatchString(trimmed) {
		return retrievalPlans[ComplexityComprehensive]
	}
	if comparePattern.MatchString(trimmed) || countTopics(lower) >= 2 {
		return retrievalPlans[ComplexityComplex]
	}
	if len([]rune(trimmed)) <= 80 && simplePattern.MatchString(trimmed) {
		return retrievalPlans[ComplexitySimple]
	}
	return retrievalPlans[ComplexityMedium]
}

func countTopics(lower string) int {
	count := 0
	for _, keyword := range topicKeywords {
		if strings.Contains(lower, keyword) {
			count++
		}
	}
	return count
}
