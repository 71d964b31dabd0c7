package rag

import "strings"

// 近似换算：每token约4字符，再留10%安全余量
const (
	charsPerToken    = 4
	budgetSafetyRate = 0.9
)

// Citation 上下文中每个被采用分块的引用
type Citation struct {
	ChunkID     uint    `json:"chunk_id"`
	SourceTable string  `json:"source_table"`
	SourceID    string  `json:"source_id"`
	Score       float64 `json:"score"`
}

// Assembler 上下文拼接器：在token预算内按命中顺序拼接分块文本。
// 同样的输入与预算总是产出同样的结果。
type Assembler struct{}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble 把命中列表拼成提示词上下文。预算换算为字符数后按序
// 贪心追加；放不下的分块只在它是第一块时截断，否则停止拼接，
// 避免为了塞入碎片而截出无意义的尾巴。
func (a *Assembler) Assemble(matches []Match, maxTokens int) (string, []Citation) {
	if len(matches) == 0 || maxTokens <= 0 {
		return "", nil
	}

	budget := int(float64(maxTokens*charsPerToken) * budgetSafetyRate)
	if budget <= 0 {
		return "", nil
	}

	var builder strings.Builder
	var citations []Citation
	used := 0

	for _, match := range matches {
		text := match.Text
		runes := []rune(text)
		remaining := budget - used
		if remaining <= 0 {
			break
		}

		if len(runes) > remaining {
			if len(citations) > 0 {
				break
			}
			text = string(runes[:remaining])
		}

		builder.WriteString(text)
		builder.WriteString("\n\n")
		used += len([]rune(text))
		citations = append(citations, Citation{
			ChunkID:     match.ChunkID,
			SourceTable: match.SourceTable,
			SourceID:    match.SourceID,
			Score:       match.Score,
		})
	}

	return strings.TrimRight(builder.String(), "\n"), citations
}
