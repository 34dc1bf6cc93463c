package inference

import (
	"fmt"
	"strings"

	"pairpilot/internal/types"
)

// BuildPrompt concatenates retrieved chunks and the query into one prompt
// under maxTokens. Chunks arrive ordered by descending relevance, so the
// budget is filled from the front and the lowest-relevance chunks are the
// ones dropped when context exceeds the budget. The query itself is never
// dropped.
func BuildPrompt(query string, retrieved types.RetrievalResult, maxTokens int) string {
	var b strings.Builder

	queryBlock := "Task:\n" + query + "\n\nRespond with only the code change.\n"
	budget := maxTokens - EstimateTokens(queryBlock)

	if !retrieved.Empty() && budget > 0 {
		b.WriteString("Relevant project context:\n\n")
		budget -= EstimateTokens("Relevant project context:\n\n")

		for _, sc := range retrieved.Chunks {
			block := fmt.Sprintf("--- %s [%d:%d] ---\n%s\n\n",
				sc.Chunk.FilePath, sc.Chunk.ByteStart, sc.Chunk.ByteEnd, sc.Chunk.Content)
			cost := EstimateTokens(block)
			if cost > budget {
				break
			}
			b.WriteString(block)
			budget -= cost
		}
	}

	b.WriteString(queryBlock)
	return b.String()
}
