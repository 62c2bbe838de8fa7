package bank

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/store"
)

// ContextParams holds parameters for context assembly.
type ContextParams struct {
	Query  string
	Type   string
	Tags   []string
	Budget int // max tokens in output (rough: 1 token ≈ 4 chars)
}

// ContextBlock is a scored block excerpt for context output.
type ContextBlock struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Text    string   `json:"text"`
	Score   float64  `json:"score"`
	Excerpt bool     `json:"excerpt,omitempty"`
}

// ContextResult is the assembled context response.
type ContextResult struct {
	Budget int            `json:"budget"`
	Used   int            `json:"used"`
	Blocks []ContextBlock `json:"blocks"`
}

const (
	defaultContextBudget = 4000
	contextCandidates    = 50
	minExcerpt           = 100
)

// Context packs the blocks most relevant to p.Query into a token budget.
// Candidates come from the vector index, or from keyword search when the
// index has nothing. Each is scored on relevance, recency, priority and
// confidence, then packed greedily; the last block that does not fit is cut
// to an excerpt if enough budget remains.
func (b *Bank) Context(ctx context.Context, p ContextParams) (*ContextResult, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = defaultContextBudget
	}
	charBudget := budget * 4

	type scored struct {
		blk       *model.MemoryBlock
		relevance float64
		score     float64
	}
	var candidates []scored

	hits, err := b.QuerySemantic(ctx, SemanticParams{Text: p.Query, TopK: contextCandidates, Tags: p.Tags, Type: p.Type})
	if err != nil {
		b.log.Warn("semantic candidates unavailable; using keyword search", "err", err)
	}
	for _, h := range hits {
		candidates = append(candidates, scored{blk: h.Block, relevance: float64(h.Score)})
	}
	if len(candidates) == 0 {
		blocks, err := b.QueryText(ctx, store.SearchParams{Query: p.Query, Type: p.Type, Limit: contextCandidates})
		if err != nil {
			return nil, err
		}
		tags := p.Tags
		for i, blk := range blocks {
			if len(tags) > 0 && !blk.HasAnyTag(tags) {
				continue
			}
			// Keyword results are ranked; turn rank into a relevance in (0,1].
			candidates = append(candidates, scored{blk: blk, relevance: 1 / float64(i+1)})
		}
	}

	result := &ContextResult{Budget: budget, Blocks: []ContextBlock{}}
	if len(candidates) == 0 {
		return result, nil
	}

	now := b.now()
	for i := range candidates {
		c := &candidates[i]
		blk := c.blk

		// Recency: exponential decay on days since the last update.
		age := now.Sub(blk.UpdatedAt).Hours() / 24.0
		recency := math.Exp(-0.1 * age)

		importance := priorityScore(blk.Metadata["priority"])

		confidence := 0.5
		if blk.Confidence != nil {
			var n, sum float64
			if blk.Confidence.Human != nil {
				sum += *blk.Confidence.Human
				n++
			}
			if blk.Confidence.AI != nil {
				sum += *blk.Confidence.AI
				n++
			}
			if n > 0 {
				confidence = sum / n
			}
		}

		c.score = c.relevance*0.4 + recency*0.2 + importance*0.2 + confidence*0.2
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	used := 0
	for _, c := range candidates {
		blk := contextBlock(c.blk)
		blk.Score = math.Round(c.score*100) / 100
		n := len(blk.Text)
		if used+n <= charBudget {
			result.Blocks = append(result.Blocks, blk)
			used += n
			continue
		}
		if remaining := charBudget - used; remaining >= minExcerpt {
			blk.Text = truncate(blk.Text, remaining) + "..."
			blk.Excerpt = true
			result.Blocks = append(result.Blocks, blk)
			used += len(blk.Text)
		}
		break
	}
	result.Used = used / 4
	return result, nil
}

func contextBlock(b *model.MemoryBlock) ContextBlock {
	title, _ := b.Metadata["title"].(string)
	return ContextBlock{ID: b.ID, Type: b.Type, Title: title, Tags: b.Tags, Text: b.Text}
}

// priorityScore maps P0 (highest) .. P5 onto [1, 0].
func priorityScore(v any) float64 {
	p, _ := v.(string)
	p = strings.ToUpper(strings.TrimSpace(p))
	if len(p) == 2 && p[0] == 'P' && p[1] >= '0' && p[1] <= '5' {
		return 1 - float64(p[1]-'0')/5
	}
	return 0.5
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
