package teachd

import (
	"sort"

	"github.com/tutu-network/agentcore/internal/domain"
)

const defaultTokenBudget = 6000 // chars, spec.md's approximate budget

// scoredDoc pairs a knowledge doc with its ranking score for one query.
type scoredDoc struct {
	doc   domain.KnowledgeDoc
	score float64
}

// Retrieve ranks knowledge docs by keyword overlap with the query and
// returns as many top docs as fit under budget chars. The score is the
// overlap count alone; docs are not weighted by confidence or origin.
func Retrieve(docs []domain.KnowledgeDoc, query string, budget int) []domain.KnowledgeDoc {
	if budget <= 0 {
		budget = defaultTokenBudget
	}

	scored := make([]scoredDoc, 0, len(docs))
	for _, d := range docs {
		overlap := keywordOverlap(query, d.Title+" "+d.Content+" "+join(d.Tags))
		if overlap == 0 {
			continue
		}
		scored = append(scored, scoredDoc{doc: d, score: float64(overlap)})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var out []domain.KnowledgeDoc
	used := 0
	for _, sd := range scored {
		cost := len(sd.doc.Content)
		if used+cost > budget {
			continue
		}
		out = append(out, sd.doc)
		used += cost
	}
	return out
}

func join(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
