package documents

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/osvaldoandrade/formq/pkg/domain"
)

const DefaultTopK = 5

// ChunkSource is the part of persistence.DocumentStorage the retriever reads.
type ChunkSource interface {
	Chunks(ctx context.Context, userID string, testID int64) ([]domain.DocumentChunk, error)
}

// Retriever ranks a test's chunks against question text by shared terms,
// weighting rare terms higher.
type Retriever struct {
	source ChunkSource
	topK   int
}

func NewRetriever(source ChunkSource, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{source: source, topK: topK}
}

// Retrieve returns up to topK chunk texts that share at least one term with
// query, best match first. A test without documents yields no chunks.
func (r *Retriever) Retrieve(ctx context.Context, userID string, testID int64, query string) ([]string, error) {
	chunks, err := r.source.Chunks(ctx, userID, testID)
	if err != nil || len(chunks) == 0 {
		return nil, err
	}
	return Rank(chunks, query, r.topK), nil
}

type scored struct {
	text  string
	score float64
	order int
}

// Rank scores chunks by the idf-weighted count of query terms they contain.
func Rank(chunks []domain.DocumentChunk, query string, topK int) []string {
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return nil
	}

	chunkTerms := make([]map[string]bool, len(chunks))
	df := make(map[string]int, len(queryTerms))
	for i, c := range chunks {
		chunkTerms[i] = terms(c.Text)
		for t := range queryTerms {
			if chunkTerms[i][t] {
				df[t]++
			}
		}
	}

	n := float64(len(chunks))
	var hits []scored
	for i, c := range chunks {
		var score float64
		for t := range queryTerms {
			if chunkTerms[i][t] {
				score += math.Log(1 + n/float64(df[t]))
			}
		}
		if score > 0 {
			hits = append(hits, scored{text: c.Text, score: score, order: i})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out
}

// terms returns the distinct lowercase words of s that are at least three
// runes long.
func terms(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		if len([]rune(w)) >= 3 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "what": true,
	"which": true, "who": true, "how": true, "with": true, "that": true, "this": true,
	"from": true, "not": true, "you": true, "your": true, "does": true, "did": true,
}
