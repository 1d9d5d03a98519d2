package signal

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"marketpulse/pkg/models"
)

// Embed projects the corpus into a dense feature space: a term-frequency
// matrix over the most frequent vocabSize terms, reduced to embedDims
// dimensions via thin SVD. Returns nil when the corpus has no usable terms
// or the factorization fails.
func (e *Engine) Embed(posts []models.RawPost) (*mat.Dense, []string) {
	docTokens := make([][]string, len(posts))
	counts := make(map[string]int)
	for i, p := range posts {
		docTokens[i] = tokenize(p.Text)
		for _, t := range docTokens[i] {
			counts[t]++
		}
	}
	if len(counts) == 0 {
		return nil, nil
	}

	vocab := topTerms(counts, e.vocabSize)
	index := make(map[string]int, len(vocab))
	for i, term := range vocab {
		index[term] = i
	}

	tf := mat.NewDense(len(posts), len(vocab), nil)
	for i, tokens := range docTokens {
		for _, t := range tokens {
			if j, ok := index[t]; ok {
				tf.Set(i, j, tf.At(i, j)+1)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(tf, mat.SVDThin); !ok {
		return nil, vocab
	}

	var u mat.Dense
	svd.UTo(&u)
	values := svd.Values(nil)

	dims := e.embedDims
	if dims > len(values) {
		dims = len(values)
	}

	embedding := mat.NewDense(len(posts), dims, nil)
	for i := 0; i < len(posts); i++ {
		for j := 0; j < dims; j++ {
			embedding.Set(i, j, u.At(i, j)*values[j])
		}
	}
	return embedding, vocab
}

// topTerms returns the limit most frequent terms, ties broken
// lexicographically so the vocabulary is deterministic.
func topTerms(counts map[string]int, limit int) []string {
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}
