package core

import "math"

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25Index is an in-memory Okapi BM25 index over pre-tokenized documents.
type bm25Index struct {
	tf     []map[string]int
	lens   []int
	df     map[string]int
	avgLen float64
}

func newBM25(docs [][]string) *bm25Index {
	ix := &bm25Index{
		tf:   make([]map[string]int, len(docs)),
		lens: make([]int, len(docs)),
		df:   make(map[string]int),
	}
	total := 0
	for i, doc := range docs {
		counts := make(map[string]int, len(doc))
		for _, tok := range doc {
			counts[tok]++
		}
		for tok := range counts {
			ix.df[tok]++
		}
		ix.tf[i] = counts
		ix.lens[i] = len(doc)
		total += len(doc)
	}
	if len(docs) > 0 {
		ix.avgLen = float64(total) / float64(len(docs))
	}
	return ix
}

// idf uses the Lucene variant, which never goes negative.
func (ix *bm25Index) idf(term string) float64 {
	n := float64(len(ix.tf))
	df := float64(ix.df[term])
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// score returns the BM25 score of document i for the query terms.
func (ix *bm25Index) score(i int, query []string) float64 {
	if ix.avgLen == 0 {
		return 0
	}
	var s float64
	norm := bm25K1 * (1 - bm25B + bm25B*float64(ix.lens[i])/ix.avgLen)
	for _, term := range query {
		f := float64(ix.tf[i][term])
		if f == 0 {
			continue
		}
		s += ix.idf(term) * f * (bm25K1 + 1) / (f + norm)
	}
	return s
}

// uniqueTerms drops repeated query terms so a repeated word is not counted twice.
func uniqueTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
