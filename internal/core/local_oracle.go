package core

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/thoughtstream/thoughtstream/internal/utils"
)

const localDims = 256

// LocalOracle runs without network access. Embeddings are signed feature
// hashes of word unigrams and bigrams, so texts sharing vocabulary land near
// each other. Analysis and answers are heuristic.
type LocalOracle struct {
	dims int
}

func NewLocalOracle() *LocalOracle {
	return &LocalOracle{dims: localDims}
}

func (o *LocalOracle) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	return o.embed(text), nil
}

func (o *LocalOracle) EmbedQuery(_ context.Context, query string) ([]float32, error) {
	return o.embed(query), nil
}

func (o *LocalOracle) embed(text string) []float32 {
	vec := make([]float32, o.dims)
	tokens := utils.Tokenize(text)
	add := func(feature string, weight float32) {
		h := fnv.New32a()
		h.Write([]byte(feature))
		sum := h.Sum32()
		idx := int(sum % uint32(o.dims))
		if sum&(1<<31) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}
	return utils.Normalize(vec)
}

func (o *LocalOracle) Analyze(_ context.Context, text string) (*Analysis, error) {
	a := &Analysis{
		Summary:  firstSentence(text),
		AutoTags: topTerms(text, 3),
		Intent:   guessIntent(text),
		Entities: properNouns(text),
	}
	return a, nil
}

func (o *LocalOracle) Answer(_ context.Context, query string, sources []Source) (string, error) {
	return extractiveAnswer(sources), nil
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?\n"); i > 0 {
		text = text[:i+1]
	}
	return utils.Preview(strings.TrimRight(text, "\n"), maxSummaryRunes)
}

func topTerms(text string, n int) []string {
	counts := map[string]int{}
	for _, tok := range utils.Tokenize(text) {
		if utf8.RuneCountInString(tok) >= 4 {
			counts[tok]++
		}
	}
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
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func guessIntent(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "?"):
		return "question"
	case strings.Contains(lower, "decided") || strings.Contains(lower, "decision") || strings.HasPrefix(lower, "use "):
		return "decide"
	case strings.Contains(lower, "todo") || strings.Contains(lower, "need to") || strings.Contains(lower, "should"):
		return "plan"
	case strings.Contains(lower, "http://") || strings.Contains(lower, "https://"):
		return "reference"
	}
	return "remember"
}

// properNouns picks capitalized words that do not start a sentence.
func properNouns(text string) []string {
	var out []string
	seen := map[string]bool{}
	sentenceStart := true
	for _, w := range strings.Fields(text) {
		word := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if word != "" && !sentenceStart {
			r, _ := utf8.DecodeRuneInString(word)
			if unicode.IsUpper(r) && !seen[word] {
				seen[word] = true
				out = append(out, word)
			}
		}
		sentenceStart = strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?")
	}
	return cleanList(out, maxEntities, maxEntityRunes, false)
}
