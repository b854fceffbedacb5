package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/observability"
	"github.com/thoughtstream/thoughtstream/internal/store"
	"github.com/thoughtstream/thoughtstream/internal/utils"
)

const (
	MaxQueryRunes        = 2000
	maxConversationHits  = 5
	citationPreviewRunes = 160
	extractiveSources    = 3

	NoMatchAnswer = "I couldn't find anything in your notes about that."
)

type SearchConfig struct {
	TopK          int
	MinSimilarity float64
	KeywordWeight float64
	VectorWeight  float64
}

// SearchService answers questions over captured thoughts with hybrid
// keyword and semantic retrieval.
type SearchService struct {
	store    *store.SQLiteStore
	embedder Embedder
	answerer Answerer
	cfg      SearchConfig
}

func NewSearchService(st *store.SQLiteStore, embedder Embedder, answerer Answerer, cfg SearchConfig) *SearchService {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	return &SearchService{store: st, embedder: embedder, answerer: answerer, cfg: cfg}
}

type AskInput struct {
	Query          string   `json:"query"`
	TimeWindow     string   `json:"timeWindow,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
}

type ConversationHit struct {
	ConversationID string  `json:"conversationId"`
	MessageID      string  `json:"messageId"`
	Preview        string  `json:"preview"`
	Score          float64 `json:"score"`
	CreatedAt      int64   `json:"createdAt"`
}

type AskResult struct {
	Answer           string            `json:"answer"`
	Citations        []store.Citation  `json:"citations"`
	ConversationHits []ConversationHit `json:"conversationHits,omitempty"`
	Confidence       float64           `json:"confidence"`
	ProcessingTime   int64             `json:"processingTime"`
}

type candidate struct {
	thought  *store.Thought
	tokens   []string
	keyword  float64
	cosine   float64
	semantic bool
	fused    float64
}

// Ask runs retrieval and answer generation. Only invalid input fails; an
// empty corpus, an embedding outage or an answer failure all degrade to a
// successful, lower-confidence result.
func (s *SearchService) Ask(ctx context.Context, in AskInput) (*AskResult, error) {
	start := time.Now()
	log := observability.LoggerFromContext(ctx)

	query := strings.TrimSpace(utils.StripControl(in.Query))
	if query == "" {
		return nil, errors.NewValidation("query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryRunes {
		return nil, errors.NewValidationf("query exceeds %d characters", MaxQueryRunes)
	}
	window, err := ParseTimeWindow(in.TimeWindow)
	if err != nil {
		return nil, err
	}
	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}
	if in.ConversationID != "" {
		if _, err := s.store.GetConversation(ctx, in.ConversationID); err != nil {
			return nil, err
		}
	}

	filter := store.CorpusFilter{Tags: tags}
	if window > 0 {
		filter.CreatedFrom = s.store.NowMillis() - window.Milliseconds()
	}
	corpus, err := s.store.LoadCorpus(ctx, filter)
	if err != nil {
		return nil, err
	}

	terms := uniqueTerms(utils.Tokenize(query))
	ranked := s.rank(ctx, query, terms, corpus)

	result := &AskResult{Citations: []store.Citation{}}
	var sources []Source
	maxCos := 0.0
	for _, c := range ranked {
		t := c.thought
		result.Citations = append(result.Citations, store.Citation{
			ID:        t.ID,
			Preview:   utils.Preview(t.Text, citationPreviewRunes),
			Score:     c.fused,
			CreatedAt: t.CreatedAt,
			Type:      t.Type,
			Tags:      t.Tags,
		})
		sources = append(sources, Source{ID: t.ID, Text: t.Text, Tags: t.Tags})
		if c.semantic && c.cosine > maxCos {
			maxCos = c.cosine
		}
	}

	if len(ranked) == 0 {
		result.Answer = NoMatchAnswer
	} else {
		result.Confidence = clamp01(0.6*maxCos + 0.4*coverage(terms, ranked[0].tokens))
		answer, err := s.answerer.Answer(ctx, query, sources)
		if err != nil || strings.TrimSpace(answer) == "" {
			if err != nil {
				log.Warn("answer generation failed, using extractive answer", "error", err)
			}
			answer = extractiveAnswer(sources)
		}
		result.Answer = answer
	}

	hits, err := s.conversationHits(ctx, terms)
	if err != nil {
		log.Warn("conversation search failed", "error", err)
	}
	result.ConversationHits = hits

	if in.ConversationID != "" {
		_, err := s.store.AppendMessages(ctx, in.ConversationID, []store.Message{
			{Role: store.RoleUser, Content: query},
			{Role: store.RoleAssistant, Content: result.Answer, Citations: result.Citations},
		})
		if err != nil {
			return nil, err
		}
	}

	result.ProcessingTime = time.Since(start).Milliseconds()
	log.Info("ask completed",
		"citations", len(result.Citations),
		"confidence", result.Confidence,
		"processing_ms", result.ProcessingTime,
	)
	return result, nil
}

// rank scores the pre-filtered corpus and returns the top-K candidates.
func (s *SearchService) rank(ctx context.Context, query string, terms []string, corpus []store.Thought) []*candidate {
	if len(corpus) == 0 {
		return nil
	}

	cands := make([]*candidate, len(corpus))
	docs := make([][]string, len(corpus))
	for i := range corpus {
		t := &corpus[i]
		text := t.Text + " " + strings.Join(t.Tags, " ")
		if t.Derived != nil {
			text += " " + strings.Join(t.Derived.AutoTags, " ")
		}
		docs[i] = utils.Tokenize(text)
		cands[i] = &candidate{thought: t, tokens: docs[i]}
	}

	ix := newBM25(docs)
	for i, c := range cands {
		c.keyword = ix.score(i, terms)
	}

	qvec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("query embedding failed, keyword-only ranking", "error", err)
		qvec = nil
	}
	if len(qvec) > 0 {
		for _, c := range cands {
			if c.thought.Derived == nil {
				continue
			}
			c.cosine = utils.Similarity(qvec, c.thought.Derived.Embedding)
			c.semantic = c.cosine >= s.cfg.MinSimilarity
		}
	}

	var hits []*candidate
	for _, c := range cands {
		if c.keyword <= 0 && !c.semantic {
			continue
		}
		c.fused = s.cfg.KeywordWeight * c.keyword
		if c.semantic {
			c.fused += s.cfg.VectorWeight * c.cosine
		}
		hits = append(hits, c)
	}
	sortCandidates(hits)
	if len(hits) > s.cfg.TopK {
		hits = hits[:s.cfg.TopK]
	}
	return hits
}

// sortCandidates orders by fused score desc, then newer first, then id desc.
func sortCandidates(c []*candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].fused != c[j].fused {
			return c[i].fused > c[j].fused
		}
		if c[i].thought.CreatedAt != c[j].thought.CreatedAt {
			return c[i].thought.CreatedAt > c[j].thought.CreatedAt
		}
		return c[i].thought.ID > c[j].thought.ID
	})
}

func (s *SearchService) conversationHits(ctx context.Context, terms []string) ([]ConversationHit, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	msgs, err := s.store.AllMessages(ctx)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	docs := make([][]string, len(msgs))
	for i, m := range msgs {
		docs[i] = utils.Tokenize(m.Content)
	}
	ix := newBM25(docs)

	var hits []ConversationHit
	for i, m := range msgs {
		if score := ix.score(i, terms); score > 0 {
			hits = append(hits, ConversationHit{
				ConversationID: m.ConversationID,
				MessageID:      m.ID,
				Preview:        utils.Preview(m.Content, citationPreviewRunes),
				Score:          score,
				CreatedAt:      m.CreatedAt,
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CreatedAt > hits[j].CreatedAt
	})
	if len(hits) > maxConversationHits {
		hits = hits[:maxConversationHits]
	}
	return hits, nil
}

// coverage is the fraction of query terms present in doc.
func coverage(terms, doc []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	present := make(map[string]bool, len(doc))
	for _, t := range doc {
		present[t] = true
	}
	n := 0
	for _, t := range terms {
		if present[t] {
			n++
		}
	}
	return float64(n) / float64(len(terms))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func extractiveAnswer(sources []Source) string {
	if len(sources) == 0 {
		return NoMatchAnswer
	}
	var b strings.Builder
	b.WriteString("From your notes:")
	for i, src := range sources {
		if i == extractiveSources {
			break
		}
		fmt.Fprintf(&b, "\n- %s [%s]", utils.Preview(src.Text, citationPreviewRunes), src.ID)
	}
	return b.String()
}

// maxTimeWindow caps search windows well below the int64 nanosecond range.
const maxTimeWindow = 100 * 365 * 24 * time.Hour

// ParseTimeWindow accepts Go durations ("36h") plus whole days ("7d") and
// weeks ("2w"). Empty means no window.
func ParseTimeWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	invalid := errors.NewValidationf("timeWindow %q is not a valid duration", s)
	var d time.Duration
	switch unit := s[len(s)-1]; unit {
	case 'd', 'w':
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, invalid
		}
		perUnit := 24 * time.Hour
		if unit == 'w' {
			perUnit *= 7
		}
		if n <= 0 || n > int(maxTimeWindow/perUnit) {
			return 0, invalid
		}
		d = time.Duration(n) * perUnit
	default:
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, invalid
		}
	}
	if d <= 0 || d > maxTimeWindow {
		return 0, invalid
	}
	return d, nil
}
