package core

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thoughtstream/thoughtstream/internal/errors"
)

// Embedder turns text into vectors.
type Embedder interface {
	// EmbedDocument embeds a thought for storage.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Analyzer extracts best-effort metadata from a thought's text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*Analysis, error)
}

// Answerer writes an answer grounded in the given sources.
type Answerer interface {
	Answer(ctx context.Context, query string, sources []Source) (string, error)
}

// Oracle bundles the three model capabilities.
type Oracle interface {
	Embedder
	Analyzer
	Answerer
}

// Source is one retrieved thought handed to the Answerer.
type Source struct {
	ID   string
	Text string
	Tags []string
}

// Analysis is the validated output of one analysis call. Empty fields were
// missing or invalid and are not written back.
type Analysis struct {
	Summary  string   `json:"summary,omitempty"`
	AutoTags []string `json:"autoTags,omitempty"`
	Category string   `json:"category,omitempty"`
	Intent   string   `json:"intent,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

const (
	maxSummaryRunes  = 280
	maxLabelRunes    = 40
	maxAutoTags      = 8
	maxEntities      = 16
	maxEntityRunes   = 80
	maxAutoTagRunes  = 32
	analysisFenceTag = "```"
)

var errEmptyEmbedding = stderrors.New("oracle returned an empty embedding")

// Categories the analyzer may assign.
var Categories = []string{"engineering", "product", "design", "research", "operations", "personal", "learning", "other"}

// Intents the analyzer may assign.
var Intents = []string{"remember", "plan", "decide", "question", "reference", "reflect"}

// ParseAnalysis decodes a model's JSON reply field by field. Each field is
// validated on its own; a bad field is dropped without affecting the others.
// Only a reply that is not a JSON object at all is an error.
func ParseAnalysis(raw string) (*Analysis, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, analysisFenceTag+"json")
	raw = strings.TrimPrefix(raw, analysisFenceTag)
	raw = strings.TrimSuffix(raw, analysisFenceTag)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &fields); err != nil {
		return nil, errors.NewInternal(stderrors.New("analysis reply is not a JSON object"))
	}

	a := &Analysis{}
	if s, ok := decodeString(fields["summary"]); ok && utf8.RuneCountInString(s) <= maxSummaryRunes {
		a.Summary = s
	}
	if s, ok := decodeString(fields["category"]); ok {
		a.Category = oneOf(strings.ToLower(s), Categories)
	}
	if s, ok := decodeString(fields["intent"]); ok {
		a.Intent = oneOf(strings.ToLower(s), Intents)
	}
	if list, ok := decodeStrings(fields["autoTags"]); ok {
		a.AutoTags = cleanList(list, maxAutoTags, maxAutoTagRunes, true)
	}
	if list, ok := decodeStrings(fields["entities"]); ok {
		a.Entities = cleanList(list, maxEntities, maxEntityRunes, false)
	}
	return a, nil
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func decodeStrings(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, true
}

func oneOf(s string, allowed []string) string {
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return ""
}

func cleanList(in []string, max, maxRunes int, lower bool) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" || utf8.RuneCountInString(v) > maxRunes || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) == max {
			break
		}
	}
	return out
}

// classifyUpstream maps a model/client failure onto the error taxonomy:
// throttling, unavailability and timeouts are transient, anything else is not.
func classifyUpstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTransient(op, err)
	}
	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return errors.NewTransient(op, err)
		}
		return errors.NewInternal(err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.Unknown:
			return errors.NewTransient(op, err)
		}
		return errors.NewInternal(err)
	}
	// Transport errors without a status (DNS, resets) are worth retrying.
	return errors.NewTransient(op, err)
}
