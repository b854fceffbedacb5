package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/thoughtstream/thoughtstream/internal/observability"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	answerSystemInstruction = "You answer questions using only the user's own notes, which are provided as numbered sources. " +
		"Cite sources inline by their id in square brackets, for example [t_01h...]. " +
		"If the sources do not contain the answer, say that the notes do not cover it. " +
		"Keep answers short and do not invent facts."

	analysisSystemInstruction = "You label short personal notes. Reply with a single JSON object and nothing else. " +
		"Keys: summary (one sentence, at most 280 characters), autoTags (up to 8 short lower-case topic tags), " +
		"category (one of: engineering, product, design, research, operations, personal, learning, other), " +
		"intent (one of: remember, plan, decide, question, reference, reflect), " +
		"entities (named people, tools, projects, libraries or places mentioned)."
)

// LLMService is the Gemini-backed Oracle.
type LLMService struct {
	client  *genai.Client
	limiter *rate.Limiter
}

// NewLLMService connects to Gemini. ratePerMin bounds all upstream calls.
func NewLLMService(ctx context.Context, apiKey string, ratePerMin int) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{
		client:  client,
		limiter: newLimiter(ratePerMin),
	}, nil
}

func newLimiter(ratePerMin int) *rate.Limiter {
	if ratePerMin <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := ratePerMin / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), burst)
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			observability.Logger().Warn("error closing GenAI client", "error", err)
		}
	}
}

func (s *LLMService) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text, genai.TaskTypeRetrievalDocument)
}

func (s *LLMService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.embed(ctx, query, genai.TaskTypeRetrievalQuery)
}

func (s *LLMService) embed(ctx context.Context, text string, task genai.TaskType) ([]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, classifyUpstream("embedding", err)
	}
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	em.TaskType = task
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classifyUpstream("embedding", fmt.Errorf("gemini embedding request failed: %w", err))
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, classifyUpstream("embedding", fmt.Errorf("no embedding data received from gemini"))
	}
	return res.Embedding.Values, nil
}

// Analyze asks for all text-derived fields in one JSON reply.
func (s *LLMService) Analyze(ctx context.Context, text string) (*Analysis, error) {
	temp := float32(0.2)
	maxTokens := int32(512)
	reply, err := s.generate(ctx, analysisSystemInstruction, genai.GenerationConfig{
		Temperature:      &temp,
		MaxOutputTokens:  &maxTokens,
		ResponseMIMEType: "application/json",
	}, text)
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(reply)
}

// Answer writes a grounded answer. The caller falls back to an extractive
// answer when this fails.
func (s *LLMService) Answer(ctx context.Context, query string, sources []Source) (string, error) {
	var b strings.Builder
	b.WriteString("--- SOURCES START ---\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "[%s] %s", src.ID, src.Text)
		if len(src.Tags) > 0 {
			fmt.Fprintf(&b, " (tags: %s)", strings.Join(src.Tags, ", "))
		}
		b.WriteString("\n\n")
	}
	b.WriteString("--- SOURCES END ---\n\nQuestion: ")
	b.WriteString(query)

	temp := float32(0.3)
	maxTokens := int32(768)
	return s.generate(ctx, answerSystemInstruction, genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}, b.String())
}

func (s *LLMService) generate(ctx context.Context, system string, cfg genai.GenerationConfig, prompt string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", classifyUpstream("generation", err)
	}
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	model.GenerationConfig = cfg

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyUpstream("generation", fmt.Errorf("gemini generation request failed: %w", err))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", classifyUpstream("generation", fmt.Errorf("gemini returned no candidates"))
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.WriteString(string(txt))
		}
	}
	if out.Len() == 0 {
		return "", classifyUpstream("generation", fmt.Errorf("gemini returned an empty response"))
	}
	return strings.TrimSpace(out.String()), nil
}
