package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domresearch "github.com/newsiq/newsengine/internal/domain/research"
	"github.com/newsiq/newsengine/internal/metrics"
)

const analysisInstructions = `You are a news analyst helping readers understand developing events accurately.

Write a context report of about 200 words on the main article, using the related sources.

Sections, each with a bold markdown header:
1. **Background**: the events and history that led here.
2. **Key Players**: who is involved and what they want.
3. **Perspectives**: the main arguments, including at least one opposing view.
4. **Verification**: what is confirmed and what is disputed or unverified.
5. **What's Next**: likely developments to watch.

Cite sources inline as [Source Name]. Keep a neutral journalistic tone, flag uncertainty,
call out disagreement between sources, and do not speculate beyond the evidence.`

// Generator writes analyses with the chat completions API.
type Generator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// GeneratorConfig holds chat generation settings.
type GeneratorConfig struct {
	Config
	MaxTokens   int
	Temperature float32
}

// NewGenerator creates an OpenAI-compatible analysis generator.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	return &Generator{
		client:      newClient(&cfg.Config),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Generate implements research.Generator.
func (g *Generator) Generate(ctx context.Context, b domresearch.Bundle) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisInstructions},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(b)},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.model, "error").Inc()
		metrics.ProviderErrorsTotal.WithLabelValues(metrics.KindGeneration, g.model, "api_error").Inc()
		return "", parseAPIError("generation", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.model, "error").Inc()
		metrics.ProviderErrorsTotal.WithLabelValues(metrics.KindGeneration, g.model, "empty_response").Inc()
		return "", fmt.Errorf("empty generation response: %w", domain.ErrUpstreamUnavailable)
	}

	metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.model, "success").Inc()
	metrics.ProviderRequestDuration.WithLabelValues(metrics.KindGeneration, g.model).Observe(duration.Seconds())
	recordTokens(metrics.KindGeneration, g.model, resp.Usage.PromptTokens, resp.Usage.TotalTokens)

	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		g.logger.Warn("Analysis truncated by max tokens", zap.String("article_id", b.Main.ID))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Prompt renders the user message for a bundle.
func Prompt(b domresearch.Bundle) string {
	var sb strings.Builder
	sb.WriteString("MAIN ARTICLE\n")
	writeArticle(&sb, &b.Main, "Content")
	if b.Story != "" {
		fmt.Fprintf(&sb, "Story: %s\n", b.Story)
	}

	sb.WriteString("\nRELATED SOURCES\n")
	if len(b.Related) == 0 {
		sb.WriteString("(none found)\n")
	}
	for i := range b.Related {
		fmt.Fprintf(&sb, "\n--- Source %d [%s]\n", i+1, b.Related[i].Source)
		writeArticle(&sb, &b.Related[i], "Excerpt")
	}

	if len(b.Siblings) > 0 {
		sb.WriteString("\nEARLIER COVERAGE OF THIS STORY\n")
		for i := range b.Siblings {
			fmt.Fprintf(&sb, "\n--- [%s]\n", b.Siblings[i].Source)
			writeArticle(&sb, &b.Siblings[i], "Excerpt")
		}
	}

	sb.WriteString("\nWrite the context report in the format described in your instructions.")
	return sb.String()
}

func writeArticle(sb *strings.Builder, a *domresearch.ContextArticle, label string) {
	date := "unknown"
	if !a.PublishedAt.IsZero() {
		date = a.PublishedAt.Format("2006-01-02")
	}
	fmt.Fprintf(sb, "Title: %s\nSource: %s\nDate: %s\nURL: %s\n%s: %s\n",
		a.Title, a.Source, date, a.URL, label, a.Content)
}
