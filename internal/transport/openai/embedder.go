// Package openai adapts OpenAI-compatible APIs to the embedding and analysis contracts.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	"github.com/newsiq/newsengine/internal/metrics"
)

// Embedder is an embedding provider using the OpenAI-compatible API (e.g. Nebius).
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	logger     *zap.Logger
}

// Config holds provider settings shared by the embedder and the generator.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
	Logger     *zap.Logger
}

func newClient(cfg *Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	return &Embedder{
		client:     newClient(cfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		logger:     cfg.Logger,
	}
}

// Embed implements domain.Embedder. Returns the vector and usage with transport-level metrics.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.create(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder with a single request.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	return e.create(ctx, texts)
}

func (e *Embedder) create(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	model := string(e.model)
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindEmbedding, model, "error").Inc()
		metrics.ProviderErrorsTotal.WithLabelValues(metrics.KindEmbedding, model, "api_error").Inc()
		return domain.BatchEmbeddingResult{}, parseAPIError("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindEmbedding, model, "error").Inc()
		metrics.ProviderErrorsTotal.WithLabelValues(metrics.KindEmbedding, model, "count_mismatch").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(texts), domain.ErrUpstreamUnavailable)
	}

	metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindEmbedding, model, "success").Inc()
	metrics.ProviderRequestDuration.WithLabelValues(metrics.KindEmbedding, model).Observe(duration.Seconds())
	recordTokens(metrics.KindEmbedding, model, resp.Usage.PromptTokens, resp.Usage.TotalTokens)

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := domain.BatchEmbeddingResult{
		Embeddings:   make([][]float32, len(data)),
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	for i := range data {
		if len(data[i].Embedding) == 0 {
			metrics.ProviderErrorsTotal.WithLabelValues(metrics.KindEmbedding, model, "empty_response").Inc()
			return domain.BatchEmbeddingResult{}, fmt.Errorf("empty embedding at index %d: %w", i, domain.ErrUpstreamUnavailable)
		}
		out.Embeddings[i] = data[i].Embedding
	}
	return out, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func recordTokens(kind, model string, prompt, total int) {
	if total <= 0 {
		return
	}
	metrics.ProviderTokensTotal.WithLabelValues(kind, model, "prompt").Add(float64(prompt))
	metrics.ProviderTokensTotal.WithLabelValues(kind, model, "total").Add(float64(total))
}

// parseAPIError extracts a human-readable error from the API response.
// Client errors other than 408 and 429 wrap domain.ErrProviderRejected; everything
// else wraps domain.ErrUpstreamUnavailable and may be retried.
func parseAPIError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request: %w: %w", op, domain.ErrUpstreamUnavailable, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w", op, reqErr.HTTPStatusCode, detail, statusError(reqErr.HTTPStatusCode))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w", op, apiErr.HTTPStatusCode, apiErr.Message, statusError(apiErr.HTTPStatusCode))
	}

	return fmt.Errorf("%s request failed: %w", op, domain.ErrUpstreamUnavailable)
}

func statusError(code int) error {
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return domain.ErrProviderRejected
	}
	return domain.ErrUpstreamUnavailable
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
