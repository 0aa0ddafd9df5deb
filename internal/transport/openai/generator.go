package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/rag"
	"github.com/lorekeep/lorekeep/internal/metrics"
)

// Generator produces grounded answers via the OpenAI-compatible chat
// completions API, in batch or streaming form.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// GeneratorConfig holds the completion provider settings.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Logger      *zap.Logger
}

// NewGenerator creates an OpenAI-compatible completion provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}
}

// Model reports the configured completion model name.
func (g *Generator) Model() string {
	return g.model
}

// Complete runs a single blocking chat completion over the given messages.
func (g *Generator) Complete(ctx context.Context, messages []rag.Message) (domain.GenerationResult, error) {
	start := time.Now()

	resp, err := g.client.CreateChatCompletion(ctx, g.buildRequest(messages, false))
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return domain.GenerationResult{}, parseGenerationError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return domain.GenerationResult{}, fmt.Errorf("empty completion response: %w", domain.ErrGenerationFailure)
	}

	g.recordSuccess(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, time.Since(start))

	return domain.GenerationResult{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// CompleteStream runs a streaming chat completion, invoking onDelta for each
// content fragment as it arrives. Returns the accumulated result once the
// stream finishes; usage comes from the final stream chunk.
func (g *Generator) CompleteStream(ctx context.Context, messages []rag.Message, onDelta func(delta string) error) (domain.GenerationResult, error) {
	start := time.Now()

	stream, err := g.client.CreateChatCompletionStream(ctx, g.buildRequest(messages, true))
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return domain.GenerationResult{}, parseGenerationError(err)
	}
	defer stream.Close()

	result := domain.GenerationResult{Model: g.model}
	var content []byte

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
			return domain.GenerationResult{}, parseGenerationError(recvErr)
		}

		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Usage != nil {
			result.PromptTokens = chunk.Usage.PromptTokens
			result.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content = append(content, delta...)
		if err := onDelta(delta); err != nil {
			return domain.GenerationResult{}, fmt.Errorf("stream consumer: %w", err)
		}
	}

	g.recordSuccess(result.PromptTokens, result.CompletionTokens, time.Since(start))

	result.Content = string(content)
	return result, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (g *Generator) buildRequest(messages []rag.Message, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
	if stream {
		req.Stream = true
		// Without this the provider never reports usage on streamed completions.
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

func (g *Generator) recordSuccess(promptTokens, completionTokens int, duration time.Duration) {
	metrics.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()
	metrics.QueryPhaseDuration.WithLabelValues("generation").Observe(duration.Seconds())
	if promptTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(g.model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(g.model, "completion").Add(float64(completionTokens))
	}
}

// parseGenerationError wraps completion API failures with
// domain.ErrGenerationFailure for correct 502 mapping.
func parseGenerationError(err error) error {
	wrap := domain.ErrGenerationFailure

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("completion API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("completion API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("completion API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("completion request failed: %w", wrap)
}
