package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/ariavoice/aria/internal/adapters/metrics"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/shared/llm"
)

// Service implements reply generation and embeddings over one
// OpenAI-compatible endpoint. A shared circuit breaker protects both call
// paths; barge-in cancellations do not count against it.
type Service struct {
	client     *llm.Client
	embed      *llm.Client
	breaker    *gobreaker.CircuitBreaker
	dimensions int
}

func NewService(client *llm.Client, dimensions int) *Service {
	return &Service{
		client: client,
		embed:  client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
		dimensions: dimensions,
	}
}

// WithEmbeddingClient routes embedding calls through a dedicated endpoint
// while completions stay on the primary client. Both share the breaker.
func (s *Service) WithEmbeddingClient(client *llm.Client) *Service {
	if client != nil {
		s.embed = client
	}
	return s
}

// Generate produces one completion. The caller bounds the call through its
// context deadline; there are no internal retries.
func (s *Service) Generate(ctx context.Context, system string, messages []ports.LLMMessage, opts ports.GenerateOptions) (*ports.LLMResponse, error) {
	start := time.Now()

	chat := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.client.MaxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:       s.client.Model,
		Messages:    chat,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}

	result, err := s.breaker.Execute(func() (any, error) {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: response carried no choices", domain.ErrLLMRequestFailed)
		}
		return &resp, nil
	})

	metrics.LLMRequestDuration.WithLabelValues(s.client.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(s.client.Model, "error").Inc()
		return nil, s.mapError(ctx, err)
	}
	metrics.LLMRequestsTotal.WithLabelValues(s.client.Model, "ok").Inc()

	resp := result.(*openai.ChatCompletionResponse)
	return &ports.LLMResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Embed computes the embedding vector of one text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	model := s.embed.EmbeddingModel
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	result, err := s.breaker.Execute(func() (any, error) {
		resp, err := s.embed.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(model),
			Input: []string{text},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("%w: response carried no vectors", domain.ErrEmbeddingsFailed)
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, s.mapError(ctx, err)
	}

	embedding := result.([]float32)
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("%w: model returned %d, store expects %d",
			domain.ErrDimensionMismatch, len(embedding), s.dimensions)
	}
	return embedding, nil
}

func (s *Service) GetDimensions() int {
	return s.dimensions
}

// mapError folds client, breaker and context failures onto the domain
// sentinels the reasoning layer dispatches on.
func (s *Service) mapError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", domain.ErrLLMUnavailable, err)
	case errors.Is(err, domain.ErrLLMRequestFailed), errors.Is(err, domain.ErrEmbeddingsFailed):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrLLMRequestFailed, err)
	}
}
