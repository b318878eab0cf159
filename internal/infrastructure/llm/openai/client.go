// Package openai talks to any OpenAI-compatible endpoint (OpenAI, vLLM,
// Nebius, LiteLLM) for query embeddings and HyDE passages.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/resilience"
)

type Config struct {
	APIKey     string
	BaseURL    string
	GenModel   string
	EmbedModel string
	Dimensions int
	Executor   *resilience.Executor
}

type Client struct {
	api      *openai.Client
	cfg      Config
	executor *resilience.Executor
}

func New(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		api:      openai.NewClientWithConfig(clientCfg),
		cfg:      cfg,
		executor: cfg.Executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(e.client.cfg.EmbedModel),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.client.cfg.Dimensions > 0 {
		req.Dimensions = e.client.cfg.Dimensions
	}

	resp, err := do(ctx, e.client, "embed", func(callCtx context.Context) (openai.EmbeddingResponse, error) {
		return e.client.api.CreateEmbeddings(callCtx, req)
	})
	if err != nil {
		return domain.Embedding{}, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return domain.Embedding{}, fmt.Errorf("openai embed: empty embedding response")
	}
	return domain.Embedding{
		Vector: resp.Data[0].Embedding,
		Model:  firstNonEmpty(string(resp.Model), e.client.cfg.EmbedModel),
		Usage:  domain.TokenUsage{InputTokens: resp.Usage.PromptTokens},
	}, nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (domain.Generation, error) {
	req := openai.ChatCompletionRequest{
		Model: g.client.cfg.GenModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	}

	resp, err := do(ctx, g.client, "generate", func(callCtx context.Context) (openai.ChatCompletionResponse, error) {
		return g.client.api.CreateChatCompletion(callCtx, req)
	})
	if err != nil {
		return domain.Generation{}, err
	}
	if len(resp.Choices) == 0 {
		return domain.Generation{}, fmt.Errorf("openai generate: no choices in response")
	}
	return domain.Generation{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: firstNonEmpty(resp.Model, g.client.cfg.GenModel),
		Usage: domain.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func do[T any](ctx context.Context, c *Client, operation string, fn func(context.Context) (T, error)) (T, error) {
	call := func(callCtx context.Context) (T, error) {
		out, err := fn(callCtx)
		if err != nil {
			return out, normalizeAPIError(operation, err)
		}
		return out, nil
	}

	var (
		out T
		err error
	)
	if c.executor != nil {
		out, err = resilience.Call(ctx, c.executor, "openai."+operation, call, resilience.ClassifyHTTPError)
	} else {
		out, err = call(ctx)
	}
	return out, resilience.WrapTemporary("openai "+operation, err)
}

// normalizeAPIError turns go-openai errors into resilience.HTTPStatusError so
// retries and status mapping treat every provider the same way.
func normalizeAPIError(operation string, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &resilience.HTTPStatusError{
			Service:    "openai",
			Operation:  operation,
			StatusCode: reqErr.HTTPStatusCode,
			Status:     reqErr.HTTPStatus,
			Body:       errorDetail(reqErr.Body),
		}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &resilience.HTTPStatusError{
			Service:    "openai",
			Operation:  operation,
			StatusCode: apiErr.HTTPStatusCode,
			Status:     apiErr.HTTPStatus,
			Body:       apiErr.Message,
		}
	}
	return fmt.Errorf("openai %s request: %w", operation, err)
}

// errorDetail extracts the "detail" field some compatible providers use.
func errorDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return string(body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
