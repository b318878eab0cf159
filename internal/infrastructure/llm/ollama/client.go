package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, Options{})
}

func NewWithOptions(baseURL, genModel, embedModel string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: httpClient,
		executor:   opts.ResilienceExecutor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model           string      `json:"model"`
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

func (e *Embedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	var resp embedResponse
	err := e.client.call(ctx, "embed", "/api/embed", embedRequest{
		Model: e.client.embedModel,
		Input: []string{text},
	}, &resp)
	if err != nil {
		return domain.Embedding{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return domain.Embedding{}, fmt.Errorf("ollama embed: empty embedding result")
	}
	return domain.Embedding{
		Vector: resp.Embeddings[0],
		Model:  firstNonEmpty(resp.Model, e.client.embedModel),
		Usage:  domain.TokenUsage{InputTokens: resp.PromptEvalCount},
	}, nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (domain.Generation, error) {
	var resp generateResponse
	err := g.client.call(ctx, "generate", "/api/generate", generateRequest{
		Model:   g.client.genModel,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{NumPredict: maxTokens, Temperature: 0.3},
	}, &resp)
	if err != nil {
		return domain.Generation{}, err
	}
	return domain.Generation{
		Text:  strings.TrimSpace(resp.Response),
		Model: firstNonEmpty(resp.Model, g.client.genModel),
		Usage: domain.TokenUsage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}, nil
}

// maxResponseBytes caps decoded response bodies.
const maxResponseBytes = 8 << 20

// call marshals payload once and POSTs it under the executor. Every retry
// sends the same bytes.
func (c *Client) call(ctx context.Context, operation, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ollama %s request: %w", operation, err)
	}
	attempt := func(callCtx context.Context) error {
		return c.post(callCtx, operation, c.baseURL+path, body, out)
	}

	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama."+operation, attempt, resilience.ClassifyHTTPError)
	} else {
		err = attempt(ctx)
	}
	return resilience.WrapTemporary("ollama "+operation, err)
}

func (c *Client) post(ctx context.Context, operation, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ollama %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resilience.NewHTTPStatusError("ollama", operation, resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode ollama %s response: %w", operation, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
