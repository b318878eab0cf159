// Package crossencoder calls a rerank endpoint speaking the common
// {query, documents, top_n} -> {results:[{index, relevance_score}]} shape
// (TEI, Jina, Cohere-compatible gateways).
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/resilience"
)

type Config struct {
	URL      string
	Model    string
	APIKey   string
	Executor *resilience.Executor
	// HTTPClient timeout is a backstop; the caller's context carries the
	// real deadline.
	HTTPClient *http.Client
}

type Client struct {
	url        string
	model      string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		executor:   cfg.Executor,
	}
}

type scoreRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

func (c *Client) Score(ctx context.Context, req domain.RerankRequest) (domain.RerankResponse, error) {
	payload := scoreRequest{
		Model:     c.model,
		Query:     req.Query,
		Documents: req.Documents,
		TopN:      req.TopN,
	}

	var out domain.RerankResponse
	call := func(callCtx context.Context) error {
		resp, err := c.post(callCtx, payload)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "cross_encoder.score", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.RerankResponse{}, resilience.WrapTemporary("cross-encoder score", err)
	}
	if out.Model == "" {
		out.Model = c.model
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, payload scoreRequest) (domain.RerankResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.RerankResponse{}, fmt.Errorf("marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.RerankResponse{}, fmt.Errorf("create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.RerankResponse{}, fmt.Errorf("cross-encoder request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return domain.RerankResponse{}, resilience.NewHTTPStatusError("cross-encoder", "score", resp)
	}

	var out domain.RerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.RerankResponse{}, fmt.Errorf("decode rerank response: %w", err)
	}
	return out, nil
}
