package domain

import "time"

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

type Embedding struct {
	Vector []float32
	Model  string
	Usage  TokenUsage
}

type Generation struct {
	Text  string
	Model string
	Usage TokenUsage
}

type RerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type RerankScore struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type RerankResponse struct {
	Model   string        `json:"model,omitempty"`
	Results []RerankScore `json:"results"`
}

// ChunkPosition locates a chunk inside its source document.
type ChunkPosition struct {
	DocumentID    string
	SequenceIndex int
}

type UsageRequestType string

const (
	UsageEmbedding UsageRequestType = "embedding"
	UsageHyDE      UsageRequestType = "hyde"
	UsageRerank    UsageRequestType = "rerank"
)

type UsageEvent struct {
	ID           string           `json:"id"`
	Model        string           `json:"model"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	CallerType   string           `json:"caller_type"`
	RequestType  UsageRequestType `json:"request_type"`
	TenantID     string           `json:"tenant_id"`
	UserID       string           `json:"user_id,omitempty"`
	Source       string           `json:"source,omitempty"`
	Extras       map[string]any   `json:"extras,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

func NewUsageEvent(uc UsageContext, requestType UsageRequestType, model string, usage TokenUsage) UsageEvent {
	return UsageEvent{
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CallerType:   uc.CallerType,
		RequestType:  requestType,
		TenantID:     uc.TenantID,
		UserID:       uc.UserID,
		Source:       uc.Source,
		OccurredAt:   time.Now().UTC(),
	}
}
