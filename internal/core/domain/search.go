package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SearchResult is one candidate chunk. Score is stage-dependent: raw signal
// score, then fused RRF score, then blended rerank score.
type SearchResult struct {
	ChunkID        string   `json:"chunk_id"`
	Content        string   `json:"content"`
	Score          float64  `json:"score"`
	Metadata       Metadata `json:"metadata"`
	SourceURL      *string  `json:"source_url"`
	DataSourceID   string   `json:"data_source_id"`
	DataSourceName string   `json:"data_source_name"`
	CollectionID   *string  `json:"collection_id"`
	ContextBefore  *string  `json:"context_before,omitempty"`
	ContextAfter   *string  `json:"context_after,omitempty"`
}

type SearchOptions struct {
	CollectionIDs []string
	Limit         int
	Filters       []Filter

	Rerank        bool
	HyDE          bool
	ExpandContext bool

	// Accounting only; ranking ignores these.
	CallerType string
	Source     string
	UserID     string
}

type SearchResponse struct {
	Results     []SearchResult `json:"results"`
	QueryTimeMs int64          `json:"query_time_ms"`
}

// SearchScope is what every corpus query is restricted by.
type SearchScope struct {
	TenantID      string
	CollectionIDs []string
	Filters       []Filter
	Limit         int
}

// UsageContext carries attribution for usage events emitted by a search.
type UsageContext struct {
	TenantID   string
	CallerType string
	Source     string
	UserID     string
}

func (o SearchOptions) UsageContext(tenantID string) UsageContext {
	return UsageContext{
		TenantID:   tenantID,
		CallerType: o.CallerType,
		Source:     o.Source,
		UserID:     o.UserID,
	}
}

// NormalizeTenantID parses a UUID in any form uuid.Parse accepts (braces,
// urn:uuid: prefix, upper-case hex) and returns its canonical lower-case
// hyphenated form, which is what tenant_id columns hold.
func NormalizeTenantID(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", fmt.Errorf("tenant id is required")
	}
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return "", fmt.Errorf("tenant id %q is not a uuid", tenantID)
	}
	return id.String(), nil
}
