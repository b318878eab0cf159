package httpadapter

import (
	"fmt"
	"strings"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

type searchRequest struct {
	Query         string          `json:"query"`
	CollectionIDs []string        `json:"collection_ids"`
	Limit         int             `json:"limit"`
	Filters       []filterRequest `json:"filters"`
	Rerank        bool            `json:"rerank"`
	HyDE          bool            `json:"hyde"`
	ExpandContext bool            `json:"expand_context"`
	CallerType    string          `json:"caller_type"`
	Source        string          `json:"source"`
	UserID        string          `json:"user_id"`
}

type filterRequest struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Value    string   `json:"value"`
	Values   []string `json:"values"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (req searchRequest) toOptions() (domain.SearchOptions, error) {
	filters := make([]domain.Filter, 0, len(req.Filters))
	for _, f := range req.Filters {
		filter, err := f.toDomain()
		if err != nil {
			return domain.SearchOptions{}, err
		}
		filters = append(filters, filter)
	}
	return domain.SearchOptions{
		CollectionIDs: req.CollectionIDs,
		Limit:         req.Limit,
		Filters:       filters,
		Rerank:        req.Rerank,
		HyDE:          req.HyDE,
		ExpandContext: req.ExpandContext,
		CallerType:    req.CallerType,
		Source:        req.Source,
		UserID:        req.UserID,
	}, nil
}

func (f filterRequest) toDomain() (domain.Filter, error) {
	field, err := domain.ParseFilterField(f.Field)
	if err != nil {
		return domain.Filter{}, err
	}
	op := domain.FilterOperator(strings.ToLower(strings.TrimSpace(f.Operator)))
	if op == "" {
		op = domain.OpEq
		if len(f.Values) > 0 && f.Value == "" {
			op = domain.OpIn
		}
	}
	if op != domain.OpEq && op != domain.OpIn {
		return domain.Filter{}, domain.WrapError(domain.ErrInvalidInput, "parse filter", fmt.Errorf("unsupported operator %q", f.Operator))
	}
	return domain.Filter{Field: field, Operator: op, Value: f.Value, Values: f.Values}, nil
}
