package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterField is the closed set of metadata fields a filter may target.
type FilterField string

const (
	FilterSourceType   FilterField = "sourceType"
	FilterMimeType     FilterField = "mimeType"
	FilterChannel      FilterField = "channel"
	FilterAuthor       FilterField = "author"
	FilterPageNumber   FilterField = "pageNumber"
	FilterDataSourceID FilterField = "dataSourceId"
)

var knownFilterFields = []FilterField{
	FilterSourceType,
	FilterMimeType,
	FilterChannel,
	FilterAuthor,
	FilterPageNumber,
	FilterDataSourceID,
}

type FilterOperator string

const (
	OpEq FilterOperator = "eq"
	OpIn FilterOperator = "in"
)

type Filter struct {
	Field    FilterField    `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    string         `json:"value,omitempty"`
	Values   []string       `json:"values,omitempty"`
}

// ParseFilterField maps external input onto a known field.
func ParseFilterField(raw string) (FilterField, error) {
	raw = strings.TrimSpace(raw)
	for _, f := range knownFilterFields {
		if string(f) == raw {
			return f, nil
		}
	}
	return "", WrapError(ErrInvalidInput, "parse filter field", fmt.Errorf("unknown field %q", raw))
}

// Operands returns the filter's values regardless of operator.
func (f Filter) Operands() []string {
	if f.Operator == OpEq {
		return []string{f.Value}
	}
	return f.Values
}

func (f Filter) Validate() error {
	switch f.Operator {
	case OpEq:
		if strings.TrimSpace(f.Value) == "" {
			return WrapError(ErrInvalidInput, "validate filter", fmt.Errorf("field %s: eq requires a value", f.Field))
		}
	case OpIn:
		if len(f.Values) == 0 {
			return WrapError(ErrInvalidInput, "validate filter", fmt.Errorf("field %s: in requires values", f.Field))
		}
	default:
		return WrapError(ErrInvalidInput, "validate filter", fmt.Errorf("field %s: unsupported operator %q", f.Field, f.Operator))
	}

	if f.Field == FilterPageNumber {
		for _, v := range f.Operands() {
			if _, err := strconv.Atoi(v); err != nil {
				return WrapError(ErrInvalidInput, "validate filter", fmt.Errorf("pageNumber value %q is not an integer", v))
			}
		}
	}
	return nil
}
