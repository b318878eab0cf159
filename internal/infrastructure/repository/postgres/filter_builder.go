package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

// queryArgs numbers positional parameters as they are appended.
type queryArgs struct {
	values []any
}

func (a *queryArgs) add(v any) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

func (a *queryArgs) list(values []string) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = a.add(v)
	}
	return strings.Join(placeholders, ", ")
}

// scopePredicates returns the WHERE fragments shared by every signal: tenant,
// collection and metadata filters. Chunks are aliased c, documents d.
func scopePredicates(scope domain.SearchScope, args *queryArgs) ([]string, error) {
	predicates := []string{"c.tenant_id = " + args.add(scope.TenantID)}

	if len(scope.CollectionIDs) > 0 {
		predicates = append(predicates, "c.collection_id IN ("+args.list(scope.CollectionIDs)+")")
	}

	for _, f := range scope.Filters {
		p, err := filterPredicate(f, args)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, p)
	}
	return predicates, nil
}

func filterPredicate(f domain.Filter, args *queryArgs) (string, error) {
	operands := f.Operands()
	if len(operands) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "build filter", fmt.Errorf("field %s has no values", f.Field))
	}

	switch f.Field {
	case domain.FilterSourceType:
		return matchText("c.metadata->>'type'", operands, args), nil
	case domain.FilterMimeType:
		return matchText("c.metadata->>'mimeType'", operands, args), nil
	case domain.FilterChannel:
		return matchText("c.metadata->>'channel'", operands, args), nil
	case domain.FilterAuthor:
		return matchText("c.metadata->>'author'", operands, args), nil
	case domain.FilterDataSourceID:
		return matchText("d.data_source_id", operands, args), nil
	case domain.FilterPageNumber:
		clauses := make([]string, len(operands))
		for i, raw := range operands {
			page, err := strconv.Atoi(raw)
			if err != nil {
				return "", domain.WrapError(domain.ErrInvalidInput, "build filter", fmt.Errorf("pageNumber value %q is not an integer", raw))
			}
			clauses[i] = "c.metadata->'pageNumbers' @> jsonb_build_array(" + args.add(page) + "::int)"
		}
		if len(clauses) == 1 {
			return clauses[0], nil
		}
		return "(" + strings.Join(clauses, " OR ") + ")", nil
	default:
		return "", domain.WrapError(domain.ErrInternal, "build filter", fmt.Errorf("unhandled filter field %q", f.Field))
	}
}

func matchText(column string, operands []string, args *queryArgs) string {
	if len(operands) == 1 {
		return column + " = " + args.add(operands[0])
	}
	return column + " IN (" + args.list(operands) + ")"
}
