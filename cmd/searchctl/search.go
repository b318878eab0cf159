package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

type searchOptions struct {
	tenant      string
	collections []string
	limit       int
	filters     []string
	rerank      bool
	hyde        bool
	expand      bool
	recordUsage bool
	format      string
}

func newSearchCmd(factory serviceFactory, logLevel *string) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search for one tenant",
		Long: `Run a hybrid search combining vector, full-text and trigram signals
with Reciprocal Rank Fusion, optionally reranked and context-expanded.

Examples:
  searchctl search --tenant 6f1c2a8e-3b9d-4c11-9a4e-2f7d8b1c0e55 "refund policy"
  searchctl search --tenant $TENANT --rerank --hyde -n 5 "how do refunds work"
  searchctl search --tenant $TENANT --filter author=ana --filter pageNumber=1,2 "pricing"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			searchOpts, err := opts.toDomain()
			if err != nil {
				return err
			}

			service, cleanup, err := factory(cmd.Context(), *logLevel, opts.recordUsage)
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := service.Search(cmd.Context(), opts.tenant, query, searchOpts)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return writeResults(cmd.OutOrStdout(), resp, opts.format)
		},
	}

	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "Tenant id (UUID)")
	cmd.Flags().StringSliceVarP(&opts.collections, "collection", "c", nil, "Restrict to collection ids (repeatable)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 uses the server default)")
	cmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "Metadata filter field=value or field=v1,v2 (repeatable)")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Re-score candidates with the cross-encoder")
	cmd.Flags().BoolVar(&opts.hyde, "hyde", false, "Expand the query with a hypothetical answer before embedding")
	cmd.Flags().BoolVar(&opts.expand, "expand-context", false, "Attach neighbouring chunk previews")
	cmd.Flags().BoolVar(&opts.recordUsage, "record-usage", false, "Publish usage events to NATS")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func (o searchOptions) toDomain() (domain.SearchOptions, error) {
	filters := make([]domain.Filter, 0, len(o.filters))
	for _, raw := range o.filters {
		f, err := parseFilterFlag(raw)
		if err != nil {
			return domain.SearchOptions{}, err
		}
		filters = append(filters, f)
	}
	if o.format != "text" && o.format != "json" {
		return domain.SearchOptions{}, fmt.Errorf("unsupported format %q", o.format)
	}
	return domain.SearchOptions{
		CollectionIDs: o.collections,
		Limit:         o.limit,
		Filters:       filters,
		Rerank:        o.rerank,
		HyDE:          o.hyde,
		ExpandContext: o.expand,
		CallerType:    "cli",
		Source:        "searchctl",
	}, nil
}

// parseFilterFlag reads field=value; a comma in the value makes it an "in"
// filter.
func parseFilterFlag(raw string) (domain.Filter, error) {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(value) == "" {
		return domain.Filter{}, fmt.Errorf("filter %q: expected field=value", raw)
	}
	field, err := domain.ParseFilterField(name)
	if err != nil {
		return domain.Filter{}, err
	}
	if !strings.Contains(value, ",") {
		return domain.Filter{Field: field, Operator: domain.OpEq, Value: strings.TrimSpace(value)}, nil
	}
	var values []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return domain.Filter{Field: field, Operator: domain.OpIn, Values: values}, nil
}

func writeResults(w io.Writer, resp *domain.SearchResponse, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if len(resp.Results) == 0 {
		_, err := fmt.Fprintf(w, "No results (%d ms)\n", resp.QueryTimeMs)
		return err
	}
	for i, r := range resp.Results {
		source := r.DataSourceName
		if source == "" {
			source = r.DataSourceID
		}
		if _, err := fmt.Fprintf(w, "%d. [%.4f] %s (%s)\n", i+1, r.Score, r.ChunkID, source); err != nil {
			return err
		}
		if r.ContextBefore != nil {
			fmt.Fprintf(w, "   … %s\n", oneLine(*r.ContextBefore))
		}
		fmt.Fprintf(w, "   %s\n", oneLine(r.Content))
		if r.ContextAfter != nil {
			fmt.Fprintf(w, "   … %s\n", oneLine(*r.ContextAfter))
		}
	}
	_, err := fmt.Fprintf(w, "%d results in %d ms\n", len(resp.Results), resp.QueryTimeMs)
	return err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
