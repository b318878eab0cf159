package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

// TextSearchConfig is the regconfig used for websearch_to_tsquery. It must
// match the one the ingestion side used to build chunks.search_vector.
const TextSearchConfig = "english"

// CorpusRepository runs the three retrieval signals and the neighbour lookups
// against the chunk store. The schema is owned by ingestion:
//
//	chunks(id, tenant_id, document_id, sequence_index, content, embedding vector,
//	       search_vector tsvector, metadata jsonb, collection_id)
//	documents(id, tenant_id, data_source_id, source_url)
//	data_sources(id, name)
type CorpusRepository struct {
	db *sql.DB
}

func NewCorpusRepository(db *sql.DB) *CorpusRepository {
	return &CorpusRepository{db: db}
}

const resultColumns = `c.id, c.content, %s AS score, c.metadata, d.source_url, d.data_source_id, COALESCE(ds.name, ''), c.collection_id`

const resultJoins = `
FROM chunks c
JOIN documents d ON d.id = c.document_id AND d.tenant_id = c.tenant_id
LEFT JOIN data_sources ds ON ds.id = d.data_source_id`

func (r *CorpusRepository) SearchVector(ctx context.Context, vector []float32, scope domain.SearchScope) ([]domain.SearchResult, error) {
	if len(vector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "vector search", fmt.Errorf("empty query vector"))
	}
	args := &queryArgs{}
	predicates, err := scopePredicates(scope, args)
	if err != nil {
		return nil, err
	}
	vec := args.add(pgvector.NewVector(vector))
	predicates = append(predicates, "c.embedding IS NOT NULL")

	query := fmt.Sprintf("SELECT "+resultColumns+resultJoins+"\nWHERE %s\nORDER BY c.embedding <=> %s::vector\nLIMIT %s",
		"1 - (c.embedding <=> "+vec+"::vector)",
		strings.Join(predicates, " AND "),
		vec,
		args.add(scope.Limit),
	)
	results, err := r.queryResults(ctx, query, args.values)
	if err != nil {
		return nil, classifyQueryError("vector search", err)
	}
	return results, nil
}

func (r *CorpusRepository) SearchFullText(ctx context.Context, text string, scope domain.SearchScope) ([]domain.SearchResult, error) {
	args := &queryArgs{}
	predicates, err := scopePredicates(scope, args)
	if err != nil {
		return nil, err
	}
	tsq := fmt.Sprintf("websearch_to_tsquery('%s', %s)", TextSearchConfig, args.add(text))
	predicates = append(predicates, "c.search_vector @@ "+tsq)

	query := fmt.Sprintf("SELECT "+resultColumns+resultJoins+"\nWHERE %s\nORDER BY score DESC, c.id\nLIMIT %s",
		"ts_rank_cd(c.search_vector, "+tsq+")",
		strings.Join(predicates, " AND "),
		args.add(scope.Limit),
	)
	results, err := r.queryResults(ctx, query, args.values)
	if err != nil {
		return nil, classifyQueryError("full-text search", err)
	}
	return results, nil
}

// SearchTrigram needs pg_trgm. A database without it yields
// domain.ErrFeatureUnavailable.
func (r *CorpusRepository) SearchTrigram(ctx context.Context, text string, scope domain.SearchScope) ([]domain.SearchResult, error) {
	args := &queryArgs{}
	predicates, err := scopePredicates(scope, args)
	if err != nil {
		return nil, err
	}
	q := args.add(text)
	// Scored against the best-matching span of the chunk, not the whole text.
	predicates = append(predicates, q+" <% c.content")

	query := fmt.Sprintf("SELECT "+resultColumns+resultJoins+"\nWHERE %s\nORDER BY score DESC, c.id\nLIMIT %s",
		"word_similarity("+q+", c.content)",
		strings.Join(predicates, " AND "),
		args.add(scope.Limit),
	)
	results, err := r.queryResults(ctx, query, args.values)
	if err != nil {
		if isMissingExtension(err) {
			return nil, domain.WrapError(domain.ErrFeatureUnavailable, "trigram search", err)
		}
		return nil, classifyQueryError("trigram search", err)
	}
	return results, nil
}

func (r *CorpusRepository) queryResults(ctx context.Context, query string, args []any) ([]domain.SearchResult, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.SearchResult, 0)
	for rows.Next() {
		var (
			res          domain.SearchResult
			metadataRaw  []byte
			sourceURL    sql.NullString
			dataSourceID sql.NullString
			collectionID sql.NullString
		)
		if err := rows.Scan(
			&res.ChunkID, &res.Content, &res.Score, &metadataRaw,
			&sourceURL, &dataSourceID, &res.DataSourceName, &collectionID,
		); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &res.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for chunk %s: %w", res.ChunkID, err)
			}
		}
		if sourceURL.Valid {
			res.SourceURL = &sourceURL.String
		}
		if collectionID.Valid {
			res.CollectionID = &collectionID.String
		}
		res.DataSourceID = dataSourceID.String
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return results, nil
}

func (r *CorpusRepository) ChunkPositions(ctx context.Context, tenantID string, chunkIDs []string) (map[string]domain.ChunkPosition, error) {
	out := make(map[string]domain.ChunkPosition, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	args := &queryArgs{}
	query := fmt.Sprintf(`SELECT id, document_id, sequence_index FROM chunks WHERE tenant_id = %s AND id IN (%s)`,
		args.add(tenantID), args.list(chunkIDs))

	rows, err := r.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, classifyQueryError("load chunk positions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var pos domain.ChunkPosition
		if err := rows.Scan(&id, &pos.DocumentID, &pos.SequenceIndex); err != nil {
			return nil, fmt.Errorf("scan chunk position: %w", err)
		}
		out[id] = pos
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk positions: %w", err)
	}
	return out, nil
}

// NeighborContents fetches every requested (document, sequence) pair in one
// round trip.
func (r *CorpusRepository) NeighborContents(ctx context.Context, tenantID string, keys []domain.ChunkPosition) (map[domain.ChunkPosition]string, error) {
	out := make(map[domain.ChunkPosition]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := &queryArgs{}
	tenant := args.add(tenantID)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = "(" + args.add(k.DocumentID) + ", " + args.add(k.SequenceIndex) + ")"
	}
	query := fmt.Sprintf(`SELECT document_id, sequence_index, content FROM chunks WHERE tenant_id = %s AND (document_id, sequence_index) IN (%s)`,
		tenant, strings.Join(pairs, ", "))

	rows, err := r.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, classifyQueryError("load neighbor contents", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pos domain.ChunkPosition
		var content string
		if err := rows.Scan(&pos.DocumentID, &pos.SequenceIndex, &content); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		out[pos] = content
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return out, nil
}
