package query

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/auditlens/auditlens/internal/audit"
)

// SearchRequest is the body of POST /{index}/_search. Size is always sent,
// including the zero used by aggregation-only requests.
type SearchRequest struct {
	Size  int                    `json:"size"`
	From  int                    `json:"from,omitempty"`
	Sort  []SortClause           `json:"sort,omitempty"`
	Query *Query                 `json:"query,omitempty"`
	Aggs  map[string]Aggregation `json:"aggs,omitempty"`
}

// SortClause renders as {"<field>": {"order": "<order>"}}.
type SortClause map[string]SortOrder

type SortOrder struct {
	Order string `json:"order"`
}

// Query is a tagged union; exactly one member is set.
type Query struct {
	Match      map[string]string `json:"match,omitempty"`
	MultiMatch *MultiMatch       `json:"multi_match,omitempty"`
	Bool       *BoolQuery        `json:"bool,omitempty"`
}

type MultiMatch struct {
	Query  string   `json:"query"`
	Fields []string `json:"fields"`
}

type BoolQuery struct {
	Should             []Query `json:"should"`
	MinimumShouldMatch int     `json:"minimum_should_match"`
}

type Aggregation struct {
	Terms *TermsAggregation `json:"terms,omitempty"`
}

type TermsAggregation struct {
	Field string `json:"field"`
	Size  int    `json:"size"`
}

// SearchResponse is the subset of the _search response the layer reads.
type SearchResponse struct {
	Hits         HitsEnvelope                 `json:"hits"`
	Aggregations map[string]BucketAggregation `json:"aggregations"`
}

type HitsEnvelope struct {
	Total TotalHits `json:"total"`
	Hits  []Hit     `json:"hits"`
}

type Hit struct {
	ID     string      `json:"_id"`
	Source audit.Event `json:"_source"`
}

type BucketAggregation struct {
	Buckets []Bucket `json:"buckets"`
}

type Bucket struct {
	Key      string `json:"key"`
	DocCount int64  `json:"doc_count"`
}

// TotalHits accepts both {"value": n, "relation": "eq"} and a bare number
// (clusters older than 7.0).
type TotalHits struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation,omitempty"`
}

func (t *TotalHits) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		type plain TotalHits
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decoding hits.total: %w", err)
		}
		*t = TotalHits(p)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*t = TotalHits{}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding hits.total: %w", err)
	}
	*t = TotalHits{Value: n, Relation: "eq"}
	return nil
}

// matchQuery builds {"match": {field: value}}.
func matchQuery(field, value string) Query {
	return Query{Match: map[string]string{field: value}}
}

// anyOf builds a bool/should disjunction over per-identifier match clauses.
func anyOf(field string, values []string) Query {
	should := make([]Query, 0, len(values))
	for _, v := range values {
		should = append(should, matchQuery(field, v))
	}
	return Query{Bool: &BoolQuery{Should: should, MinimumShouldMatch: 1}}
}

func (r SearchResponse) events() []audit.Event {
	events := make([]audit.Event, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		events = append(events, h.Source)
	}
	return events
}
