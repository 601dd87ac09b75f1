package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Jeffail/gabs"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/mitchellh/mapstructure"

	"github.com/varfish-org/varfish-server-sub005/models"
	sortDirection "github.com/varfish-org/varfish-server-sub005/models/constants/sort"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
	"github.com/varfish-org/varfish-server-sub005/services/compiler"
	"github.com/varfish-org/varfish-server-sub005/services/predicates"
)

const caseVariantsIndex = "case-variants"

// ErrStorageRead marks transient read failures from the variant store;
// executions failing with it are safe to resubmit
var ErrStorageRead = errors.New("variant store read failure")

// VariantRepository reads pre-annotated variant documents for one case.
// The index is read-only from the engine's perspective; the annotation
// pipeline owns all writes.
type VariantRepository struct {
	Cfg    *models.Config
	Client *elasticsearch.Client
}

// SearchVariantRows fetches one deterministic batch of variant rows for
// the plan, pushing the storage-level predicates down into the bool
// query. Paging uses search_after over the fixed (chrom, pos, ref, alt)
// sort, so a restart from any offset reproduces the same sequence.
func (r *VariantRepository) SearchVariantRows(ctx context.Context, plan *compiler.QueryPlan, searchAfter []interface{}, size int) ([]*indexes.VariantRow, []interface{}, error) {
	// begin building the request body
	mustMap := []map[string]interface{}{{
		"term": map[string]interface{}{
			"caseId.keyword": plan.CaseId,
		}},
	}
	var (
		shouldMap          []map[string]interface{}
		minimumShouldMatch int
	)

	if len(plan.Pushdown.Chromosomes) > 0 {
		mustMap = append(mustMap, map[string]interface{}{
			"terms": map[string]interface{}{
				"chrom.keyword": plan.Pushdown.Chromosomes,
			},
		})
	}

	if len(plan.Pushdown.VariantTypes) > 0 {
		mustMap = append(mustMap, map[string]interface{}{
			"terms": map[string]interface{}{
				"variantType.keyword": plan.Pushdown.VariantTypes,
			},
		})
	}

	if len(plan.Pushdown.ConsequenceTerms) > 0 {
		mustMap = append(mustMap, map[string]interface{}{
			"terms": map[string]interface{}{
				"transcripts.consequences.keyword": plan.Pushdown.ConsequenceTerms,
			},
		})
	}

	// locus union: gene membership OR region containment
	if len(plan.Pushdown.AllowGeneIds) > 0 {
		shouldMap = append(shouldMap, map[string]interface{}{
			"terms": map[string]interface{}{
				"transcripts.geneId.keyword": plan.Pushdown.AllowGeneIds,
			},
		})
	}
	for _, region := range plan.Pushdown.Regions {
		regionMust := []map[string]interface{}{{
			"term": map[string]interface{}{
				"chrom.keyword": region.Chrom,
			}},
		}
		rangeMap := map[string]interface{}{}
		if region.Start != nil {
			rangeMap["gte"] = *region.Start
		}
		if region.Stop != nil {
			rangeMap["lte"] = *region.Stop
		}
		if len(rangeMap) > 0 {
			regionMust = append(regionMust, map[string]interface{}{
				"range": map[string]interface{}{
					"pos": rangeMap,
				},
			})
		}
		shouldMap = append(shouldMap, map[string]interface{}{
			"bool": map[string]interface{}{
				"must": regionMust,
			},
		})
	}
	if len(shouldMap) > 0 {
		minimumShouldMatch = 1
	}

	// frequency ceilings: a document passes a pushed-down ceiling when
	// the source annotation is absent or below the ceiling. The carrier
	// ceiling is derived client-side and is not pushed down.
	for _, frequency := range plan.Pushdown.Frequency {
		for field, ceiling := range frequencyCeilingFields(frequency) {
			mustMap = append(mustMap, map[string]interface{}{
				"bool": map[string]interface{}{
					"should": []map[string]interface{}{
						{"bool": map[string]interface{}{
							"must_not": map[string]interface{}{
								"exists": map[string]interface{}{"field": field},
							},
						}},
						{"range": map[string]interface{}{
							field: map[string]interface{}{"lte": ceiling},
						}},
					},
					"minimum_should_match": 1,
				},
			})
		}
	}

	// overall query structure
	var buf bytes.Buffer
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{{
					"bool": map[string]interface{}{
						"must":                 mustMap,
						"should":               shouldMap,
						"minimum_should_match": minimumShouldMatch,
					}},
				},
			},
		},
		"size": size,
		// fixed sort makes the stream restartable and deterministic
		"sort": []map[string]interface{}{
			{"chrom.keyword": sortDirection.Ascending},
			{"pos": sortDirection.Ascending},
			{"ref.keyword": sortDirection.Ascending},
			{"alt.keyword": sortDirection.Ascending},
		},
	}
	if len(searchAfter) > 0 {
		query["search_after"] = searchAfter
	}

	// encode the query
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, nil, fmt.Errorf("encoding variant query: %w", err)
	}

	if r.Cfg.Debug {
		// view the outbound elasticsearch query
		fmt.Println(buf.String())
	}

	// Perform the search request.
	res, searchErr := r.Client.Search(
		r.Client.Search.WithContext(ctx),
		r.Client.Search.WithIndex(caseVariantsIndex),
		r.Client.Search.WithBody(&buf),
		r.Client.Search.WithTrackTotalHits(false),
	)
	if searchErr != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrStorageRead, searchErr.Error())
	}
	defer res.Body.Close()

	body, readErr := io.ReadAll(res.Body)
	if readErr != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrStorageRead, readErr.Error())
	}
	if res.IsError() {
		return nil, nil, fmt.Errorf("%w: search returned %s", ErrStorageRead, res.Status())
	}

	jsonParsed, parseErr := gabs.ParseJSON(body)
	if parseErr != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrStorageRead, parseErr.Error())
	}

	hits, hitsErr := jsonParsed.Path("hits.hits").Children()
	if hitsErr != nil {
		return nil, nil, fmt.Errorf("%w: malformed search response", ErrStorageRead)
	}

	rows := make([]*indexes.VariantRow, 0, len(hits))
	var nextSearchAfter []interface{}
	for _, hit := range hits {
		source, sourceOk := hit.Path("_source").Data().(map[string]interface{})
		if !sourceOk {
			continue
		}

		var row indexes.VariantRow
		if decodeErr := mapstructure.Decode(source, &row); decodeErr != nil {
			return nil, nil, fmt.Errorf("%w: decoding variant document: %s", ErrStorageRead, decodeErr.Error())
		}
		rows = append(rows, &row)

		if sortValues, sortOk := hit.Path("sort").Data().([]interface{}); sortOk {
			nextSearchAfter = sortValues
		}
	}

	return rows, nextSearchAfter, nil
}

// frequencyCeilingFields maps the pushable ceilings of one source onto
// their document field paths
func frequencyCeilingFields(frequency predicates.FrequencyPredicate) map[string]interface{} {
	fields := map[string]interface{}{}
	prefix := "frequencies." + frequency.Source

	if frequency.MaxFrequency != nil {
		fields[prefix+".frequency"] = *frequency.MaxFrequency
	}
	if frequency.MaxHomozygous != nil {
		fields[prefix+".homozygous"] = *frequency.MaxHomozygous
	}
	if frequency.MaxHeterozygous != nil {
		fields[prefix+".heterozygous"] = *frequency.MaxHeterozygous
	}
	if frequency.MaxHemizygous != nil {
		fields[prefix+".hemizygous"] = *frequency.MaxHemizygous
	}
	return fields
}

// GetVariantBucketsByKeyword aggregates the case's variant documents by
// one keyword field (e.g. "chrom.keyword", "variantType.keyword") for
// the case overview endpoint
func (r *VariantRepository) GetVariantBucketsByKeyword(ctx context.Context, caseId string, keyword string) (map[string]interface{}, error) {
	var buf bytes.Buffer
	aggMap := map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"caseId.keyword": caseId,
			},
		},
		"aggs": map[string]interface{}{
			"items": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": keyword,
					"size":  "10000", // increases the number of buckets returned (default is 10)
					"order": map[string]string{
						"_key": "asc",
					},
				},
			},
		},
	}

	if err := json.NewEncoder(&buf).Encode(aggMap); err != nil {
		return nil, fmt.Errorf("encoding aggregation query: %w", err)
	}

	res, searchErr := r.Client.Search(
		r.Client.Search.WithContext(ctx),
		r.Client.Search.WithIndex(caseVariantsIndex),
		r.Client.Search.WithBody(&buf),
	)
	if searchErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrStorageRead, searchErr.Error())
	}
	defer res.Body.Close()

	body, readErr := io.ReadAll(res.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrStorageRead, readErr.Error())
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: aggregation returned %s", ErrStorageRead, res.Status())
	}

	jsonParsed, parseErr := gabs.ParseJSON(body)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrStorageRead, parseErr.Error())
	}

	buckets, bucketsErr := jsonParsed.Path("aggregations.items.buckets").Children()
	if bucketsErr != nil {
		return nil, fmt.Errorf("%w: malformed aggregation response", ErrStorageRead)
	}

	individualKeyMap := map[string]interface{}{}
	for _, bucket := range buckets {
		// ensure strings and numbers are expressed as strings
		docKey := fmt.Sprint(bucket.Path("key").Data())
		individualKeyMap[docKey] = bucket.Path("doc_count").Data()
	}

	return individualKeyMap, nil
}
