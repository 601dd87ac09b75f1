package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Jeffail/gabs"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/mitchellh/mapstructure"

	"github.com/varfish-org/varfish-server-sub005/models"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
)

const genesIndex = "genes"

// ErrUnresolvedGeneOrTerm marks gene symbols, panel names or HPO term
// ids the catalog could not resolve; submissions carrying them are
// rejected with the offending identifiers listed
var ErrUnresolvedGeneOrTerm = errors.New("unresolved gene or term")

// GeneRepository is the gene/HPO lookup collaborator backed by the gene
// catalog index
type GeneRepository struct {
	Cfg    *models.Config
	Client *elasticsearch.Client
}

func (r *GeneRepository) search(ctx context.Context, query map[string]interface{}) ([]*indexes.Gene, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encoding gene query: %w", err)
	}

	if r.Cfg.Debug {
		fmt.Println(buf.String())
	}

	res, searchErr := r.Client.Search(
		r.Client.Search.WithContext(ctx),
		r.Client.Search.WithIndex(genesIndex),
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
		return nil, fmt.Errorf("%w: gene search returned %s", ErrStorageRead, res.Status())
	}

	jsonParsed, parseErr := gabs.ParseJSON(body)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrStorageRead, parseErr.Error())
	}

	hits, hitsErr := jsonParsed.Path("hits.hits").Children()
	if hitsErr != nil {
		return nil, fmt.Errorf("%w: malformed gene search response", ErrStorageRead)
	}

	genes := make([]*indexes.Gene, 0, len(hits))
	for _, hit := range hits {
		source, sourceOk := hit.Path("_source").Data().(map[string]interface{})
		if !sourceOk {
			continue
		}
		var gene indexes.Gene
		if decodeErr := mapstructure.Decode(source, &gene); decodeErr != nil {
			return nil, fmt.Errorf("%w: decoding gene document: %s", ErrStorageRead, decodeErr.Error())
		}
		genes = append(genes, &gene)
	}

	return genes, nil
}

func termsQuery(fields map[string][]string) map[string]interface{} {
	shouldMap := []map[string]interface{}{}
	for field, values := range fields {
		shouldMap = append(shouldMap, map[string]interface{}{
			"terms": map[string]interface{}{
				field: values,
			},
		})
	}
	return map[string]interface{}{
		"size": "10000",
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               shouldMap,
				"minimum_should_match": 1,
			},
		},
	}
}

// ResolveGeneIdentifiers maps gene symbols and/or gene ids onto the set
// of canonical gene ids, reporting every identifier the catalog does
// not know
func (r *GeneRepository) ResolveGeneIdentifiers(ctx context.Context, identifiers []string) (map[string]bool, []string, error) {
	if len(identifiers) == 0 {
		return map[string]bool{}, nil, nil
	}

	genes, err := r.search(ctx, termsQuery(map[string][]string{
		"geneId.keyword": identifiers,
		"symbol.keyword": identifiers,
	}))
	if err != nil {
		return nil, nil, err
	}

	resolved := map[string]bool{}
	matched := map[string]bool{}
	for _, gene := range genes {
		resolved[gene.GeneId] = true
		matched[gene.GeneId] = true
		matched[gene.Symbol] = true
	}

	unresolved := []string{}
	for _, identifier := range identifiers {
		if !matched[identifier] {
			unresolved = append(unresolved, identifier)
		}
	}
	sort.Strings(unresolved)

	return resolved, unresolved, nil
}

// ResolveGenePanels expands named gene panels to gene ids
func (r *GeneRepository) ResolveGenePanels(ctx context.Context, panels []string) (map[string]bool, []string, error) {
	if len(panels) == 0 {
		return map[string]bool{}, nil, nil
	}

	genes, err := r.search(ctx, termsQuery(map[string][]string{
		"panels.keyword": panels,
	}))
	if err != nil {
		return nil, nil, err
	}

	resolved := map[string]bool{}
	matchedPanels := map[string]bool{}
	for _, gene := range genes {
		resolved[gene.GeneId] = true
		for _, panel := range gene.Panels {
			matchedPanels[panel] = true
		}
	}

	unresolved := []string{}
	for _, panel := range panels {
		if !matchedPanels[panel] {
			unresolved = append(unresolved, panel)
		}
	}
	sort.Strings(unresolved)

	return resolved, unresolved, nil
}

// ResolveHpoTerms expands phenotype term ids to the gene ids annotated
// with them
func (r *GeneRepository) ResolveHpoTerms(ctx context.Context, terms []string) (map[string]bool, []string, error) {
	if len(terms) == 0 {
		return map[string]bool{}, nil, nil
	}

	genes, err := r.search(ctx, termsQuery(map[string][]string{
		"hpoTerms.keyword": terms,
	}))
	if err != nil {
		return nil, nil, err
	}

	resolved := map[string]bool{}
	matchedTerms := map[string]bool{}
	for _, gene := range genes {
		resolved[gene.GeneId] = true
		for _, term := range gene.HpoTerms {
			matchedTerms[term] = true
		}
	}

	unresolved := []string{}
	for _, term := range terms {
		if !matchedTerms[term] {
			unresolved = append(unresolved, term)
		}
	}
	sort.Strings(unresolved)

	return resolved, unresolved, nil
}
