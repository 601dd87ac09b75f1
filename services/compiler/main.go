package compiler

import (
	"fmt"
	"sort"

	c "github.com/varfish-org/varfish-server-sub005/models/constants"
	"github.com/varfish-org/varfish-server-sub005/models/constants/chromosome"
	inheritanceMode "github.com/varfish-org/varfish-server-sub005/models/constants/inheritance-mode"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
	"github.com/varfish-org/varfish-server-sub005/services/predicates"
)

// re-exported so callers observe one error for all compilation failures
var ErrInvalidFilterSettings = predicates.ErrInvalidFilterSettings

// OutputOptions names the denormalized display fields the result rows
// must carry; side tables are only joined for the active ones
type OutputOptions struct {
	WithFlags    bool
	WithComments bool
	WithAcmg     bool
}

func DefaultOutputOptions() OutputOptions {
	return OutputOptions{WithFlags: true, WithComments: true, WithAcmg: true}
}

type SideTableJoins struct {
	Flags       bool
	Comments    bool
	AcmgRatings bool
}

// PushdownFilter describes the storage-level part of the plan: what the
// variant store can pre-filter before rows ever reach the executor.
// Residual predicates re-check everything client-side, so pushdown is a
// pure optimization with identical semantics.
type PushdownFilter struct {
	// chromosome restriction derived from the inheritance mode or the
	// region list; empty means all chromosomes
	Chromosomes []string

	Regions      []settings.Region
	AllowGeneIds []string

	VariantTypes     []c.VariantType
	ConsequenceTerms []string

	Frequency []predicates.FrequencyPredicate
}

type QueryPlan struct {
	CaseId string
	Mode   c.InheritanceMode

	Pushdown PushdownFilter
	Residual *predicates.PredicateSet

	// per-member genotype/quality constraints (executor-side, because
	// of their fail-mode semantics)
	Constraints map[string]*settings.MemberConstraint

	Joins     SideTableJoins
	BatchSize int
}

// Compile turns the predicate set for one validated filter document
// into an executable plan. Pure and side-effect-free; fails fast with
// ErrInvalidFilterSettings on undefined members, unknown population
// sources or malformed regions.
func Compile(ped *pedigree.Pedigree, filterSettings *settings.FilterSettings, genes predicates.GeneSets, output OutputOptions, batchSize int) (*QueryPlan, error) {
	if err := filterSettings.Validate(ped, indexes.KnownFrequencySources); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFilterSettings, err.Error())
	}

	predicateSet, err := predicates.Build(filterSettings, genes)
	if err != nil {
		return nil, err
	}

	plan := &QueryPlan{
		CaseId:      ped.CaseId,
		Mode:        filterSettings.Mode,
		Residual:    predicateSet,
		Constraints: filterSettings.Genotype,
		Joins: SideTableJoins{
			Flags:       output.WithFlags,
			Comments:    output.WithComments,
			AcmgRatings: output.WithAcmg,
		},
		BatchSize: batchSize,
	}

	plan.Pushdown = buildPushdown(filterSettings, predicateSet)
	return plan, nil
}

func buildPushdown(filterSettings *settings.FilterSettings, predicateSet *predicates.PredicateSet) PushdownFilter {
	pushdown := PushdownFilter{
		Regions:   filterSettings.Locus.Regions,
		Frequency: predicateSet.Frequency,
	}

	geneIds := make([]string, 0, len(predicateSet.Locus.Genes.Allow))
	for geneId := range predicateSet.Locus.Genes.Allow {
		geneIds = append(geneIds, geneId)
	}
	sort.Strings(geneIds)
	pushdown.AllowGeneIds = geneIds

	terms := make([]string, 0, len(predicateSet.Consequence.Terms))
	for term := range predicateSet.Consequence.Terms {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	pushdown.ConsequenceTerms = terms

	variantTypes := make([]c.VariantType, 0, len(predicateSet.Consequence.VariantTypes))
	for variantType := range predicateSet.Consequence.VariantTypes {
		variantTypes = append(variantTypes, variantType)
	}
	sort.Slice(variantTypes, func(i, j int) bool { return variantTypes[i] < variantTypes[j] })
	pushdown.VariantTypes = variantTypes

	// x-recessive only ever touches the X chromosome; push that down
	if filterSettings.Mode == inheritanceMode.XRecessive {
		pushdown.Chromosomes = []string{chromosome.ChromosomeX}
	} else if len(filterSettings.Locus.Regions) > 0 && len(pushdown.AllowGeneIds) == 0 {
		// a pure region query restricts the chromosome set too
		seen := map[string]bool{}
		for _, region := range filterSettings.Locus.Regions {
			normalized := chromosome.Normalize(region.Chrom)
			if !seen[normalized] {
				seen[normalized] = true
				pushdown.Chromosomes = append(pushdown.Chromosomes, normalized)
			}
		}
		sort.Strings(pushdown.Chromosomes)
	}

	return pushdown
}
