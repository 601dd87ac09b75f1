package predicates

import (
	"errors"
	"fmt"
	"sort"

	c "github.com/varfish-org/varfish-server-sub005/models/constants"
	"github.com/varfish-org/varfish-server-sub005/models/constants/chromosome"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
)

var ErrInvalidFilterSettings = errors.New("invalid filter settings")

// GeneSets carries the locus gene lists after symbol/panel/HPO
// expansion to canonical gene ids (done by the gene lookup collaborator
// before predicates are built)
type GeneSets struct {
	Allow map[string]bool
	Block map[string]bool
}

// FrequencyPredicate is one enabled population source with its ceilings;
// nil ceilings are individually disabled. Sources that were left
// disabled never become predicates at all.
type FrequencyPredicate struct {
	Source string

	MaxFrequency    *float64
	MaxHomozygous   *int
	MaxHeterozygous *int
	MaxHemizygous   *int
	MaxCarriers     *int
}

func (p FrequencyPredicate) Matches(row *indexes.VariantRow) bool {
	annotation, present := row.Frequencies[p.Source]
	if !present {
		// absent from the source: all counts are zero, every ceiling holds
		return true
	}

	if p.MaxFrequency != nil && annotation.Frequency > *p.MaxFrequency {
		return false
	}
	if p.MaxHomozygous != nil && annotation.Homozygous > *p.MaxHomozygous {
		return false
	}
	if p.MaxHeterozygous != nil && annotation.Heterozygous > *p.MaxHeterozygous {
		return false
	}
	if p.MaxHemizygous != nil && annotation.Hemizygous > *p.MaxHemizygous {
		return false
	}
	if p.MaxCarriers != nil && annotation.Carriers() > *p.MaxCarriers {
		return false
	}
	return true
}

// ConsequencePredicate passes a variant if at least one transcript of an
// allowed transcript type intersects the allowed consequence terms and
// sits close enough to an exon; empty allow-lists mean "any"
type ConsequencePredicate struct {
	Terms           map[string]bool
	TranscriptTypes map[c.TranscriptType]bool
	VariantTypes    map[c.VariantType]bool

	MaxDistanceToExon *int
}

func (p ConsequencePredicate) isUnconstrained() bool {
	return len(p.Terms) == 0 && len(p.TranscriptTypes) == 0 && p.MaxDistanceToExon == nil
}

func (p ConsequencePredicate) transcriptMatches(transcript indexes.TranscriptAnnotation) bool {
	if len(p.TranscriptTypes) > 0 && !p.TranscriptTypes[transcript.TranscriptType] {
		return false
	}
	if p.MaxDistanceToExon != nil && transcript.DistanceToExon != nil &&
		*transcript.DistanceToExon > *p.MaxDistanceToExon {
		return false
	}
	if len(p.Terms) == 0 {
		return true
	}
	for _, term := range transcript.Consequences {
		if p.Terms[term] {
			return true
		}
	}
	return false
}

func (p ConsequencePredicate) Matches(row *indexes.VariantRow) bool {
	if len(p.VariantTypes) > 0 && !p.VariantTypes[row.VariantType] {
		return false
	}
	if p.isUnconstrained() {
		return true
	}
	for _, transcript := range row.Transcripts {
		if p.transcriptMatches(transcript) {
			return true
		}
	}
	return false
}

// LocusPredicate is the union of explicit gene membership and genomic
// regions, or the whole genome when both are empty; the gene block list
// subtracts matches afterwards
type LocusPredicate struct {
	Genes       GeneSets
	Regions     []settings.Region
	WholeGenome bool
}

func (p LocusPredicate) rowGeneIds(row *indexes.VariantRow) []string {
	geneIds := []string{}
	for _, transcript := range row.Transcripts {
		if transcript.GeneId != "" {
			geneIds = append(geneIds, transcript.GeneId)
		}
	}
	return geneIds
}

func regionContains(region settings.Region, row *indexes.VariantRow) bool {
	if chromosome.Normalize(region.Chrom) != chromosome.Normalize(row.Chrom) {
		return false
	}
	if region.Start != nil && row.Pos < *region.Start {
		return false
	}
	if region.Stop != nil && row.Pos > *region.Stop {
		return false
	}
	return true
}

func (p LocusPredicate) Matches(row *indexes.VariantRow) bool {
	// block list subtracts regardless of how the variant was included
	for _, geneId := range p.rowGeneIds(row) {
		if p.Genes.Block[geneId] {
			return false
		}
	}

	if p.WholeGenome {
		return true
	}

	for _, geneId := range p.rowGeneIds(row) {
		if p.Genes.Allow[geneId] {
			return true
		}
	}
	for _, region := range p.Regions {
		if regionContains(region, row) {
			return true
		}
	}
	return false
}

// PredicateSet is the typed intermediate representation the compiler
// turns into a query plan. All groups are ANDed; frequency ceilings
// across populations are independent ANDed ceilings, not an OR.
type PredicateSet struct {
	Frequency   []FrequencyPredicate
	Consequence ConsequencePredicate
	Locus       LocusPredicate

	// per-member genotype/quality constraints, delegated to the
	// genotype matcher during execution
	Quality map[string]*settings.MemberConstraint
}

// MatchesAnnotations evaluates the annotation-side predicates
// (frequency, consequence, locus); genotype/quality constraints are the
// executor's concern because of their fail-mode semantics
func (ps *PredicateSet) MatchesAnnotations(row *indexes.VariantRow) bool {
	for _, frequency := range ps.Frequency {
		if !frequency.Matches(row) {
			return false
		}
	}
	return ps.Consequence.Matches(row) && ps.Locus.Matches(row)
}

// Build converts a validated filter-settings document into the
// predicate set; it never executes anything
func Build(filterSettings *settings.FilterSettings, genes GeneSets) (*PredicateSet, error) {
	predicateSet := &PredicateSet{
		Quality: filterSettings.Genotype,
	}

	// deterministic predicate order regardless of map iteration
	sources := make([]string, 0, len(filterSettings.Frequency))
	for source := range filterSettings.Frequency {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		frequencySettings := filterSettings.Frequency[source]
		if frequencySettings == nil || !frequencySettings.Enabled {
			// disabled sources are excluded from the AND-chain entirely
			continue
		}
		predicateSet.Frequency = append(predicateSet.Frequency, FrequencyPredicate{
			Source:          source,
			MaxFrequency:    frequencySettings.MaxFrequency,
			MaxHomozygous:   frequencySettings.MaxHomozygous,
			MaxHeterozygous: frequencySettings.MaxHeterozygous,
			MaxHemizygous:   frequencySettings.MaxHemizygous,
			MaxCarriers:     frequencySettings.MaxCarriers,
		})
	}

	consequence := ConsequencePredicate{
		Terms:             map[string]bool{},
		TranscriptTypes:   map[c.TranscriptType]bool{},
		VariantTypes:      map[c.VariantType]bool{},
		MaxDistanceToExon: filterSettings.Consequence.MaxDistanceToExon,
	}
	for _, term := range filterSettings.Consequence.Terms {
		consequence.Terms[term] = true
	}
	for _, transcriptType := range filterSettings.Consequence.TranscriptTypes {
		consequence.TranscriptTypes[transcriptType] = true
	}
	for _, variantType := range filterSettings.Consequence.VariantTypes {
		consequence.VariantTypes[variantType] = true
	}
	predicateSet.Consequence = consequence

	for _, region := range filterSettings.Locus.Regions {
		if !chromosome.IsValidHumanChromosome(region.Chrom) {
			return nil, fmt.Errorf("%w: malformed region chromosome '%s'", ErrInvalidFilterSettings, region.Chrom)
		}
	}
	if genes.Allow == nil {
		genes.Allow = map[string]bool{}
	}
	if genes.Block == nil {
		genes.Block = map[string]bool{}
	}
	predicateSet.Locus = LocusPredicate{
		Genes:       genes,
		Regions:     filterSettings.Locus.Regions,
		WholeGenome: len(genes.Allow) == 0 && len(filterSettings.Locus.Regions) == 0,
	}

	return predicateSet, nil
}
