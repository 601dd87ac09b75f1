package settings

import (
	"fmt"

	c "github.com/varfish-org/varfish-server-sub005/models/constants"
	"github.com/varfish-org/varfish-server-sub005/models/constants/chromosome"
	failMode "github.com/varfish-org/varfish-server-sub005/models/constants/fail-mode"
	inheritanceMode "github.com/varfish-org/varfish-server-sub005/models/constants/inheritance-mode"
	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
)

// FilterSettings is the validated, structured document driving one query.
// It is created per submission and never mutated after the job starts;
// the executions table stores it verbatim for provenance.
type FilterSettings struct {
	Mode c.InheritanceMode `json:"mode" yaml:"mode"`

	// member id -> constraint
	Genotype map[string]*MemberConstraint `json:"genotype" yaml:"genotype"`

	// population source name -> ceilings
	Frequency map[string]*FrequencySettings `json:"frequency" yaml:"frequency"`

	Consequence ConsequenceSettings `json:"consequence" yaml:"consequence"`
	Locus       LocusSettings       `json:"locus" yaml:"locus"`
}

type MemberConstraint struct {
	// optional exact call pattern, e.g. "0/1"; empty means any call
	ExactCall string `json:"exactCall" yaml:"exactCall"`

	MinDp *int     `json:"minDp" yaml:"minDp"`
	MinAd *int     `json:"minAd" yaml:"minAd"`
	MinGq *int     `json:"minGq" yaml:"minGq"`
	MinAb *float64 `json:"minAb" yaml:"minAb"` // heterozygous calls only

	FailMode c.FailMode `json:"failMode" yaml:"failMode"`
}

type FrequencySettings struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// nil ceilings are individually disabled while the source stays enabled
	MaxFrequency   *float64 `json:"maxFrequency" yaml:"maxFrequency"`
	MaxHomozygous  *int     `json:"maxHomozygous" yaml:"maxHomozygous"`
	MaxHeterozygous *int    `json:"maxHeterozygous" yaml:"maxHeterozygous"`
	MaxHemizygous  *int     `json:"maxHemizygous" yaml:"maxHemizygous"`
	MaxCarriers    *int     `json:"maxCarriers" yaml:"maxCarriers"`
}

type ConsequenceSettings struct {
	// empty allow-lists mean "any"
	Terms           []string           `json:"terms" yaml:"terms"`
	TranscriptTypes []c.TranscriptType `json:"transcriptTypes" yaml:"transcriptTypes"`
	VariantTypes    []c.VariantType    `json:"variantTypes" yaml:"variantTypes"`

	MaxDistanceToExon *int `json:"maxDistanceToExon" yaml:"maxDistanceToExon"`
}

type LocusSettings struct {
	// symbols or gene ids; resolved against the gene catalog before building
	GeneAllowList []string `json:"geneAllowList" yaml:"geneAllowList"`
	GeneBlockList []string `json:"geneBlockList" yaml:"geneBlockList"`
	GenePanels    []string `json:"genePanels" yaml:"genePanels"`
	HpoTerms      []string `json:"hpoTerms" yaml:"hpoTerms"`

	Regions []Region `json:"regions" yaml:"regions"`
}

type Region struct {
	Chrom string `json:"chrom" yaml:"chrom"`
	// nil bounds leave the corresponding side open
	Start *int `json:"start" yaml:"start"`
	Stop  *int `json:"stop" yaml:"stop"`
}

// Validate performs the boundary checks of the filter document against
// its pedigree and the set of known population sources; anything that
// fails here is rejected before a job is ever queued
func (s *FilterSettings) Validate(ped *pedigree.Pedigree, knownSources []string) error {
	if _, err := inheritanceMode.CastToInheritanceMode(string(s.Mode)); err != nil {
		return fmt.Errorf("unknown inheritance mode '%s'", s.Mode)
	}

	for memberId, constraint := range s.Genotype {
		if !ped.HasMember(memberId) {
			return fmt.Errorf("genotype constraint references undefined member '%s'", memberId)
		}
		if constraint == nil {
			return fmt.Errorf("missing genotype constraint body for member '%s'", memberId)
		}
		if _, err := failMode.CastToFailMode(string(constraint.FailMode)); err != nil {
			return fmt.Errorf("member '%s': unknown fail mode '%s'", memberId, constraint.FailMode)
		}
		for name, v := range map[string]*int{"minDp": constraint.MinDp, "minAd": constraint.MinAd, "minGq": constraint.MinGq} {
			if v != nil && *v < 0 {
				return fmt.Errorf("member '%s': negative %s threshold", memberId, name)
			}
		}
		if constraint.MinAb != nil && (*constraint.MinAb < 0 || *constraint.MinAb > 1) {
			return fmt.Errorf("member '%s': allele balance threshold outside [0,1]", memberId)
		}
	}

	known := map[string]bool{}
	for _, source := range knownSources {
		known[source] = true
	}
	for source, freq := range s.Frequency {
		if !known[source] {
			return fmt.Errorf("unknown population source '%s'", source)
		}
		if freq == nil {
			continue
		}
		if freq.MaxFrequency != nil && (*freq.MaxFrequency < 0 || *freq.MaxFrequency > 1) {
			return fmt.Errorf("source '%s': frequency ceiling outside [0,1]", source)
		}
		for name, v := range map[string]*int{
			"homozygous": freq.MaxHomozygous, "heterozygous": freq.MaxHeterozygous,
			"hemizygous": freq.MaxHemizygous, "carriers": freq.MaxCarriers,
		} {
			if v != nil && *v < 0 {
				return fmt.Errorf("source '%s': negative %s ceiling", source, name)
			}
		}
	}

	for _, region := range s.Locus.Regions {
		if !chromosome.IsValidHumanChromosome(region.Chrom) {
			return fmt.Errorf("region references invalid chromosome '%s'", region.Chrom)
		}
		if region.Start != nil && *region.Start < 1 {
			return fmt.Errorf("region on chromosome '%s': start below 1", region.Chrom)
		}
		if region.Start != nil && region.Stop != nil && *region.Stop < *region.Start {
			return fmt.Errorf("region on chromosome '%s': stop before start", region.Chrom)
		}
	}

	if s.Mode != inheritanceMode.Any && ped.Index() == nil {
		return fmt.Errorf("inheritance mode '%s' requires an affected index member with genotype data", s.Mode)
	}

	return nil
}

// NormalizedFailMode applies the documented default: members without an
// explicit fail mode behave as no-call
func (m *MemberConstraint) NormalizedFailMode() c.FailMode {
	if m.FailMode == "" {
		return failMode.NoCall
	}
	return m.FailMode
}
