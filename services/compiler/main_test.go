package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	c "github.com/varfish-org/varfish-server-sub005/models/constants"
	inheritanceMode "github.com/varfish-org/varfish-server-sub005/models/constants/inheritance-mode"
	variantType "github.com/varfish-org/varfish-server-sub005/models/constants/variant-type"
	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
	"github.com/varfish-org/varfish-server-sub005/services/predicates"
)

func trio() *pedigree.Pedigree {
	return &pedigree.Pedigree{
		CaseId: "case-1",
		Members: []*pedigree.Member{
			{Id: "proband", FatherId: "father", MotherId: "mother",
				Sex: pedigree.SexMale, Affected: pedigree.AffectedYes, HasGenotypeData: true},
			{Id: "father", Sex: pedigree.SexMale, Affected: pedigree.AffectedNo, HasGenotypeData: true},
			{Id: "mother", Sex: pedigree.SexFemale, Affected: pedigree.AffectedNo, HasGenotypeData: true},
		},
	}
}

func TestCompileRejectsInvalidSettings(t *testing.T) {
	filterSettings := &settings.FilterSettings{Mode: "sideways"}
	_, err := Compile(trio(), filterSettings, predicates.GeneSets{}, DefaultOutputOptions(), 1000)
	assert.ErrorIs(t, err, ErrInvalidFilterSettings)

	// constraints must reference pedigree members
	filterSettings = &settings.FilterSettings{
		Mode:     inheritanceMode.Any,
		Genotype: map[string]*settings.MemberConstraint{"stranger": {}},
	}
	_, err = Compile(trio(), filterSettings, predicates.GeneSets{}, DefaultOutputOptions(), 1000)
	assert.ErrorIs(t, err, ErrInvalidFilterSettings)
}

func TestCompileBuildsPlan(t *testing.T) {
	maxFrequency := 0.01
	filterSettings := &settings.FilterSettings{
		Mode: inheritanceMode.DeNovo,
		Genotype: map[string]*settings.MemberConstraint{
			"proband": {},
		},
		Frequency: map[string]*settings.FrequencySettings{
			"gnomad_exomes": {Enabled: true, MaxFrequency: &maxFrequency},
		},
		Consequence: settings.ConsequenceSettings{
			Terms: []string{"stop_gained", "missense_variant"},
		},
	}

	plan, err := Compile(trio(), filterSettings, predicates.GeneSets{}, DefaultOutputOptions(), 500)
	assert.NoError(t, err)

	assert.Equal(t, "case-1", plan.CaseId)
	assert.Equal(t, inheritanceMode.DeNovo, plan.Mode)
	assert.Equal(t, 500, plan.BatchSize)
	assert.True(t, plan.Joins.Flags)
	assert.NotNil(t, plan.Residual)
	assert.Contains(t, plan.Constraints, "proband")

	// pushdown carries the sorted consequence terms and the ceilings
	assert.Equal(t, []string{"missense_variant", "stop_gained"}, plan.Pushdown.ConsequenceTerms)
	assert.Len(t, plan.Pushdown.Frequency, 1)
	assert.Empty(t, plan.Pushdown.Chromosomes)
}

func TestCompilePushesDownXForXRecessive(t *testing.T) {
	filterSettings := &settings.FilterSettings{Mode: inheritanceMode.XRecessive}

	plan, err := Compile(trio(), filterSettings, predicates.GeneSets{}, DefaultOutputOptions(), 1000)
	assert.NoError(t, err)
	assert.Equal(t, []string{"X"}, plan.Pushdown.Chromosomes)
}

func TestCompileDerivesChromosomesFromPureRegionQuery(t *testing.T) {
	start, stop := 1000, 2000
	filterSettings := &settings.FilterSettings{
		Mode: inheritanceMode.Any,
		Locus: settings.LocusSettings{
			Regions: []settings.Region{
				{Chrom: "chr2", Start: &start, Stop: &stop},
				{Chrom: "2", Start: &start, Stop: &stop},
				{Chrom: "X", Start: &start, Stop: &stop},
			},
		},
	}

	plan, err := Compile(trio(), filterSettings, predicates.GeneSets{}, DefaultOutputOptions(), 1000)
	assert.NoError(t, err)
	assert.Equal(t, []string{"2", "X"}, plan.Pushdown.Chromosomes)
}

func TestCompileSortsAllowedGeneIds(t *testing.T) {
	genes := predicates.GeneSets{
		Allow: map[string]bool{"GENE-C": true, "GENE-A": true, "GENE-B": true},
	}
	filterSettings := &settings.FilterSettings{Mode: inheritanceMode.Any}

	plan, err := Compile(trio(), filterSettings, genes, DefaultOutputOptions(), 1000)
	assert.NoError(t, err)
	assert.Equal(t, []string{"GENE-A", "GENE-B", "GENE-C"}, plan.Pushdown.AllowGeneIds)
	assert.False(t, plan.Residual.Locus.WholeGenome)
}

func TestCompileVariantTypePushdown(t *testing.T) {
	filterSettings := &settings.FilterSettings{
		Mode: inheritanceMode.Any,
		Consequence: settings.ConsequenceSettings{
			VariantTypes: []c.VariantType{variantType.Indel, variantType.Snv},
		},
	}

	plan, err := Compile(trio(), filterSettings, predicates.GeneSets{}, DefaultOutputOptions(), 1000)
	assert.NoError(t, err)
	assert.Equal(t, []string{string(variantType.Indel), string(variantType.Snv)},
		[]string{string(plan.Pushdown.VariantTypes[0]), string(plan.Pushdown.VariantTypes[1])})
}
