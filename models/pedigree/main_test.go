package pedigree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validTrio() *Pedigree {
	return &Pedigree{
		CaseId: "case-1",
		Members: []*Member{
			{Id: "proband", FatherId: "father", MotherId: "mother",
				Sex: SexFemale, Affected: AffectedYes, HasGenotypeData: true},
			{Id: "father", Sex: SexMale, Affected: AffectedNo, HasGenotypeData: true},
			{Id: "mother", Sex: SexFemale, Affected: AffectedNo, HasGenotypeData: true},
		},
	}
}

func TestValidateAcceptsTrio(t *testing.T) {
	assert.NoError(t, validTrio().Validate())
}

func TestValidateRejectsDuplicateIds(t *testing.T) {
	ped := validTrio()
	ped.Members = append(ped.Members, &Member{Id: "father", Sex: SexMale})
	assert.Error(t, ped.Validate())
}

func TestValidateRejectsUnknownParent(t *testing.T) {
	ped := validTrio()
	ped.Members[0].FatherId = "grandfather"
	assert.Error(t, ped.Validate())
}

func TestValidateRejectsInconsistentParentSex(t *testing.T) {
	ped := validTrio()
	ped.Member("father").Sex = SexFemale
	assert.Error(t, ped.Validate())
}

func TestValidateRejectsParentCycle(t *testing.T) {
	ped := &Pedigree{
		CaseId: "case-1",
		Members: []*Member{
			{Id: "a", FatherId: "b", Sex: SexMale},
			{Id: "b", FatherId: "a", Sex: SexMale},
		},
	}
	assert.Error(t, ped.Validate())
}

func TestValidateAcceptsSharedAncestor(t *testing.T) {
	// both parents descend from the same grandfather; not a cycle
	ped := &Pedigree{
		CaseId: "case-1",
		Members: []*Member{
			{Id: "grandfather", Sex: SexMale},
			{Id: "father", FatherId: "grandfather", Sex: SexMale},
			{Id: "mother", FatherId: "grandfather", Sex: SexFemale},
			{Id: "proband", FatherId: "father", MotherId: "mother", Sex: SexMale},
		},
	}
	assert.NoError(t, ped.Validate())
}

func TestFounderParentReferences(t *testing.T) {
	ped := validTrio()
	assert.True(t, ped.Member("father").IsFounder())
	assert.False(t, ped.Member("proband").IsFounder())

	// "0" parent references behave like absent parents
	ped.Member("father").FatherId = NoParent
	assert.NoError(t, ped.Validate())
	assert.True(t, ped.Member("father").IsFounder())
}

func TestIndexSelection(t *testing.T) {
	ped := validTrio()
	assert.Equal(t, "proband", ped.Index().Id)

	// an affected member without genotype data cannot be the index
	ped.Member("proband").HasGenotypeData = false
	assert.Nil(t, ped.Index())

	ped.Member("mother").Affected = AffectedYes
	assert.Equal(t, "mother", ped.Index().Id)
}

func TestFatherAndMotherLookup(t *testing.T) {
	ped := validTrio()
	proband := ped.Member("proband")

	assert.Equal(t, "father", ped.Father(proband).Id)
	assert.Equal(t, "mother", ped.Mother(proband).Id)
	assert.Nil(t, ped.Father(ped.Member("father")))
	assert.Nil(t, ped.Father(nil))
}
