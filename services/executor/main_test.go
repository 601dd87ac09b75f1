package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	inheritanceMode "github.com/varfish-org/varfish-server-sub005/models/constants/inheritance-mode"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
	"github.com/varfish-org/varfish-server-sub005/services/compiler"
	"github.com/varfish-org/varfish-server-sub005/services/predicates"
)

// fakeStore pages a fixed row slice with the store's search_after
// semantics: the cursor is the index of the last served row
type fakeStore struct {
	rows     []*indexes.VariantRow
	requests int
}

func (f *fakeStore) SearchVariantRows(ctx context.Context, plan *compiler.QueryPlan, searchAfter []interface{}, size int) ([]*indexes.VariantRow, []interface{}, error) {
	f.requests++

	start := 0
	if len(searchAfter) == 1 {
		start = searchAfter[0].(int) + 1
	}
	if start >= len(f.rows) {
		return nil, nil, nil
	}

	end := start + size
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[start:end], []interface{}{end - 1}, nil
}

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

func row(chrom string, pos int, probandGt, fatherGt, motherGt string) *indexes.VariantRow {
	return &indexes.VariantRow{
		CaseId: "case-1", Chrom: chrom, Pos: pos, Ref: "A", Alt: "T",
		Genotypes: map[string]indexes.MemberGenotype{
			"proband": {Gt: probandGt, Dp: 30, Ad: 15, Gq: 99},
			"father":  {Gt: fatherGt, Dp: 30, Ad: 15, Gq: 99},
			"mother":  {Gt: motherGt, Dp: 30, Ad: 15, Gq: 99},
		},
	}
}

func compile(t *testing.T, ped *pedigree.Pedigree, filterSettings *settings.FilterSettings, batchSize int) *compiler.QueryPlan {
	plan, err := compiler.Compile(ped, filterSettings, predicates.GeneSets{}, compiler.DefaultOutputOptions(), batchSize)
	assert.NoError(t, err)
	return plan
}

func TestExecuteFiltersAndOrders(t *testing.T) {
	ped := trio()
	store := &fakeStore{rows: []*indexes.VariantRow{
		// arrives out of coordinate order; chromosome 10 sorts after 2
		row("10", 50, "0/1", "0/0", "0/0"),
		row("2", 900, "0/1", "0/0", "0/0"),
		row("2", 100, "0/1", "0/1", "0/0"), // inherited, not de novo
		row("X", 10, "0/1", "0/0", "0/0"),
		row("2", 100, "0/1", "0/0", "0/0"),
	}}

	exec := NewExecutor(store, zap.NewNop().Sugar(), time.Minute)
	plan := compile(t, ped, &settings.FilterSettings{Mode: inheritanceMode.DeNovo}, 2)

	candidates, err := exec.Execute(context.Background(), plan, ped)
	assert.NoError(t, err)
	assert.Len(t, candidates, 4)

	// ordered by chromosome rank, then position
	assert.Equal(t, "2", candidates[0].Row.Chrom)
	assert.Equal(t, 100, candidates[0].Row.Pos)
	assert.Equal(t, 900, candidates[1].Row.Pos)
	assert.Equal(t, "10", candidates[2].Row.Chrom)
	assert.Equal(t, "X", candidates[3].Row.Chrom)

	// batch size 2 over 5 rows means at least three fetches
	assert.GreaterOrEqual(t, store.requests, 3)
}

func TestExecuteIsDeterministic(t *testing.T) {
	ped := trio()
	rows := []*indexes.VariantRow{
		row("7", 300, "1/1", "0/1", "0/1"),
		row("1", 200, "1/1", "0/1", "0/1"),
		row("1", 100, "1/1", "0/1", "0/1"),
	}

	plan := compile(t, ped, &settings.FilterSettings{Mode: inheritanceMode.Recessive}, 10)

	var firstRun []int
	for attempt := 0; attempt < 3; attempt++ {
		exec := NewExecutor(&fakeStore{rows: rows}, zap.NewNop().Sugar(), time.Minute)
		candidates, err := exec.Execute(context.Background(), plan, ped)
		assert.NoError(t, err)

		positions := []int{}
		for _, candidate := range candidates {
			positions = append(positions, candidate.Row.Pos)
		}
		if attempt == 0 {
			firstRun = positions
			assert.Equal(t, []int{100, 200, 300}, positions)
		} else {
			assert.Equal(t, firstRun, positions)
		}
	}
}

func TestExecuteCompoundHetSecondPass(t *testing.T) {
	ped := trio()
	withGene := func(r *indexes.VariantRow) *indexes.VariantRow {
		r.Transcripts = []indexes.TranscriptAnnotation{{GeneId: "GENE-A", Coding: true}}
		return r
	}
	store := &fakeStore{rows: []*indexes.VariantRow{
		withGene(row("4", 100, "0/1", "0/1", "0/0")),
		withGene(row("4", 200, "0/1", "0/0", "0/1")),
		withGene(row("4", 300, "0/1", "0/1", "0/1")), // both parents carry, unpairable
	}}

	exec := NewExecutor(store, zap.NewNop().Sugar(), time.Minute)
	plan := compile(t, ped, &settings.FilterSettings{Mode: inheritanceMode.CompoundHetRecessive}, 10)

	candidates, err := exec.Execute(context.Background(), plan, ped)
	assert.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, 100, candidates[0].Row.Pos)
	assert.Equal(t, 200, candidates[1].Row.Pos)
}

func TestExecuteTimeout(t *testing.T) {
	ped := trio()
	store := &fakeStore{rows: []*indexes.VariantRow{row("1", 100, "0/1", "0/0", "0/0")}}

	// a zero ceiling expires before the first batch
	exec := NewExecutor(store, zap.NewNop().Sugar(), 0)
	plan := compile(t, ped, &settings.FilterSettings{Mode: inheritanceMode.Any}, 10)

	time.Sleep(time.Millisecond)
	_, err := exec.Execute(context.Background(), plan, ped)
	assert.ErrorIs(t, err, ErrExecutionTimeout)
}

func TestExecuteCancellation(t *testing.T) {
	ped := trio()
	store := &fakeStore{rows: []*indexes.VariantRow{row("1", 100, "0/1", "0/0", "0/0")}}

	exec := NewExecutor(store, zap.NewNop().Sugar(), time.Minute)
	plan := compile(t, ped, &settings.FilterSettings{Mode: inheritanceMode.Any}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, plan, ped)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteAppliesResidualPredicates(t *testing.T) {
	ped := trio()
	maxFrequency := 0.001

	common := row("5", 100, "0/1", "0/0", "0/0")
	common.Frequencies = map[string]indexes.FrequencyAnnotation{
		"gnomad_exomes": {Frequency: 0.2},
	}
	rare := row("5", 200, "0/1", "0/0", "0/0")

	store := &fakeStore{rows: []*indexes.VariantRow{common, rare}}
	exec := NewExecutor(store, zap.NewNop().Sugar(), time.Minute)
	plan := compile(t, ped, &settings.FilterSettings{
		Mode: inheritanceMode.Any,
		Frequency: map[string]*settings.FrequencySettings{
			"gnomad_exomes": {Enabled: true, MaxFrequency: &maxFrequency},
		},
	}, 10)

	candidates, err := exec.Execute(context.Background(), plan, ped)
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, 200, candidates[0].Row.Pos)
}
