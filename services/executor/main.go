package executor

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/varfish-org/varfish-server-sub005/models/constants/chromosome"
	inheritanceMode "github.com/varfish-org/varfish-server-sub005/models/constants/inheritance-mode"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/services/compiler"
	"github.com/varfish-org/varfish-server-sub005/services/genotype"
)

// ErrExecutionTimeout marks an execution that exceeded the configured
// wall-clock ceiling; partial results are never reported
var ErrExecutionTimeout = errors.New("query execution exceeded the wall-clock ceiling")

// VariantReader is the variant store read interface: one deterministic,
// restartable batch per call. The Elasticsearch repository implements
// it with predicate pushdown; tests substitute an in-memory store with
// identical semantics.
type VariantReader interface {
	SearchVariantRows(ctx context.Context, plan *compiler.QueryPlan, searchAfter []interface{}, size int) ([]*indexes.VariantRow, []interface{}, error)
}

type Executor struct {
	Store   VariantReader
	Logger  *zap.SugaredLogger
	Timeout time.Duration
}

func NewExecutor(store VariantReader, logger *zap.SugaredLogger, timeout time.Duration) *Executor {
	return &Executor{Store: store, Logger: logger, Timeout: timeout}
}

// Execute runs the compiled plan against the store and returns the
// ordered candidate set. Read-only: persistence is the caller's
// responsibility. Cancellation and the deadline are polled at row-batch
// boundaries, never mid-row.
func (e *Executor) Execute(ctx context.Context, plan *compiler.QueryPlan, ped *pedigree.Pedigree) ([]*genotype.Candidate, error) {
	deadline := time.Now().Add(e.Timeout)
	batchSize := plan.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	group, groupCtx := errgroup.WithContext(ctx)
	batches := make(chan []*indexes.VariantRow, 2)

	// producer: drain the store batch by batch
	group.Go(func() error {
		defer close(batches)

		var searchAfter []interface{}
		for {
			if time.Now().After(deadline) {
				return ErrExecutionTimeout
			}
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			default:
			}

			rows, nextSearchAfter, err := e.Store.SearchVariantRows(groupCtx, plan, searchAfter, batchSize)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}

			select {
			case batches <- rows:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}

			if len(rows) < batchSize || nextSearchAfter == nil {
				return nil
			}
			searchAfter = nextSearchAfter
		}
	})

	// consumer: residual filtering with semantics identical to the
	// pushed-down predicates, plus the genotype/inheritance logic
	candidates := []*genotype.Candidate{}
	group.Go(func() error {
		for batch := range batches {
			for _, row := range batch {
				if !plan.Residual.MatchesAnnotations(row) {
					continue
				}

				calls, keep := genotype.EffectiveCalls(row, ped, plan.Constraints)
				if !keep {
					continue
				}
				if !genotype.MatchesMode(plan.Mode, ped, row, calls) {
					continue
				}

				candidates = append(candidates, &genotype.Candidate{Row: row, Calls: calls})
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	// cross-row pass for the one mode that needs it
	if plan.Mode == inheritanceMode.CompoundHetRecessive {
		before := len(candidates)
		candidates = genotype.PairCompoundHeterozygous(ped, candidates)
		e.Logger.Debugw("compound-heterozygous pairing finished",
			"caseId", plan.CaseId, "candidatesIn", before, "candidatesOut", len(candidates))
	}

	// fixed deterministic order: genomic coordinate, then alleles
	sort.SliceStable(candidates, func(i, j int) bool {
		first, second := candidates[i].Row, candidates[j].Row
		firstRank, secondRank := chromosome.Rank(first.Chrom), chromosome.Rank(second.Chrom)
		if firstRank != secondRank {
			return firstRank < secondRank
		}
		if first.Pos != second.Pos {
			return first.Pos < second.Pos
		}
		if first.Ref != second.Ref {
			return first.Ref < second.Ref
		}
		return first.Alt < second.Alt
	})

	return candidates, nil
}
