package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/varfish-org/varfish-server-sub005/models"
	"github.com/varfish-org/varfish-server-sub005/models/constants/zygosity"
	"github.com/varfish-org/varfish-server-sub005/models/queries"
	"github.com/varfish-org/varfish-server-sub005/repositories/resultstore"
	"github.com/varfish-org/varfish-server-sub005/services/compiler"
	"github.com/varfish-org/varfish-server-sub005/services/executor"
	"github.com/varfish-org/varfish-server-sub005/services/genotype"
	"github.com/varfish-org/varfish-server-sub005/services/predicates"
)

// ErrConcurrentExecutionConflict rejects a submission while another
// execution for the same case is still queued or running
var ErrConcurrentExecutionConflict = errors.New("another query execution for this case is still in flight")

var ErrExecutionNotFound = resultstore.ErrExecutionNotFound

// pendingWork carries the submission-time collaborator output the
// worker needs but the store does not persist
type pendingWork struct {
	execution *queries.QueryExecution
	genes     predicates.GeneSets
	output    compiler.OutputOptions
}

type (
	// ResultSetManager drives the execution state machine. Submissions
	// flow through the worker pool; ExecutionMapMux guards both the map
	// and the fields of every execution it holds, so a state can only
	// change inside the critical section and status reads hand out
	// snapshots instead of the live record.
	ResultSetManager struct {
		Initialized     bool
		ExecutionMap    map[string]*queries.QueryExecution
		ExecutionMapMux sync.RWMutex

		Store    *resultstore.Store
		Executor *executor.Executor
		Logger   *zap.SugaredLogger

		pool      *ants.Pool
		scheduler *gocron.Scheduler

		cancelFuncs    map[string]context.CancelFunc
		cancelFuncsMux sync.Mutex
	}
)

func NewResultSetManager(cfg *models.Config, store *resultstore.Store, variants executor.VariantReader, logger *zap.SugaredLogger) (*ResultSetManager, error) {
	pool, err := ants.NewPool(cfg.Api.WorkerCount)
	if err != nil {
		return nil, fmt.Errorf("creating query worker pool: %w", err)
	}

	// executions a previous process left behind can never progress
	interrupted, err := store.FailInterruptedExecutions()
	if err != nil {
		return nil, fmt.Errorf("sweeping interrupted executions: %w", err)
	}
	if interrupted > 0 {
		logger.Infow("failed executions interrupted by restart", "count", interrupted)
	}

	m := &ResultSetManager{
		ExecutionMap: map[string]*queries.QueryExecution{},
		Store:        store,
		Executor: executor.NewExecutor(variants, logger,
			time.Duration(cfg.Api.QueryTimeoutSecs)*time.Second),
		Logger:      logger,
		pool:        pool,
		cancelFuncs: map[string]context.CancelFunc{},
	}

	m.Init(cfg.Api.RepairCronTimeUtc)

	return m, nil
}

func (m *ResultSetManager) Init(repairCronTimeUtc string) {
	// safeguard to prevent multiple initializations
	if m.Initialized {
		return
	}

	// nightly re-derivation of the denormalized annotation counts
	m.scheduler = gocron.NewScheduler(time.UTC)
	m.scheduler.Every(1).Day().At(repairCronTimeUtc).Do(func() {
		m.Logger.Infow("starting scheduled result set repair")
		m.Repair()
	})
	m.scheduler.StartAsync()

	m.Initialized = true
}

// Shutdown stops accepting work; executions already running finish on
// their own and record their terminal state as usual
func (m *ResultSetManager) Shutdown() {
	m.scheduler.Stop()
	m.pool.Release()
}

// Submit accepts one validated execution, persists it as Queued and
// hands it to the worker pool. At most one execution per case may be in
// flight; a conflicting submission is rejected without side effects.
func (m *ResultSetManager) Submit(execution *queries.QueryExecution, genes predicates.GeneSets, output compiler.OutputOptions, batchSize int) error {
	m.ExecutionMapMux.Lock()
	for _, existing := range m.ExecutionMap {
		if existing.CaseId == execution.CaseId && !existing.State.IsTerminal() {
			m.ExecutionMapMux.Unlock()
			return ErrConcurrentExecutionConflict
		}
	}
	execution.State = queries.Queued
	execution.CreatedAt = time.Now()
	m.ExecutionMap[execution.Id.String()] = execution
	m.ExecutionMapMux.Unlock()

	if err := m.Store.CreateExecution(execution); err != nil {
		m.ExecutionMapMux.Lock()
		delete(m.ExecutionMap, execution.Id.String())
		m.ExecutionMapMux.Unlock()
		return fmt.Errorf("persisting queued execution: %w", err)
	}

	work := &pendingWork{execution: execution, genes: genes, output: output}
	if err := m.pool.Submit(func() { m.run(work, batchSize) }); err != nil {
		m.transition(execution, queries.Failed, "worker pool rejected the execution")
		return fmt.Errorf("scheduling execution: %w", err)
	}

	m.Logger.Infow("query execution queued",
		"executionId", execution.Id.String(), "caseId", execution.CaseId)
	return nil
}

// transition persists one state change and applies it to the shared
// record inside the critical section
func (m *ResultSetManager) transition(execution *queries.QueryExecution, state queries.State, message string) {
	m.ExecutionMapMux.Lock()
	m.applyTransition(execution, state, message)
	m.ExecutionMapMux.Unlock()
}

// applyTransition requires ExecutionMapMux to be held for writing
func (m *ResultSetManager) applyTransition(execution *queries.QueryExecution, state queries.State, message string) {
	if err := m.Store.UpdateExecutionState(execution.Id, state, message); err != nil {
		m.Logger.Errorw("persisting state transition failed",
			"executionId", execution.Id.String(), "state", state, "error", err)
	}

	execution.State = state
	execution.Message = message
	switch state {
	case queries.Running:
		execution.StartedAt = time.Now()
	case queries.Failed, queries.Cancelled:
		execution.FinishedAt = time.Now()
		if !execution.StartedAt.IsZero() {
			execution.ElapsedSeconds = execution.FinishedAt.Sub(execution.StartedAt).Seconds()
		}
	}

	m.ExecutionMap[execution.Id.String()] = execution
}

// claimRunning flips Queued to Running; the check and the flip share
// one critical section with the queued-cancellation path in Cancel, so
// exactly one of the two wins
func (m *ResultSetManager) claimRunning(execution *queries.QueryExecution) bool {
	m.ExecutionMapMux.Lock()
	defer m.ExecutionMapMux.Unlock()

	if execution.State != queries.Queued {
		return false
	}
	m.applyTransition(execution, queries.Running, "")
	return true
}

func (m *ResultSetManager) run(work *pendingWork, batchSize int) {
	execution := work.execution

	// the context is registered before the Running claim so a Cancel
	// that observes Running always finds the function to call
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFuncsMux.Lock()
	m.cancelFuncs[execution.Id.String()] = cancel
	m.cancelFuncsMux.Unlock()
	defer func() {
		cancel()
		m.cancelFuncsMux.Lock()
		delete(m.cancelFuncs, execution.Id.String())
		m.cancelFuncsMux.Unlock()
	}()

	// a cancellation that landed while the work sat in the queue leaves
	// the execution terminal and the claim refused
	if !m.claimRunning(execution) {
		return
	}

	plan, err := compiler.Compile(execution.Pedigree, execution.Settings, work.genes, work.output, batchSize)
	if err != nil {
		m.transition(execution, queries.Failed, err.Error())
		return
	}

	candidates, err := m.Executor.Execute(ctx, plan, execution.Pedigree)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			m.transition(execution, queries.Cancelled, "cancelled by request")
		case errors.Is(err, executor.ErrExecutionTimeout):
			m.transition(execution, queries.Failed, err.Error())
		default:
			m.transition(execution, queries.Failed, err.Error())
		}
		return
	}

	resultRows, err := materializeRows(candidates)
	if err != nil {
		m.transition(execution, queries.Failed, err.Error())
		return
	}

	resultSetId, err := m.Store.CommitResultSet(execution, resultRows, plan.Joins)
	if err != nil {
		m.transition(execution, queries.Failed, fmt.Sprintf("committing result set: %s", err.Error()))
		return
	}

	m.ExecutionMapMux.Lock()
	execution.State = queries.Done
	execution.Message = ""
	execution.ResultSetId = resultSetId
	execution.FinishedAt = time.Now()
	execution.ElapsedSeconds = execution.FinishedAt.Sub(execution.StartedAt).Seconds()
	elapsedSeconds := execution.ElapsedSeconds
	m.ExecutionMapMux.Unlock()

	m.Logger.Infow("query execution done",
		"executionId", execution.Id.String(), "caseId", execution.CaseId,
		"resultSetId", resultSetId.String(), "rowCount", len(resultRows),
		"elapsedSeconds", elapsedSeconds)
}

// materializeRows freezes the ordered candidates into result rows; the
// payload denormalizes the annotations and the effective per-member
// calls so pages render without another store round trip
func materializeRows(candidates []*genotype.Candidate) ([]queries.ResultRow, error) {
	resultRows := make([]queries.ResultRow, 0, len(candidates))
	for rank, candidate := range candidates {
		calls := map[string]string{}
		for memberId, call := range candidate.Calls {
			calls[memberId] = zygosity.ZygosityToString(call)
		}

		payload, err := json.Marshal(map[string]interface{}{
			"variant": candidate.Row,
			"calls":   calls,
		})
		if err != nil {
			return nil, fmt.Errorf("marshalling result row payload: %w", err)
		}

		resultRows = append(resultRows, queries.ResultRow{
			Rank:    rank,
			Chrom:   candidate.Row.Chrom,
			Pos:     candidate.Row.Pos,
			Ref:     candidate.Row.Ref,
			Alt:     candidate.Row.Alt,
			Payload: string(payload),
		})
	}
	return resultRows, nil
}

// Cancel stops one execution. Queued work flips to Cancelled under the
// same lock the Running claim takes, so a cancelled execution can never
// start; running work is signalled through its context and acknowledges
// at the next batch boundary. Cancelling a terminal execution is a
// no-op.
func (m *ResultSetManager) Cancel(id uuid.UUID) error {
	m.ExecutionMapMux.Lock()
	execution, present := m.ExecutionMap[id.String()]
	if present {
		if execution.State.IsTerminal() {
			m.ExecutionMapMux.Unlock()
			return nil
		}
		if execution.State == queries.Queued {
			m.applyTransition(execution, queries.Cancelled, "cancelled before start")
			m.ExecutionMapMux.Unlock()
			return nil
		}
	}
	m.ExecutionMapMux.Unlock()

	if !present {
		// executions from earlier process lifetimes are terminal after
		// the startup sweep
		_, err := m.Store.GetExecution(id)
		return err
	}

	m.cancelFuncsMux.Lock()
	cancel := m.cancelFuncs[id.String()]
	m.cancelFuncsMux.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// GetExecution serves status reads as snapshots taken under the map
// lock and falls back to the store for executions from earlier process
// lifetimes
func (m *ResultSetManager) GetExecution(id uuid.UUID) (*queries.QueryExecution, error) {
	m.ExecutionMapMux.RLock()
	execution, present := m.ExecutionMap[id.String()]
	if present {
		snapshot := *execution
		m.ExecutionMapMux.RUnlock()
		return &snapshot, nil
	}
	m.ExecutionMapMux.RUnlock()
	return m.Store.GetExecution(id)
}

func (m *ResultSetManager) ListExecutions(caseId string) ([]*queries.QueryExecution, error) {
	return m.Store.ListExecutions(caseId)
}

func (m *ResultSetManager) GetResultSet(id uuid.UUID) (*queries.ResultSet, error) {
	return m.Store.GetResultSet(id)
}

func (m *ResultSetManager) ListRows(resultSetId uuid.UUID, cursor string, pageSize int) ([]queries.ResultRow, string, error) {
	return m.Store.ListRows(resultSetId, cursor, pageSize)
}

func (m *ResultSetManager) PromoteCaseDefault(caseId string, resultSetId uuid.UUID) error {
	return m.Store.PromoteCaseDefault(caseId, resultSetId)
}

// Repair re-derives the annotation counts of every committed result
// set; each run is idempotent and failures never stop the sweep
func (m *ResultSetManager) Repair() {
	ids, err := m.Store.ListCommittedResultSetIds()
	if err != nil {
		m.Logger.Errorw("listing result sets for repair failed", "error", err)
		return
	}

	repaired := 0
	for _, id := range ids {
		if err := m.Store.RepairAnnotationCounts(id); err != nil {
			m.Logger.Errorw("result set repair failed",
				"resultSetId", id.String(), "error", err)
			continue
		}
		repaired++
	}

	m.Logger.Infow("result set repair finished",
		"resultSets", len(ids), "repaired", repaired)
}
